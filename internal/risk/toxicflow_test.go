package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/pkg/logging"
)

func newTestGuard(t *testing.T) *ToxicFlowGuard {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ToxicFlow.VelocityThreshold = 50 // units per second
	cfg.ToxicFlow.WindowMS = 1000
	cfg.ToxicFlow.CooldownS = 30
	return NewToxicFlowGuard(cfg, logging.NewLogger(logging.ErrorLevel, nil))
}

func sampleAt(price float64, at time.Time) core.PriceSample {
	return core.PriceSample{Price: decimal.NewFromFloat(price), At: at}
}

func TestGuard_TripsAboveThreshold(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	// 60 units over one second against a 50/s threshold.
	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(100060, base.Add(time.Second)))

	assert.True(t, g.Tripped())
	assert.True(t, g.Velocity().GreaterThan(decimal.NewFromInt(50)))
}

func TestGuard_StaysClosedUnderThreshold(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(100040, base.Add(time.Second)))

	assert.False(t, g.Tripped())
}

func TestGuard_DirectionDoesNotMatter(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(99930, base.Add(time.Second)))

	assert.True(t, g.Tripped())
}

func TestGuard_RecoversOnlyAfterFullCooldown(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(100100, base.Add(time.Second)))
	require.True(t, g.Tripped())

	// Price goes quiet; guard stays tripped through the cooldown.
	at := base.Add(time.Second)
	for i := 0; i < 29; i++ {
		at = at.Add(time.Second)
		g.Observe(sampleAt(100100, at))
		assert.True(t, g.Tripped(), "still inside cooldown at +%ds", i+1)
	}

	// One more calm second completes the 30s cooldown.
	g.Observe(sampleAt(100100, at.Add(2*time.Second)))
	assert.False(t, g.Tripped())
}

func TestGuard_SpikeDuringCooldownRestartsClock(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(100100, base.Add(time.Second)))
	require.True(t, g.Tripped())

	// 20 calm seconds, then another spike.
	at := base.Add(21 * time.Second)
	g.Observe(sampleAt(100100, at))
	require.True(t, g.Tripped())
	g.Observe(sampleAt(100200, at.Add(time.Second)))
	require.True(t, g.Tripped())

	// The calm clock restarted at the spike: 29 calm seconds after it is
	// still short of a fresh cooldown.
	calm := at.Add(2 * time.Second)
	g.Observe(sampleAt(100200, calm))
	g.Observe(sampleAt(100200, calm.Add(29*time.Second)))
	assert.True(t, g.Tripped())

	g.Observe(sampleAt(100200, calm.Add(31*time.Second)))
	assert.False(t, g.Tripped())
}

func TestGuard_WindowPrunesOldSamples(t *testing.T) {
	g := newTestGuard(t)
	base := time.Now()

	// A large move long ago must not count against the trailing window.
	g.Observe(sampleAt(100000, base))
	g.Observe(sampleAt(100500, base.Add(10*time.Second)))
	g.Observe(sampleAt(100510, base.Add(11*time.Second)))

	assert.False(t, g.Tripped())
}
