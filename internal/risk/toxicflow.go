package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/pkg/telemetry"
)

// ToxicFlowGuard trips when the underlying reference price moves faster
// than the configured velocity over a short trailing window. While tripped
// the loop cancels resting orders on the underlying and admits nothing;
// the trip clears only after the velocity has stayed under threshold for
// the full cooldown. The guard is a pure safety circuit and is checked
// before, and independently of, risk admission.
type ToxicFlowGuard struct {
	logger     core.ILogger
	underlying string
	threshold  decimal.Decimal // units per second
	window     time.Duration
	cooldown   time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	samples   []core.PriceSample
	tripped   bool
	trippedAt time.Time
	calmSince time.Time
}

// NewToxicFlowGuard creates a guard from the toxic flow configuration.
func NewToxicFlowGuard(cfg *config.Config, logger core.ILogger) *ToxicFlowGuard {
	return &ToxicFlowGuard{
		logger:     logger.WithField("component", "toxic_flow_guard"),
		underlying: cfg.ToxicFlow.Underlying,
		threshold:  decimal.NewFromFloat(cfg.ToxicFlow.VelocityThreshold),
		window:     time.Duration(cfg.ToxicFlow.WindowMS) * time.Millisecond,
		cooldown:   time.Duration(cfg.ToxicFlow.CooldownS) * time.Second,
		now:        time.Now,
	}
}

// Underlying returns the reference symbol the guard watches.
func (g *ToxicFlowGuard) Underlying() string { return g.underlying }

// Observe records one reference price sample and re-evaluates the trip
// condition.
func (g *ToxicFlowGuard) Observe(sample core.PriceSample) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.samples = append(g.samples, sample)
	g.pruneLocked(sample.At)

	velocity := g.velocityLocked()
	over := velocity.GreaterThan(g.threshold)

	switch {
	case over && !g.tripped:
		g.tripped = true
		g.trippedAt = sample.At
		g.calmSince = time.Time{}
		g.logger.Warn("Toxic flow guard tripped",
			"underlying", g.underlying,
			"velocity", velocity.String(),
			"threshold", g.threshold.String())
		telemetry.GetGlobalMetrics().SetToxicFlowTripped(g.underlying, true)

	case over && g.tripped:
		// Still moving: restart the calm clock.
		g.calmSince = time.Time{}

	case !over && g.tripped:
		if g.calmSince.IsZero() {
			g.calmSince = sample.At
		}
		if sample.At.Sub(g.calmSince) >= g.cooldown {
			g.tripped = false
			g.logger.Info("Toxic flow guard recovered",
				"underlying", g.underlying,
				"tripped_for", sample.At.Sub(g.trippedAt).String())
			telemetry.GetGlobalMetrics().SetToxicFlowTripped(g.underlying, false)
		}
	}
}

// Tripped reports whether new-order admission is currently suppressed.
func (g *ToxicFlowGuard) Tripped() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tripped
}

// Velocity returns the current absolute price velocity in units per second.
func (g *ToxicFlowGuard) Velocity() decimal.Decimal {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.velocityLocked()
}

// velocityLocked computes |newest - oldest| / elapsed over the window.
func (g *ToxicFlowGuard) velocityLocked() decimal.Decimal {
	if len(g.samples) < 2 {
		return decimal.Zero
	}
	oldest := g.samples[0]
	newest := g.samples[len(g.samples)-1]
	elapsed := newest.At.Sub(oldest.At).Seconds()
	if elapsed <= 0 {
		return decimal.Zero
	}
	delta := newest.Price.Sub(oldest.Price).Abs()
	return delta.Div(decimal.NewFromFloat(elapsed)).Round(6)
}

func (g *ToxicFlowGuard) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.samples)-1 && g.samples[i].At.Before(cutoff) {
		i++
	}
	g.samples = g.samples[i:]
}
