package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/core"
	"pred_trader/pkg/logging"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")
	store, err := NewFileStore(path, logging.NewLogger(logging.ErrorLevel, nil))
	require.NoError(t, err)
	return store
}

func TestFileStore_ReadBeforeFirstWrite(t *testing.T) {
	store := newTestFileStore(t)

	snap, err := store.Read()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, core.ModeNormal, snap.Mode)
	assert.Empty(t, snap.Orders)
}

func TestFileStore_WriteReadRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	snap := core.NewSnapshot()
	snap.Version = 7
	snap.Mode = core.ModeDefensive
	snap.Account.Balance = decimal.NewFromFloat(1234.56)
	snap.Orders["ord-1"] = &core.Order{
		ClientID: "ord-1",
		MarketID: "BTC-100K",
		Side:     core.SideYes,
		Price:    decimal.NewFromFloat(0.45),
		Quantity: decimal.NewFromInt(10),
		State:    core.OrderSubmitted,
	}
	snap.Positions["BTC-100K/yes"] = &core.Position{
		MarketID: "BTC-100K",
		Side:     core.SideYes,
		Quantity: decimal.NewFromInt(5),
		AvgPrice: decimal.NewFromFloat(0.44),
	}

	require.NoError(t, store.Write(ctx, snap))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, core.ModeDefensive, got.Mode)
	assert.True(t, got.Account.Balance.Equal(decimal.NewFromFloat(1234.56)))
	require.Contains(t, got.Orders, "ord-1")
	assert.Equal(t, core.OrderSubmitted, got.Orders["ord-1"].State)
	require.Contains(t, got.Positions, "BTC-100K/yes")
	assert.True(t, got.Positions["BTC-100K/yes"].AvgPrice.Equal(decimal.NewFromFloat(0.44)))
}

func TestFileStore_CorruptDocumentFailsClosed(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	snap := core.NewSnapshot()
	snap.Account.Balance = decimal.NewFromInt(500)
	require.NoError(t, store.Write(ctx, snap))

	// Populate lastGood via a clean read, then corrupt the document.
	_, err := store.Read()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.path, []byte(`{"checksum":"dead","snapshot":{}}`), 0o644))

	got, err := store.Read()
	require.NoError(t, err)
	assert.True(t, got.Account.Balance.Equal(decimal.NewFromInt(500)),
		"corrupt read must serve the last known-good snapshot")
}

func TestFileStore_CorruptDocumentNoFallbackErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store, err := NewFileStore(path, logging.NewLogger(logging.ErrorLevel, nil))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	_, err = store.Read()
	assert.Error(t, err, "corruption with no known-good copy must not yield an empty snapshot")
}

func TestFileStore_UpdateIncrementsVersion(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		snap, err := store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
			s.Account.TradesDay++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), snap.Version)
		assert.Equal(t, i, snap.Account.TradesDay)
		assert.Equal(t, core.OwnerFast, snap.WrittenBy)
	}
}

func TestFileStore_UpdatePreservesOtherOwnersSubtrees(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	// Slow core publishes a signal.
	_, err := store.Update(ctx, core.OwnerSlow, func(s *core.Snapshot) error {
		s.Signals["sig-1"] = &core.Signal{
			ID:       "sig-1",
			Action:   core.ActionEnter,
			Side:     core.SideYes,
			MarketID: "BTC-100K",
			Status:   core.SignalPending,
		}
		return nil
	})
	require.NoError(t, err)

	// Fast core writes its own subtrees, even wiping signals from its
	// working copy. The slow core's subtree must survive.
	_, err = store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		s.Account.Balance = decimal.NewFromInt(100)
		s.Signals = make(map[string]*core.Signal)
		return nil
	})
	require.NoError(t, err)

	got, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, got.Signals, "sig-1")
	assert.Equal(t, core.SignalPending, got.Signals["sig-1"].Status)
	assert.True(t, got.Account.Balance.Equal(decimal.NewFromInt(100)))
}

func TestFileStore_FastConsumesSignalStatusOnly(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, core.OwnerSlow, func(s *core.Snapshot) error {
		s.Signals["sig-1"] = &core.Signal{ID: "sig-1", Status: core.SignalPending,
			Size: decimal.NewFromInt(4)}
		return nil
	})
	require.NoError(t, err)

	_, err = store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		s.Signals["sig-1"].Status = core.SignalConsumed
		return nil
	})
	require.NoError(t, err)

	got, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, got.Signals, "sig-1")
	assert.Equal(t, core.SignalConsumed, got.Signals["sig-1"].Status)
	assert.True(t, got.Signals["sig-1"].Size.Equal(decimal.NewFromInt(4)),
		"only the status transition crosses the ownership boundary")
}

func TestFileStore_ControlOwnsLimitsAndModeRequest(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, core.OwnerControl, func(s *core.Snapshot) error {
		s.Limits.MaxOpenPositions = 4
		s.ModeRequest = &core.ModeRequest{Mode: core.ModeHalt, RequestedBy: "ops", At: time.Now()}
		return nil
	})
	require.NoError(t, err)

	// Fast core applies the request: switches mode and clears it.
	_, err = store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		s.Mode = s.ModeRequest.Mode
		s.ModeRequest = nil
		return nil
	})
	require.NoError(t, err)

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, core.ModeHalt, got.Mode)
	assert.Nil(t, got.ModeRequest)
	assert.Equal(t, 4, got.Limits.MaxOpenPositions)
}

func TestFileStore_NoPartialDocumentOnDisk(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	snap := core.NewSnapshot()
	for i := 0; i < 20; i++ {
		require.NoError(t, store.Write(ctx, snap))
	}

	// Rename-based publishing must never leave temp files behind.
	entries, err := os.ReadDir(filepath.Dir(store.path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
