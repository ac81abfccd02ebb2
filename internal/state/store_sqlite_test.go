package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/core"
	"pred_trader/pkg/logging"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(path, logging.NewLogger(logging.ErrorLevel, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_WriteReadRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	snap := core.NewSnapshot()
	snap.Version = 3
	snap.Account.Balance = decimal.NewFromFloat(42.5)
	snap.Positions["ETH-5K/no"] = &core.Position{
		MarketID: "ETH-5K",
		Side:     core.SideNo,
		Quantity: decimal.NewFromInt(2),
		AvgPrice: decimal.NewFromFloat(0.31),
	}
	require.NoError(t, store.Write(ctx, snap))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.True(t, got.Account.Balance.Equal(decimal.NewFromFloat(42.5)))
	require.Contains(t, got.Positions, "ETH-5K/no")
}

func TestSQLiteStore_ReadBeforeFirstWrite(t *testing.T) {
	store := newTestSQLiteStore(t)

	snap, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Equal(t, core.ModeNormal, snap.Mode)
}

func TestSQLiteStore_UpdateMergesByOwner(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := store.Update(ctx, core.OwnerSlow, func(s *core.Snapshot) error {
		s.Signals["sig-9"] = &core.Signal{ID: "sig-9", Status: core.SignalPending}
		return nil
	})
	require.NoError(t, err)

	snap, err := store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		s.Mode = core.ModeAggressive
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, core.ModeAggressive, snap.Mode)
	require.Contains(t, snap.Signals, "sig-9")
}
