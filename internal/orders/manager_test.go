package orders

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pred_trader/internal/core"
	"pred_trader/internal/mock"
	apperrors "pred_trader/pkg/errors"
	"pred_trader/pkg/logging"
)

func newTestManager(t *testing.T) (*Manager, *mock.Exchange) {
	t.Helper()
	ex := mock.NewExchange("mock")
	return NewManager(ex, logging.NewLogger(logging.ErrorLevel, nil)), ex
}

func testIntent() core.TradeIntent {
	return core.TradeIntent{
		MarketID: "BTC-100K",
		Family:   "KXBTC",
		Side:     core.SideYes,
		Price:    decimal.NewFromFloat(0.45),
		Size:     decimal.NewFromInt(10),
		Edge:     decimal.NewFromFloat(0.05),
		Source:   "test",
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(10))

	require.NoError(t, m.Submit(context.Background(), snap, order))

	assert.Equal(t, core.OrderSubmitted, order.State)
	assert.NotEmpty(t, order.ExchangeID)
	assert.Contains(t, snap.Orders, order.ClientID)
}

func TestSubmit_IdempotentOnClientID(t *testing.T) {
	m, ex := newTestManager(t)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(10))

	require.NoError(t, m.Submit(context.Background(), snap, order))
	require.NoError(t, m.Submit(context.Background(), snap, order))

	open, err := ex.GetOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1, "resubmitting the same client id must not create a second order")
	assert.Equal(t, 1, ex.SubmitCount(order.ClientID))
}

func TestSubmit_LostAckLeavesPendingForReconciliation(t *testing.T) {
	m, ex := newTestManager(t)
	ex.DropSubmitAcks(true)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(10))

	err := m.Submit(context.Background(), snap, order)
	require.ErrorIs(t, err, apperrors.ErrUnknownOutcome)

	// The order stays in the snapshot awaiting the sweep; it is not
	// retried and not forgotten.
	assert.Equal(t, core.OrderPendingSubmit, snap.Orders[order.ClientID].State)

	// The exchange did record it, so a blind resubmit would duplicate.
	exOrder, err := ex.GetOrder(context.Background(), order.ClientID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderSubmitted, exOrder.State)
}

func TestApplyFill_PartialThenFull(t *testing.T) {
	m, ex := newTestManager(t)
	snap := core.NewSnapshot()
	snap.Account.Balance = decimal.NewFromInt(100)
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(10))
	require.NoError(t, m.Submit(context.Background(), snap, order))

	fill, err := ex.Fill(order.ClientID, decimal.NewFromInt(4), order.Price, decimal.NewFromFloat(0.07))
	require.NoError(t, err)
	require.NoError(t, m.ApplyFill(context.Background(), snap, fill))

	assert.Equal(t, core.OrderPartiallyFilled, order.State)
	assert.True(t, order.Remaining.Equal(decimal.NewFromInt(6)))

	pos := snap.Positions[core.PositionKey("BTC-100K", core.SideYes)]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(4)))

	fill, err = ex.Fill(order.ClientID, decimal.NewFromInt(6), order.Price, decimal.NewFromFloat(0.11))
	require.NoError(t, err)
	require.NoError(t, m.ApplyFill(context.Background(), snap, fill))

	assert.Equal(t, core.OrderFilled, order.State)
	assert.True(t, order.Remaining.IsZero())
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 1, snap.Account.TradesDay)
	assert.True(t, snap.Account.FeesPaid.Equal(decimal.NewFromFloat(0.18)))

	// 10 contracts at 0.45 plus 0.18 fees.
	assert.True(t, snap.Account.Balance.Equal(decimal.NewFromFloat(95.32)),
		"got balance %s", snap.Account.Balance)
}

func TestApplyFill_OverfillRejected(t *testing.T) {
	m, ex := newTestManager(t)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(10))
	require.NoError(t, m.Submit(context.Background(), snap, order))

	_, err := ex.Fill(order.ClientID, decimal.NewFromInt(10), order.Price, decimal.Zero)
	require.NoError(t, err)

	err = m.ApplyFill(context.Background(), snap, core.Fill{
		OrderClientID: order.ClientID,
		MarketID:      order.MarketID,
		Side:          order.Side,
		Price:         order.Price,
		Qty:           decimal.NewFromInt(11),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
}

func TestApplyFill_ExitRealizesPnLAndRemovesFlatPosition(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()
	snap.Account.Balance = decimal.NewFromInt(100)
	key := core.PositionKey("BTC-100K", core.SideYes)
	snap.Positions[key] = &core.Position{
		MarketID: "BTC-100K",
		Family:   "KXBTC",
		Side:     core.SideYes,
		Quantity: decimal.NewFromInt(10),
		AvgPrice: decimal.NewFromFloat(0.45),
	}
	exit := &core.Order{
		ClientID:  "exit-1",
		MarketID:  "BTC-100K",
		Family:    "KXBTC",
		Side:      core.SideYes,
		Action:    core.OrderSell,
		Price:     decimal.NewFromFloat(0.60),
		Quantity:  decimal.NewFromInt(10),
		Remaining: decimal.NewFromInt(10),
		State:     core.OrderSubmitted,
	}
	snap.Orders[exit.ClientID] = exit

	err := m.ApplyFill(context.Background(), snap, core.Fill{
		OrderClientID: "exit-1",
		MarketID:      "BTC-100K",
		Side:          core.SideYes,
		Price:         decimal.NewFromFloat(0.60),
		Qty:           decimal.NewFromInt(10),
		Fee:           decimal.NewFromFloat(0.17),
	})
	require.NoError(t, err)

	assert.NotContains(t, snap.Positions, key, "flat positions are removed, not zeroed")
	// (0.60 - 0.45) * 10 - 0.17 fee.
	assert.True(t, snap.Account.DailyPnL.Equal(decimal.NewFromFloat(1.33)),
		"got daily pnl %s", snap.Account.DailyPnL)
	assert.Equal(t, 1, snap.Account.Wins)
	assert.Equal(t, 0, snap.Account.Losses)
}

func TestStateMonotonicity_TerminalNeverReverts(t *testing.T) {
	m, ex := newTestManager(t)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(2))
	require.NoError(t, m.Submit(context.Background(), snap, order))

	fill, err := ex.Fill(order.ClientID, decimal.NewFromInt(2), order.Price, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, m.ApplyFill(context.Background(), snap, fill))
	require.Equal(t, core.OrderFilled, order.State)

	// A late fill report against the terminal order is refused.
	err = m.ApplyFill(context.Background(), snap, fill)
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	assert.Equal(t, core.OrderFilled, order.State)

	// And a cancel against it is a no-op.
	require.NoError(t, m.Cancel(context.Background(), snap, order.ClientID))
	assert.Equal(t, core.OrderFilled, order.State)
}

func TestCancel_UnackedOrderCancelsLocally(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()
	order := m.BuildOrder(testIntent(), decimal.NewFromInt(5))
	snap.Orders[order.ClientID] = order

	require.NoError(t, m.Cancel(context.Background(), snap, order.ClientID))
	assert.Equal(t, core.OrderCancelled, order.State)
}

func TestCancelAll_FiltersByFamily(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()

	btc := m.BuildOrder(testIntent(), decimal.NewFromInt(5))
	require.NoError(t, m.Submit(context.Background(), snap, btc))

	ethIntent := testIntent()
	ethIntent.MarketID = "ETH-5K"
	ethIntent.Family = "KXETH"
	eth := m.BuildOrder(ethIntent, decimal.NewFromInt(5))
	require.NoError(t, m.Submit(context.Background(), snap, eth))

	require.NoError(t, m.CancelAll(context.Background(), snap, "KXBTC"))
	assert.Equal(t, core.OrderCancelled, btc.State)
	assert.Equal(t, core.OrderSubmitted, eth.State)
}

func TestRollover_ResetsDailyCountersOnDateChange(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()
	snap.Account.DailyPnL = decimal.NewFromInt(-12)
	snap.Account.TradesDay = 9
	snap.Account.LastReset = "2026-01-01"
	snap.Account.WeeklyPnL = decimal.NewFromInt(3)

	m.Rollover(snap)

	assert.True(t, snap.Account.DailyPnL.IsZero())
	assert.Equal(t, 0, snap.Account.TradesDay)
	assert.NotEqual(t, "2026-01-01", snap.Account.LastReset)
	assert.True(t, snap.Account.WeeklyPnL.IsZero(), "week rolled since 2026 week 1")
}

func TestRollover_SameDayIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	snap := core.NewSnapshot()
	m.Rollover(snap)

	snap.Account.DailyPnL = decimal.NewFromInt(5)
	snap.Account.TradesDay = 2

	m.Rollover(snap)
	assert.True(t, snap.Account.DailyPnL.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 2, snap.Account.TradesDay)
}
