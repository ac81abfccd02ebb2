// Package orders owns the order lifecycle: submission, fills, cancellation
// and reconciliation against exchange truth. All mutation runs on the fast
// core's single loop thread against the iteration's working snapshot; the
// loop persists the result once per iteration.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
	appnet "pred_trader/pkg/http"
	"pred_trader/pkg/telemetry"
)

// Manager drives order state through the lifecycle
// PENDING_SUBMIT -> SUBMITTED -> {PARTIALLY_FILLED* -> FILLED | CANCELLED | REJECTED}.
// PENDING_SUBMIT is the only state reachable without exchange confirmation;
// every later transition requires an exchange-sourced event.
type Manager struct {
	exchange core.IExchange
	logger   core.ILogger
	now      func() time.Time
}

// NewManager creates an order manager bound to one exchange adapter.
func NewManager(exchange core.IExchange, logger core.ILogger) *Manager {
	return &Manager{
		exchange: exchange,
		logger:   logger.WithField("component", "order_manager"),
		now:      time.Now,
	}
}

// BuildOrder creates a PENDING_SUBMIT order from an admitted intent. The
// client id is assigned here, before any network call, and doubles as the
// idempotency key for the whole lifecycle.
func (m *Manager) BuildOrder(intent core.TradeIntent, size decimal.Decimal) *core.Order {
	now := m.now()
	return &core.Order{
		ClientID:    uuid.NewString(),
		MarketID:    intent.MarketID,
		Family:      intent.Family,
		Side:        intent.Side,
		Action:      core.OrderBuy,
		Price:       intent.Price,
		Quantity:    size,
		Remaining:   size,
		State:       core.OrderPendingSubmit,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

// Submit sends an order to the exchange and records the outcome in the
// working snapshot. A transport failure leaves the order PENDING_SUBMIT
// with an unknown outcome for the reconciliation sweep; it is never
// retried inside the iteration. An order whose client id already exists in
// the snapshot is skipped, not resubmitted.
func (m *Manager) Submit(ctx context.Context, snap *core.Snapshot, order *core.Order) error {
	if existing, ok := snap.Orders[order.ClientID]; ok && existing.State != core.OrderPendingSubmit {
		m.logger.Debug("Skipping duplicate submission", "client_id", order.ClientID)
		return nil
	}
	snap.Orders[order.ClientID] = order

	acked, err := m.exchange.SubmitOrder(ctx, order)
	if err != nil {
		var apiErr *appnet.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			// The exchange saw the request and said no.
			m.transition(order, core.OrderRejected)
			m.logger.Warn("Order rejected by exchange",
				"client_id", order.ClientID,
				"market", order.MarketID,
				"status", apiErr.StatusCode)
			return fmt.Errorf("%w: %v", apperrors.ErrOrderRejected, err)
		}
		m.logger.Error("Order submission outcome unknown, deferring to reconciliation",
			"client_id", order.ClientID,
			"market", order.MarketID,
			"error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrUnknownOutcome, err)
	}

	order.ExchangeID = acked.ExchangeID
	m.transition(order, core.OrderSubmitted)
	telemetry.GetGlobalMetrics().OrdersPlacedTotal.Add(ctx, 1)
	m.logger.Info("Order submitted",
		"client_id", order.ClientID,
		"exchange_id", order.ExchangeID,
		"market", order.MarketID,
		"side", string(order.Side),
		"price", order.Price.String(),
		"qty", order.Quantity.String())
	return nil
}

// Cancel asks the exchange to cancel a working order. The local state only
// moves to CANCELLED on a confirmed cancel; a lost acknowledgment is left
// for the sweep.
func (m *Manager) Cancel(ctx context.Context, snap *core.Snapshot, clientID string) error {
	order, ok := snap.Orders[clientID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.State.IsTerminal() {
		return nil
	}
	if order.ExchangeID == "" {
		// Never acknowledged; nothing to cancel upstream.
		m.transition(order, core.OrderCancelled)
		return nil
	}

	if err := m.exchange.CancelOrder(ctx, order.ExchangeID); err != nil {
		if errors.Is(err, apperrors.ErrOrderNotFound) {
			// Already gone on the exchange side.
			m.transition(order, core.OrderCancelled)
			return nil
		}
		m.logger.Error("Cancel outcome unknown, deferring to reconciliation",
			"client_id", clientID, "error", err)
		return fmt.Errorf("%w: %v", apperrors.ErrUnknownOutcome, err)
	}

	m.transition(order, core.OrderCancelled)
	m.logger.Info("Order cancelled", "client_id", clientID, "market", order.MarketID)
	return nil
}

// CancelAll cancels every working order, optionally restricted to one
// market family. It keeps going past individual failures and returns the
// first error seen.
func (m *Manager) CancelAll(ctx context.Context, snap *core.Snapshot, family string) error {
	var firstErr error
	for _, order := range snap.WorkingOrders(family) {
		if err := m.Cancel(ctx, snap, order.ClientID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ApplyFill applies one exchange-confirmed fill: remaining quantity, order
// state, the position and the account move together in the same working
// snapshot, so no observer ever sees a fill half-applied.
func (m *Manager) ApplyFill(ctx context.Context, snap *core.Snapshot, fill core.Fill) error {
	order, ok := snap.Orders[fill.OrderClientID]
	if !ok {
		return fmt.Errorf("%w: fill for unknown order %s", apperrors.ErrOrderNotFound, fill.OrderClientID)
	}
	if order.State.IsTerminal() {
		return fmt.Errorf("%w: fill on terminal order %s", apperrors.ErrInvariantViolation, order.ClientID)
	}
	if fill.Qty.GreaterThan(order.Remaining) {
		return fmt.Errorf("%w: fill qty %s exceeds remaining %s",
			apperrors.ErrInvariantViolation, fill.Qty, order.Remaining)
	}

	order.Remaining = order.Remaining.Sub(fill.Qty)
	if order.Remaining.IsZero() {
		m.transition(order, core.OrderFilled)
		snap.Account.TradesDay++
		telemetry.GetGlobalMetrics().OrdersFilledTotal.Add(ctx, 1)
	} else {
		m.transition(order, core.OrderPartiallyFilled)
	}

	switch order.Action {
	case core.OrderSell:
		m.applyExitFill(snap, order, fill)
	default:
		m.applyEntryFill(snap, order, fill)
	}

	snap.Account.FeesPaid = snap.Account.FeesPaid.Add(fill.Fee)
	if fill.Fee.IsPositive() {
		fee, _ := fill.Fee.Float64()
		telemetry.GetGlobalMetrics().FeesPaidTotal.Add(ctx, fee)
	}

	m.logger.Info("Fill applied",
		"client_id", order.ClientID,
		"market", fill.MarketID,
		"side", string(fill.Side),
		"qty", fill.Qty.String(),
		"price", fill.Price.String(),
		"remaining", order.Remaining.String())
	return nil
}

// applyEntryFill opens or extends a position and debits the account.
func (m *Manager) applyEntryFill(snap *core.Snapshot, order *core.Order, fill core.Fill) {
	cost := fill.Price.Mul(fill.Qty)
	snap.Account.Balance = snap.Account.Balance.Sub(cost).Sub(fill.Fee)

	key := core.PositionKey(fill.MarketID, fill.Side)
	pos, ok := snap.Positions[key]
	if !ok {
		snap.Positions[key] = &core.Position{
			MarketID: fill.MarketID,
			Family:   order.Family,
			Side:     fill.Side,
			Quantity: fill.Qty,
			AvgPrice: fill.Price,
			OpenedAt: fill.At,
		}
		return
	}

	total := pos.Quantity.Add(fill.Qty)
	pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(cost).Div(total).Round(4)
	pos.Quantity = total
}

// applyExitFill reduces a position, credits the proceeds and realizes P&L.
// A position that reaches zero quantity is removed, never kept as a zero
// row.
func (m *Manager) applyExitFill(snap *core.Snapshot, order *core.Order, fill core.Fill) {
	proceeds := fill.Price.Mul(fill.Qty)
	snap.Account.Balance = snap.Account.Balance.Add(proceeds).Sub(fill.Fee)

	key := core.PositionKey(fill.MarketID, fill.Side)
	pos, ok := snap.Positions[key]
	if !ok {
		m.logger.Error("Exit fill without a tracked position",
			"market", fill.MarketID, "side", string(fill.Side))
		return
	}

	realized := fill.Price.Sub(pos.AvgPrice).Mul(fill.Qty).Sub(fill.Fee)
	snap.Account.DailyPnL = snap.Account.DailyPnL.Add(realized)
	snap.Account.WeeklyPnL = snap.Account.WeeklyPnL.Add(realized)
	if pnl, _ := realized.Float64(); pnl != 0 {
		telemetry.GetGlobalMetrics().PnLRealizedTotal.Add(context.Background(), pnl)
	}

	pos.Quantity = pos.Quantity.Sub(fill.Qty)
	if !pos.Quantity.IsPositive() {
		delete(snap.Positions, key)
		if realized.IsNegative() {
			snap.Account.Losses++
		} else {
			snap.Account.Wins++
		}
	}
}

// Rollover resets the daily counters when the calendar date changes and
// the weekly P&L when the ISO week changes. Called once per iteration.
func (m *Manager) Rollover(snap *core.Snapshot) {
	now := m.now().UTC()
	today := now.Format("2006-01-02")
	year, week := now.ISOWeek()
	thisWeek := fmt.Sprintf("%d-W%02d", year, week)

	if snap.Account.LastReset != today {
		if snap.Account.LastReset != "" {
			m.logger.Info("Daily rollover",
				"closed_day", snap.Account.LastReset,
				"daily_pnl", snap.Account.DailyPnL.String(),
				"trades", snap.Account.TradesDay,
				"wins", snap.Account.Wins,
				"losses", snap.Account.Losses)
		}
		snap.Account.DailyPnL = decimal.Zero
		snap.Account.TradesDay = 0
		snap.Account.LastReset = today
	}

	if snap.Account.WeekOfYear != thisWeek {
		snap.Account.WeeklyPnL = decimal.Zero
		snap.Account.WeekOfYear = thisWeek
	}
}

// transition moves an order forward, enforcing lifecycle monotonicity. A
// backward transition is an invariant violation: it is logged at error
// severity and dropped rather than applied.
func (m *Manager) transition(order *core.Order, next core.OrderState) {
	if !order.State.CanTransition(next) {
		m.logger.Error("Order state regression blocked",
			"client_id", order.ClientID,
			"from", string(order.State),
			"to", string(next))
		return
	}
	order.State = next
	order.UpdatedAt = m.now()
}
