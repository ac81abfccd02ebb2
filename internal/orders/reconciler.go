package orders

import (
	"context"
	"errors"
	"time"

	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
)

// Reconciler diffs local order state against the exchange's authoritative
// view. It runs inline in the execution loop on a slower cadence than the
// tick, keeping all order-state mutation on the single loop thread.
type Reconciler struct {
	exchange core.IExchange
	orders   *Manager
	logger   core.ILogger
	grace    time.Duration
	now      func() time.Time
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Adopted   int // exchange orders unknown locally
	Expired   int // local orders the exchange no longer knows
	Confirmed int // orders whose state advanced from an exchange lookup
}

// NewReconciler creates a sweep with the given grace period. An order the
// exchange does not know is only marked CANCELLED after it has been
// unconfirmed for at least the grace period, which covers lost submit and
// lost cancel acknowledgments symmetrically.
func NewReconciler(exchange core.IExchange, orders *Manager, grace time.Duration, logger core.ILogger) *Reconciler {
	return &Reconciler{
		exchange: exchange,
		orders:   orders,
		logger:   logger.WithField("component", "reconciler"),
		grace:    grace,
		now:      time.Now,
	}
}

// Sweep runs one reconciliation pass against the working snapshot.
func (r *Reconciler) Sweep(ctx context.Context, snap *core.Snapshot) (SweepResult, error) {
	var result SweepResult

	open, err := r.exchange.GetOpenOrders(ctx)
	if err != nil {
		return result, err
	}

	onExchange := make(map[string]*core.Order, len(open))
	for _, o := range open {
		onExchange[o.ClientID] = o
	}

	// Exchange orders with no local record are adopted. This should not
	// happen in normal operation, so it is logged as an anomaly.
	for clientID, exOrder := range onExchange {
		if _, ok := snap.Orders[clientID]; ok {
			continue
		}
		adopted := exOrder.Clone()
		if adopted.State == "" {
			adopted.State = core.OrderSubmitted
		}
		adopted.UpdatedAt = r.now()
		snap.Orders[clientID] = adopted
		result.Adopted++
		r.logger.Error("Adopted order unknown to local state",
			"client_id", clientID,
			"exchange_id", adopted.ExchangeID,
			"market", adopted.MarketID,
			"state", string(adopted.State))
	}

	for clientID, order := range snap.Orders {
		if order.State.IsTerminal() {
			continue
		}

		// Open on the exchange: sync anything a lost acknowledgment left
		// behind (missing exchange id, stale remaining quantity).
		if exOrder, ok := onExchange[clientID]; ok {
			if r.advance(ctx, snap, order, exOrder) {
				result.Confirmed++
			}
			continue
		}

		// Not in the open list: resolve by direct lookup, then by grace
		// expiry.

		exOrder, err := r.exchange.GetOrder(ctx, clientID)
		if err != nil {
			if !errors.Is(err, apperrors.ErrOrderNotFound) {
				// Transport trouble; try again next sweep.
				continue
			}
			// The exchange has never seen this order (or has forgotten
			// it). After the grace period it is declared dead locally.
			if r.now().Sub(order.UpdatedAt) >= r.grace {
				r.forceState(order, core.OrderCancelled)
				result.Expired++
				r.logger.Warn("Order unconfirmed past grace period, marked cancelled",
					"client_id", clientID,
					"market", order.MarketID,
					"age", r.now().Sub(order.UpdatedAt).String())
			}
			continue
		}

		// The exchange knows the order but it is not open: it reached a
		// terminal state whose notification we lost.
		if r.advance(ctx, snap, order, exOrder) {
			result.Confirmed++
		}
	}

	return result, nil
}

// advance moves a local order to the exchange-reported state if that is a
// legal forward transition. A remaining quantity below the local view is a
// fill whose notification was lost: the delta goes through ApplyFill so
// the position and account move with the order, not just its state.
func (r *Reconciler) advance(ctx context.Context, snap *core.Snapshot, local, exchange *core.Order) bool {
	if local.ExchangeID == "" {
		local.ExchangeID = exchange.ExchangeID
	}

	changed := false

	// Order lookups report quantities, not individual executions, so the
	// recovered delta is applied as one fill at the limit price with the
	// schedule fee.
	if delta := local.Remaining.Sub(exchange.Remaining); delta.IsPositive() && !local.State.IsTerminal() {
		fill := core.Fill{
			OrderClientID: local.ClientID,
			MarketID:      local.MarketID,
			Side:          local.Side,
			Price:         local.Price,
			Qty:           delta,
			Fee:           core.TakerFee(local.Price, delta),
			At:            r.now(),
		}
		if err := r.orders.ApplyFill(ctx, snap, fill); err != nil {
			r.logger.Error("Recovered fill could not be applied",
				"client_id", local.ClientID, "error", err)
		} else {
			changed = true
		}
	}

	switch {
	case exchange.State == local.State:
	case local.State.CanTransition(exchange.State):
		local.State = exchange.State
		local.UpdatedAt = r.now()
		changed = true
	case !local.State.IsTerminal():
		r.logger.Error("Exchange reports a backward order state, keeping local",
			"client_id", local.ClientID,
			"local", string(local.State),
			"exchange", string(exchange.State))
	}

	if changed {
		r.logger.Info("Order state recovered from exchange",
			"client_id", local.ClientID,
			"state", string(local.State),
			"remaining", local.Remaining.String())
	}
	return changed
}

// forceState applies a sweep decision directly; the monotonicity guard
// still holds because CANCELLED is forward from any working state.
func (r *Reconciler) forceState(order *core.Order, state core.OrderState) {
	if order.State.CanTransition(state) {
		order.State = state
		order.UpdatedAt = r.now()
	}
}
