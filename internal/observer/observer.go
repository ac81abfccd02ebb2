// Package observer is the slow brain's shell: on a slow cadence it reads
// the shared snapshot, prunes terminal signals from its owned subtree, and
// raises advisory mode requests when the account is drawing down. Signal
// scoring itself lives outside this process boundary.
package observer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
)

var two = decimal.NewFromInt(2)

// Observer runs the slow core's periodic pass over the snapshot.
type Observer struct {
	store     core.IStateStore
	logger    core.ILogger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// New creates an observer on the configured slow-core cadence. Terminal
// signals are retained for ten signal TTLs before pruning so the fast
// core's rejection outcomes stay inspectable for a while.
func New(cfg *config.Config, store core.IStateStore, logger core.ILogger) *Observer {
	ttl := time.Duration(cfg.Execution.SignalTTLS) * time.Second
	return &Observer{
		store:     store,
		logger:    logger.WithField("component", "slow_observer"),
		interval:  time.Duration(cfg.Execution.SlowCoreIntervalS) * time.Second,
		retention: 10 * ttl,
		now:       time.Now,
	}
}

// Run ticks until the context is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.logger.Info("Slow core observer starting", "interval", o.interval.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.Observe(ctx); err != nil {
				o.logger.Error("Observation pass failed", "error", err)
			}
		}
	}
}

// Observe runs one pass: prune, advise, report.
func (o *Observer) Observe(ctx context.Context) error {
	snap, err := o.store.Read()
	if err != nil {
		return err
	}

	pruned, err := o.PruneSignals(ctx)
	if err != nil {
		return err
	}

	if err := o.adviseMode(ctx, snap); err != nil {
		return err
	}

	pending := 0
	for _, sig := range snap.Signals {
		if sig.Status == core.SignalPending {
			pending++
		}
	}
	o.logger.Info("Snapshot observed",
		"version", snap.Version,
		"mode", string(snap.Mode),
		"balance", snap.Account.Balance.String(),
		"daily_pnl", snap.Account.DailyPnL.String(),
		"positions", snap.OpenPositionCount(),
		"working_orders", len(snap.WorkingOrders("")),
		"pending_signals", pending,
		"pruned_signals", pruned)
	return nil
}

// PruneSignals deletes terminal signals older than the retention window.
// Deletion is the producer's right: the fast core only ever transitions
// status, never removes entries.
func (o *Observer) PruneSignals(ctx context.Context) (int, error) {
	pruned := 0
	_, err := o.store.Update(ctx, core.OwnerSlow, func(s *core.Snapshot) error {
		pruned = 0
		cutoff := o.now().Add(-o.retention)
		for id, sig := range s.Signals {
			done := sig.Status.Terminal() || sig.Status == core.SignalConsumed
			if done && sig.CreatedAt.Before(cutoff) {
				delete(s.Signals, id)
				pruned++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		o.logger.Debug("Pruned terminal signals", "count", pruned)
	}
	return pruned, nil
}

// adviseMode requests DEFENSIVE once daily losses cross half the drawdown
// limit. The fast core halts admission entirely at the full limit; this
// advisory shrinks sizing before that point. It never escalates past
// DEFENSIVE and never downgrades a stricter mode.
func (o *Observer) adviseMode(ctx context.Context, snap *core.Snapshot) error {
	if snap.Mode != core.ModeNormal && snap.Mode != core.ModeAggressive {
		return nil
	}
	if snap.ModeRequest != nil {
		return nil
	}
	if !snap.Account.Balance.IsPositive() || !snap.Limits.DailyDrawdownLimit.IsPositive() {
		return nil
	}

	softFloor := snap.Account.Balance.Mul(snap.Limits.DailyDrawdownLimit).Div(two).Neg()
	if snap.Account.DailyPnL.GreaterThanOrEqual(softFloor) {
		return nil
	}

	o.logger.Warn("Daily losses crossed the soft floor, requesting defensive mode",
		"daily_pnl", snap.Account.DailyPnL.String(),
		"soft_floor", softFloor.String())

	_, err := o.store.Update(ctx, core.OwnerControl, func(s *core.Snapshot) error {
		if s.ModeRequest != nil {
			return nil
		}
		s.ModeRequest = &core.ModeRequest{
			Mode:        core.ModeDefensive,
			RequestedBy: "slow_observer",
			At:          o.now(),
		}
		return nil
	})
	return err
}
