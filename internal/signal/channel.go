// Package signal gives the fast core its consume-once view of the slow
// core's trade signal queue. The queue itself lives in the shared snapshot;
// this package only performs status transitions, so the producer keeps
// ownership of signal creation and deletion.
package signal

import (
	"context"
	"sort"
	"time"

	"pred_trader/internal/core"
	"pred_trader/pkg/telemetry"
)

// Channel implements core.ISignalChannel over a snapshot store.
type Channel struct {
	store  core.IStateStore
	logger core.ILogger
	ttl    time.Duration
	now    func() time.Time
}

// NewChannel creates a channel. ttl bounds signal age when the producer
// left ExpiresAt unset.
func NewChannel(store core.IStateStore, ttl time.Duration, logger core.ILogger) *Channel {
	return &Channel{
		store:  store,
		logger: logger.WithField("component", "signal_channel"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// DrainPending returns every PENDING signal, marking each CONSUMED in the
// same snapshot update that reads it. A signal already past its deadline is
// expired instead of drained.
func (c *Channel) DrainPending(ctx context.Context) ([]*core.Signal, error) {
	var drained []*core.Signal

	_, err := c.store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		drained = drained[:0]
		now := c.now()
		for _, sig := range s.Signals {
			if sig.Status != core.SignalPending {
				continue
			}
			if c.expired(sig, now) {
				sig.Status = core.SignalExpired
				continue
			}
			sig.Status = core.SignalConsumed
			drained = append(drained, sig.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(drained) > 0 {
		// Deterministic execution order: oldest first.
		sort.Slice(drained, func(i, j int) bool {
			return drained[i].CreatedAt.Before(drained[j].CreatedAt)
		})
		telemetry.GetGlobalMetrics().SignalsConsumed.Add(ctx, int64(len(drained)))
		c.logger.Info("Drained pending signals", "count", len(drained))
	}
	return drained, nil
}

// MarkRejected flags a drained signal that failed risk admission.
func (c *Channel) MarkRejected(ctx context.Context, id string) error {
	_, err := c.store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		if sig, ok := s.Signals[id]; ok && !sig.Status.Terminal() {
			sig.Status = core.SignalRejected
		}
		return nil
	})
	return err
}

// ExpireStale sweeps PENDING signals past their deadline and returns how
// many were expired.
func (c *Channel) ExpireStale(ctx context.Context) (int, error) {
	expired := 0
	_, err := c.store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		expired = 0
		now := c.now()
		for _, sig := range s.Signals {
			if sig.Status == core.SignalPending && c.expired(sig, now) {
				sig.Status = core.SignalExpired
				expired++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		c.logger.Warn("Expired stale signals", "count", expired)
	}
	return expired, nil
}

func (c *Channel) expired(sig *core.Signal, now time.Time) bool {
	if !sig.ExpiresAt.IsZero() {
		return now.After(sig.ExpiresAt)
	}
	return c.ttl > 0 && now.Sub(sig.CreatedAt) > c.ttl
}
