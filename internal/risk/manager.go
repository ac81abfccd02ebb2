// Package risk provides admission control and the toxic flow safety
// interlock for the fast core.
package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/pkg/telemetry"
)

// RejectReason tags the first failed admission check.
type RejectReason string

const (
	RejectHalt           RejectReason = "halt"
	RejectSize           RejectReason = "size"
	RejectConcurrency    RejectReason = "concurrency"
	RejectExposure       RejectReason = "exposure"
	RejectDrawdown       RejectReason = "drawdown"
	RejectWeeklyDrawdown RejectReason = "weekly_drawdown"
	RejectEdge           RejectReason = "edge"
)

// Decision is the outcome of one admission check. Size carries the
// mode-adjusted quantity the caller should actually submit.
type Decision struct {
	Admitted bool
	Reason   RejectReason
	Size     decimal.Decimal
}

// Manager performs admission control. It holds no mutable state of its
// own: every decision is computed from the limits and snapshot it is
// handed, so a decision is valid only at the instant of the check and
// callers must re-validate against the freshest snapshot right before
// submission.
type Manager struct {
	logger core.ILogger

	defensiveSizeScale  decimal.Decimal
	defensiveEdgeScale  decimal.Decimal
	aggressiveSizeScale decimal.Decimal
	aggressiveEdgeScale decimal.Decimal
}

// NewManager creates an admission manager with the configured mode presets.
func NewManager(cfg *config.Config, logger core.ILogger) *Manager {
	return &Manager{
		logger:              logger.WithField("component", "risk_manager"),
		defensiveSizeScale:  decimal.NewFromFloat(cfg.Risk.DefensiveSizeScale),
		defensiveEdgeScale:  decimal.NewFromFloat(cfg.Risk.DefensiveEdgeScale),
		aggressiveSizeScale: decimal.NewFromFloat(cfg.Risk.AggressiveSizeScale),
		aggressiveEdgeScale: decimal.NewFromFloat(cfg.Risk.AggressiveEdgeScale),
	}
}

// Admit runs the admission checks in order, short-circuiting on the first
// failure. Checks: mode not halted, size within limit, open-position
// concurrency, per-family exposure, projected daily and weekly drawdown,
// minimum edge.
func (m *Manager) Admit(ctx context.Context, intent core.TradeIntent, limits core.RiskLimits, snap *core.Snapshot) Decision {
	size, minEdge := m.applyMode(snap.Mode, intent.Size, limits.MinEdge)

	if snap.Mode == core.ModeHalt {
		return m.reject(ctx, intent, RejectHalt)
	}

	if limits.MaxPositionSize.IsPositive() && size.GreaterThan(limits.MaxPositionSize) {
		return m.reject(ctx, intent, RejectSize)
	}

	if limits.MaxOpenPositions > 0 && snap.OpenPositionCount() >= limits.MaxOpenPositions {
		return m.reject(ctx, intent, RejectConcurrency)
	}

	if limits.MaxFamilyExposure.IsPositive() && intent.Family != "" {
		cost := intent.Price.Mul(size)
		if snap.FamilyExposure(intent.Family).Add(cost).GreaterThan(limits.MaxFamilyExposure) {
			return m.reject(ctx, intent, RejectExposure)
		}
	}

	if limits.DailyDrawdownLimit.IsPositive() && snap.Account.Balance.IsPositive() {
		// Worst case: the candidate's full cost is lost.
		projected := snap.Account.DailyPnL.Sub(intent.Price.Mul(size))
		floor := snap.Account.Balance.Mul(limits.DailyDrawdownLimit).Neg()
		if projected.LessThan(floor) {
			return m.reject(ctx, intent, RejectDrawdown)
		}
	}

	if limits.WeeklyDrawdown.IsPositive() && snap.Account.Balance.IsPositive() {
		projected := snap.Account.WeeklyPnL.Sub(intent.Price.Mul(size))
		floor := snap.Account.Balance.Mul(limits.WeeklyDrawdown).Neg()
		if projected.LessThan(floor) {
			return m.reject(ctx, intent, RejectWeeklyDrawdown)
		}
	}

	// Arbitrage pairs carry a locked-in profit, but they still clear the
	// same edge floor as directional candidates.
	if intent.Edge.LessThan(minEdge) {
		return m.reject(ctx, intent, RejectEdge)
	}

	return Decision{Admitted: true, Size: size}
}

// applyMode returns the effective size and edge threshold for the current
// trading mode. Defensive trades smaller and demands more edge; aggressive
// does the opposite. HALT is handled by the first admission check.
func (m *Manager) applyMode(mode core.Mode, size, minEdge decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch mode {
	case core.ModeDefensive:
		return size.Mul(m.defensiveSizeScale).Floor(), minEdge.Mul(m.defensiveEdgeScale)
	case core.ModeAggressive:
		return size.Mul(m.aggressiveSizeScale).Floor(), minEdge.Mul(m.aggressiveEdgeScale)
	}
	return size, minEdge
}

func (m *Manager) reject(ctx context.Context, intent core.TradeIntent, reason RejectReason) Decision {
	m.logger.Info("Candidate rejected",
		"reason", string(reason),
		"market", intent.MarketID,
		"side", string(intent.Side),
		"size", intent.Size.String(),
		"edge", intent.Edge.String(),
		"source", intent.Source)
	telemetry.GetGlobalMetrics().RiskRejections.Add(ctx, 1)
	return Decision{Admitted: false, Reason: reason}
}
