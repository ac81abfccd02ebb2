package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Owner identifies which process (or tool) is writing a snapshot. Each
// owner holds exclusive write rights over a disjoint group of snapshot
// fields; merges are last-writer-wins per group, never per document.
type Owner string

const (
	// OwnerFast is the execution core: account, orders, positions, mode.
	OwnerFast Owner = "fast_core"
	// OwnerSlow is the analysis core: the signal queue.
	OwnerSlow Owner = "slow_core"
	// OwnerControl is operator tooling: mode requests and risk limits.
	OwnerControl Owner = "control"
)

// Snapshot is the full shared-state document. It is always read and written
// whole; no component ever observes a partially applied write.
type Snapshot struct {
	Version   int64     `json:"version"`
	WrittenBy Owner     `json:"written_by"`
	WrittenAt time.Time `json:"written_at"`

	// Owned by the fast core.
	Account   AccountState         `json:"account"`
	Mode      Mode                 `json:"mode"`
	Orders    map[string]*Order    `json:"orders"`
	Positions map[string]*Position `json:"positions"`

	// Owned by the slow core.
	Signals map[string]*Signal `json:"signals"`

	// Owned by control tooling.
	Limits      RiskLimits   `json:"limits"`
	ModeRequest *ModeRequest `json:"mode_request,omitempty"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Mode:      ModeNormal,
		Orders:    make(map[string]*Order),
		Positions: make(map[string]*Position),
		Signals:   make(map[string]*Signal),
	}
}

// Clone returns a deep copy. Working copies handed to components are clones
// so that in-memory mutation never leaks into another reader's view.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Orders = make(map[string]*Order, len(s.Orders))
	for k, v := range s.Orders {
		c.Orders[k] = v.Clone()
	}
	c.Positions = make(map[string]*Position, len(s.Positions))
	for k, v := range s.Positions {
		c.Positions[k] = v.Clone()
	}
	c.Signals = make(map[string]*Signal, len(s.Signals))
	for k, v := range s.Signals {
		c.Signals[k] = v.Clone()
	}
	if s.ModeRequest != nil {
		mr := *s.ModeRequest
		c.ModeRequest = &mr
	}
	return &c
}

// MergeOwned copies only the owner's field groups from src onto base and
// returns the merged document. base is the freshest on-disk snapshot; src is
// the writer's working copy. This is what keeps two concurrent processes
// from clobbering each other's subtrees.
func MergeOwned(base, src *Snapshot, owner Owner) *Snapshot {
	out := base.Clone()
	switch owner {
	case OwnerFast:
		out.Account = src.Account
		out.Mode = src.Mode
		out.Orders = make(map[string]*Order, len(src.Orders))
		for k, v := range src.Orders {
			out.Orders[k] = v.Clone()
		}
		out.Positions = make(map[string]*Position, len(src.Positions))
		for k, v := range src.Positions {
			out.Positions[k] = v.Clone()
		}
		// The fast core consumes signals: only forward status transitions
		// are merged, so the slow core keeps ownership of creation and
		// deletion and a stale working copy can never revert a
		// consumption already on disk.
		for id, sig := range src.Signals {
			if cur, ok := out.Signals[id]; ok && statusRank(sig.Status) > statusRank(cur.Status) {
				cur.Status = sig.Status
			}
		}
		// Applying a mode request clears it.
		if src.ModeRequest == nil {
			out.ModeRequest = nil
		}
	case OwnerSlow:
		out.Signals = make(map[string]*Signal, len(src.Signals))
		for k, v := range src.Signals {
			out.Signals[k] = v.Clone()
		}
	case OwnerControl:
		out.Limits = src.Limits
		if src.ModeRequest != nil {
			mr := *src.ModeRequest
			out.ModeRequest = &mr
		} else {
			out.ModeRequest = nil
		}
	}
	out.WrittenBy = owner
	return out
}

// statusRank orders signal statuses for forward-only merging.
func statusRank(s SignalStatus) int {
	switch s {
	case SignalPending:
		return 0
	case SignalConsumed:
		return 1
	case SignalRejected, SignalExpired:
		return 2
	}
	return -1
}

// OpenPositionCount returns the number of open positions.
func (s *Snapshot) OpenPositionCount() int { return len(s.Positions) }

// FamilyExposure sums the entry cost of open positions in one market family.
func (s *Snapshot) FamilyExposure(family string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		if p.Family == family {
			total = total.Add(p.AvgPrice.Mul(p.Quantity))
		}
	}
	return total
}

// WorkingOrders returns the non-terminal orders, optionally filtered by
// market family.
func (s *Snapshot) WorkingOrders(family string) []*Order {
	var out []*Order
	for _, o := range s.Orders {
		if o.State.IsTerminal() {
			continue
		}
		if family != "" && o.Family != family {
			continue
		}
		out = append(out, o)
	}
	return out
}
