// Package core defines the shared domain types and interfaces for the
// split-core trader: the fast execution process and the slow analysis
// process coordinate exclusively through these types serialized into the
// state snapshot.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the outcome side of a binary market contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Mode is the global trading mode. HALT is sticky: it is never cleared by
// the fast core on its own, only by an explicit mode request.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeDefensive  Mode = "defensive"
	ModeAggressive Mode = "aggressive"
	ModeHalt       Mode = "halt"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeDefensive, ModeAggressive, ModeHalt:
		return true
	}
	return false
}

// OrderState is the lifecycle state of an order. Transitions are monotonic;
// terminal states are never left.
type OrderState string

const (
	OrderPendingSubmit   OrderState = "pending_submit"
	OrderSubmitted       OrderState = "submitted"
	OrderPartiallyFilled OrderState = "partially_filled"
	OrderFilled          OrderState = "filled"
	OrderCancelled       OrderState = "cancelled"
	OrderRejected        OrderState = "rejected"
)

// IsTerminal reports whether the state admits no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// rank orders the lifecycle for monotonicity checks. PartiallyFilled may
// repeat, everything else only moves forward.
func (s OrderState) rank() int {
	switch s {
	case OrderPendingSubmit:
		return 0
	case OrderSubmitted:
		return 1
	case OrderPartiallyFilled:
		return 2
	case OrderFilled, OrderCancelled, OrderRejected:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next preserves the
// monotonic lifecycle.
func (s OrderState) CanTransition(next OrderState) bool {
	if s.IsTerminal() {
		return false
	}
	if s == OrderPartiallyFilled && next == OrderPartiallyFilled {
		return true
	}
	return next.rank() > s.rank()
}

// SignalStatus is the consumption state of a trade signal.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalConsumed SignalStatus = "consumed"
	SignalRejected SignalStatus = "rejected"
	SignalExpired  SignalStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
// CONSUMED is not terminal: a consumed signal that fails admission still
// moves to REJECTED.
func (s SignalStatus) Terminal() bool {
	return s == SignalRejected || s == SignalExpired
}

// SignalAction describes what the producer wants done.
type SignalAction string

const (
	ActionEnter SignalAction = "enter"
	ActionExit  SignalAction = "exit"
)

// OrderAction is the direction of an order: buying opens or extends a
// position, selling reduces one.
type OrderAction string

const (
	OrderBuy  OrderAction = "buy"
	OrderSell OrderAction = "sell"
)

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// OrderBook is a point-in-time view of a single binary market's book.
// Prices are contract prices in [0, 1].
type OrderBook struct {
	MarketID  string       `json:"market_id"`
	YesAsks   []PriceLevel `json:"yes_asks"`
	YesBids   []PriceLevel `json:"yes_bids"`
	NoAsks    []PriceLevel `json:"no_asks"`
	NoBids    []PriceLevel `json:"no_bids"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// BestYesAsk returns the lowest YES ask, if any.
func (b *OrderBook) BestYesAsk() (PriceLevel, bool) { return best(b.YesAsks) }

// BestNoAsk returns the lowest NO ask, if any.
func (b *OrderBook) BestNoAsk() (PriceLevel, bool) { return best(b.NoAsks) }

func best(levels []PriceLevel) (PriceLevel, bool) {
	if len(levels) == 0 {
		return PriceLevel{}, false
	}
	bst := levels[0]
	for _, l := range levels[1:] {
		if l.Price.LessThan(bst.Price) {
			bst = l
		}
	}
	return bst, true
}

// Market describes a tradable binary market. Family groups markets over the
// same underlying (e.g. all BTC hourly strikes); Strike is the settlement
// threshold for threshold-style markets.
type Market struct {
	ID        string          `json:"id"`
	Family    string          `json:"family"`
	Title     string          `json:"title,omitempty"`
	Strike    decimal.Decimal `json:"strike"`
	HasStrike bool            `json:"has_strike"`
	CloseTime time.Time       `json:"close_time"`
	Active    bool            `json:"active"`
}

// Order is a tracked order. ClientID is assigned locally before submission
// and doubles as the idempotency key; ExchangeID is empty until the exchange
// acknowledges.
type Order struct {
	ClientID    string          `json:"client_id"`
	ExchangeID  string          `json:"exchange_id,omitempty"`
	MarketID    string          `json:"market_id"`
	Family      string          `json:"family,omitempty"`
	Side        Side            `json:"side"`
	Action      OrderAction     `json:"action"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Remaining   decimal.Decimal `json:"remaining"`
	State       OrderState      `json:"state"`
	SubmittedAt time.Time       `json:"submitted_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// Fill is an exchange-confirmed execution against an order.
type Fill struct {
	OrderClientID string          `json:"order_client_id"`
	MarketID      string          `json:"market_id"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Qty           decimal.Decimal `json:"qty"`
	Fee           decimal.Decimal `json:"fee"`
	At            time.Time       `json:"at"`
}

// Position is an open holding in one market outcome. Quantity is always
// positive; a position that reaches zero is removed from the snapshot.
type Position struct {
	MarketID string          `json:"market_id"`
	Family   string          `json:"family,omitempty"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	OpenedAt time.Time       `json:"opened_at"`
	Deadline time.Time       `json:"deadline,omitempty"`
}

// Key returns the map key a position is stored under.
func (p *Position) Key() string { return PositionKey(p.MarketID, p.Side) }

// PositionKey builds the snapshot map key for a market/side pair.
func PositionKey(marketID string, side Side) string {
	return marketID + "/" + string(side)
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// AccountState is the trading account as known from exchange-confirmed
// events. It is never mutated speculatively.
type AccountState struct {
	Balance    decimal.Decimal `json:"balance"`
	DailyPnL   decimal.Decimal `json:"daily_pnl"`
	WeeklyPnL  decimal.Decimal `json:"weekly_pnl"`
	FeesPaid   decimal.Decimal `json:"fees_paid"`
	Wins       int             `json:"wins"`
	Losses     int             `json:"losses"`
	TradesDay  int             `json:"trades_today"`
	LastReset  string          `json:"last_reset"`
	WeekOfYear string          `json:"week_of_year,omitempty"`
}

// RiskLimits is the admission-control configuration. A copy lives in the
// snapshot so limit changes propagate to the fast core between iterations;
// an admission decision always uses the copy it was handed.
type RiskLimits struct {
	MaxPositionSize    decimal.Decimal `json:"max_position_size"`
	MaxOpenPositions   int             `json:"max_open_positions"`
	MaxFamilyExposure  decimal.Decimal `json:"max_family_exposure"`
	DailyDrawdownLimit decimal.Decimal `json:"daily_drawdown_limit"`
	WeeklyDrawdown     decimal.Decimal `json:"weekly_drawdown_limit"`
	MinEdge            decimal.Decimal `json:"min_edge"`
}

// Signal is a trade candidate produced by the slow core or the arbitrage
// detector. It is consumed at most once: the PENDING -> CONSUMED transition
// happens atomically with the read that drains it.
type Signal struct {
	ID         string          `json:"id"`
	Action     SignalAction    `json:"action"`
	Side       Side            `json:"side"`
	MarketID   string          `json:"market_id"`
	Family     string          `json:"family,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Edge       decimal.Decimal `json:"edge"`
	Confidence decimal.Decimal `json:"confidence"`
	Status     SignalStatus    `json:"status"`
	Source     string          `json:"source"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// Clone returns a deep copy.
func (s *Signal) Clone() *Signal {
	c := *s
	return &c
}

// ModeRequest asks the fast core to switch modes. The fast core applies it
// within one loop iteration and clears it from its own subtree view.
type ModeRequest struct {
	Mode        Mode      `json:"mode"`
	RequestedBy string    `json:"requested_by"`
	At          time.Time `json:"at"`
}

// TradeIntent is a normalized trade candidate handed to the risk manager.
type TradeIntent struct {
	MarketID  string
	Family    string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Edge      decimal.Decimal
	Source    string
	SignalID  string
	Arbitrage bool
}

// Cost returns the capital required if the intent executes at Price.
func (t TradeIntent) Cost() decimal.Decimal { return t.Price.Mul(t.Size) }

// PriceSample is one observation from the reference price feed.
type PriceSample struct {
	Price decimal.Decimal
	At    time.Time
}
