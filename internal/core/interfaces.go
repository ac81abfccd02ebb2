package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the capability interface every exchange adapter conforms to.
// All calls take a context; callers are expected to bound them with
// timeouts, and a timed-out mutating call must be treated as an unknown
// outcome to be resolved by reconciliation, never retried blind.
type IExchange interface {
	GetName() string
	CheckHealth(ctx context.Context) error

	GetMarkets(ctx context.Context, family string) ([]Market, error)
	GetOrderBook(ctx context.Context, marketID string) (*OrderBook, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)

	// SubmitOrder carries the order's ClientID as the idempotency key:
	// submitting the same ClientID twice must not create a second order.
	SubmitOrder(ctx context.Context, order *Order) (*Order, error)
	CancelOrder(ctx context.Context, exchangeID string) error
	GetOrder(ctx context.Context, clientID string) (*Order, error)
	GetOpenOrders(ctx context.Context) ([]*Order, error)
}

// IStateStore is the atomic shared-state exchange between the two cores.
// Read never blocks writers and vice versa; a reader observes either the
// complete prior snapshot or the complete new one.
type IStateStore interface {
	// Read returns the latest readable snapshot. An unreadable or corrupt
	// document fails closed: the last known-good snapshot is returned
	// instead, never an empty one.
	Read() (*Snapshot, error)

	// Write persists a full snapshot atomically.
	Write(ctx context.Context, snap *Snapshot) error

	// Update runs a read-modify-write cycle: the mutator receives a clone
	// of the freshest snapshot, and only the owner's subtrees of the
	// result are merged back before the atomic write.
	Update(ctx context.Context, owner Owner, mutate func(*Snapshot) error) (*Snapshot, error)
}

// ISignalChannel is the fast core's view of the slow core's output queue.
type ISignalChannel interface {
	// DrainPending returns all PENDING signals, marking each CONSUMED
	// atomically with the read so a signal is executed at most once.
	DrainPending(ctx context.Context) ([]*Signal, error)
	// MarkRejected flags a drained signal that failed admission.
	MarkRejected(ctx context.Context, id string) error
	// ExpireStale transitions PENDING signals past their TTL to EXPIRED
	// and returns how many were expired.
	ExpireStale(ctx context.Context) (int, error)
}

// IReferenceFeed delivers sub-second reference price samples for the toxic
// flow guard (e.g. the underlying spot price, independent of the traded
// markets).
type IReferenceFeed interface {
	Start(ctx context.Context, onSample func(PriceSample)) error
	Stop() error
	LastSample() (PriceSample, bool)
}

// ILogger defines the interface for logging.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
