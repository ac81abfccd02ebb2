// Package mock provides an in-memory IExchange for tests and dry runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
)

// Exchange implements core.IExchange against in-memory state. Submission
// is idempotent on client id, matching the real exchange contract.
type Exchange struct {
	name string

	mu             sync.RWMutex
	balance        decimal.Decimal
	markets        map[string]core.Market
	books          map[string]*core.OrderBook
	orders         map[string]*core.Order // by client id
	orderIDCounter int64

	// Fault injection
	failSubmits    bool
	failCancels    bool
	dropSubmitAcks bool
	submitBudget   int
	healthErr      error

	submitCount map[string]int
}

// NewExchange creates a mock with a funded account.
func NewExchange(name string) *Exchange {
	return &Exchange{
		name:           name,
		balance:        decimal.NewFromInt(10000),
		markets:        make(map[string]core.Market),
		books:          make(map[string]*core.OrderBook),
		orders:         make(map[string]*core.Order),
		orderIDCounter: 1000,
		submitBudget:   -1,
		submitCount:    make(map[string]int),
	}
}

func (m *Exchange) GetName() string { return m.name }

// CheckHealth reports the injected health state.
func (m *Exchange) CheckHealth(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthErr
}

// SetMarket registers a market.
func (m *Exchange) SetMarket(market core.Market) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[market.ID] = market
}

// SetBook replaces the book for a market.
func (m *Exchange) SetBook(book *core.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[book.MarketID] = book
}

// SetBalance overrides the account balance.
func (m *Exchange) SetBalance(balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
}

// SetHealthError injects a health check failure.
func (m *Exchange) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
}

// FailSubmits makes SubmitOrder return a network error without recording
// anything, simulating a request that never reached the exchange.
func (m *Exchange) FailSubmits(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSubmits = fail
}

// DropSubmitAcks makes SubmitOrder record the order but return a network
// error, simulating a lost acknowledgment.
func (m *Exchange) DropSubmitAcks(drop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropSubmitAcks = drop
}

// LimitSubmits lets the next n new submissions succeed and fails the rest
// with a network error, simulating an outage part-way through a batch.
// Pass a negative n to lift the limit.
func (m *Exchange) LimitSubmits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitBudget = n
}

// FailCancels makes CancelOrder return a network error.
func (m *Exchange) FailCancels(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCancels = fail
}

// SubmitCount returns how many submit calls were seen for a client id.
func (m *Exchange) SubmitCount(clientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.submitCount[clientID]
}

func (m *Exchange) GetMarkets(ctx context.Context, family string) ([]core.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Market
	for _, mk := range m.markets {
		if family == "" || mk.Family == family {
			out = append(out, mk)
		}
	}
	return out, nil
}

func (m *Exchange) GetOrderBook(ctx context.Context, marketID string) (*core.OrderBook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: no book for %s", apperrors.ErrInvalidSymbol, marketID)
	}
	clone := *book
	return &clone, nil
}

func (m *Exchange) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance, nil
}

// SubmitOrder records the order keyed by client id. Resubmitting an
// already-known client id returns the existing order without creating a
// second one.
func (m *Exchange) SubmitOrder(ctx context.Context, order *core.Order) (*core.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitCount[order.ClientID]++

	if m.failSubmits {
		return nil, apperrors.ErrNetwork
	}

	if existing, ok := m.orders[order.ClientID]; ok {
		return existing.Clone(), nil
	}

	if m.submitBudget == 0 {
		return nil, apperrors.ErrNetwork
	}
	if m.submitBudget > 0 {
		m.submitBudget--
	}

	m.orderIDCounter++
	recorded := order.Clone()
	recorded.ExchangeID = fmt.Sprintf("mock-%d", m.orderIDCounter)
	recorded.State = core.OrderSubmitted
	recorded.UpdatedAt = time.Now()
	m.orders[order.ClientID] = recorded

	if m.dropSubmitAcks {
		return nil, apperrors.ErrNetwork
	}
	return recorded.Clone(), nil
}

func (m *Exchange) CancelOrder(ctx context.Context, exchangeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCancels {
		return apperrors.ErrNetwork
	}

	for _, o := range m.orders {
		if o.ExchangeID == exchangeID {
			if o.State.IsTerminal() {
				return apperrors.ErrOrderNotFound
			}
			o.State = core.OrderCancelled
			o.UpdatedAt = time.Now()
			return nil
		}
	}
	return apperrors.ErrOrderNotFound
}

func (m *Exchange) GetOrder(ctx context.Context, clientID string) (*core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[clientID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (m *Exchange) GetOpenOrders(ctx context.Context) ([]*core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Order
	for _, o := range m.orders {
		if !o.State.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

// Fill simulates an exchange fill report for a working order and returns
// the fill event the core would receive.
func (m *Exchange) Fill(clientID string, qty, price, fee decimal.Decimal) (core.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[clientID]
	if !ok {
		return core.Fill{}, apperrors.ErrOrderNotFound
	}
	order.Remaining = order.Remaining.Sub(qty)
	if order.Remaining.IsPositive() {
		order.State = core.OrderPartiallyFilled
	} else {
		order.State = core.OrderFilled
	}
	order.UpdatedAt = time.Now()

	return core.Fill{
		OrderClientID: clientID,
		MarketID:      order.MarketID,
		Side:          order.Side,
		Price:         price,
		Qty:           qty,
		Fee:           fee,
		At:            time.Now(),
	}, nil
}

// Seed inserts an order directly into exchange state, bypassing Submit.
// Used to simulate orders the local process has lost track of.
func (m *Exchange) Seed(order *core.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ClientID] = order.Clone()
}
