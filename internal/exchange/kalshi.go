package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	apperrors "pred_trader/pkg/errors"
	appnet "pred_trader/pkg/http"
	"pred_trader/pkg/telemetry"
)

const apiPrefix = "/trade-api/v2"

// Kalshi implements core.IExchange against the Kalshi trade API. Read
// endpoints go through a retrying client; mutating endpoints (submit,
// cancel) go through a breaker-only client so a lost response surfaces as
// an unknown outcome instead of a blind retry.
type Kalshi struct {
	reads   *appnet.Client
	mutates *appnet.Client
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewKalshi builds the adapter from configuration.
func NewKalshi(cfg *config.Config, logger core.ILogger) (*Kalshi, error) {
	signer, err := NewRequestSigner(cfg.Exchange.APIKeyID, cfg.Exchange.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	timeout := cfg.ExchangeTimeout()
	return &Kalshi{
		reads:   appnet.NewClient(cfg.Exchange.BaseURL, timeout, signer),
		mutates: appnet.NewClientNoRetry(cfg.Exchange.BaseURL, timeout, signer),
		limiter: rate.NewLimiter(rate.Limit(cfg.Exchange.RateLimitRPS), int(cfg.Exchange.RateLimitRPS)+1),
		logger:  logger.WithField("component", "kalshi"),
	}, nil
}

func (k *Kalshi) GetName() string { return "kalshi" }

// CheckHealth verifies API reachability with an exchange status call.
func (k *Kalshi) CheckHealth(ctx context.Context) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := k.reads.Get(ctx, apiPrefix+"/exchange/status", nil)
	return err
}

type kalshiMarket struct {
	Ticker      string      `json:"ticker"`
	Title       string      `json:"title"`
	Status      string      `json:"status"`
	FloorStrike json.Number `json:"floor_strike"`
	CloseTime   time.Time   `json:"close_time"`
}

// GetMarkets lists open markets in one series (market family).
func (k *Kalshi) GetMarkets(ctx context.Context, family string) ([]core.Market, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	body, err := k.reads.Get(ctx, apiPrefix+"/markets", map[string]string{
		"series_ticker": family,
		"status":        "open",
		"limit":         "100",
	})
	k.observe(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}

	var resp struct {
		Markets []kalshiMarket `json:"markets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	out := make([]core.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		market := core.Market{
			ID:        m.Ticker,
			Family:    family,
			Title:     m.Title,
			CloseTime: m.CloseTime,
			Active:    m.Status == "open" || m.Status == "active",
		}
		if s := m.FloorStrike.String(); s != "" {
			if strike, err := decimal.NewFromString(s); err == nil {
				market.Strike = strike
				market.HasStrike = true
			}
		}
		out = append(out, market)
	}
	return out, nil
}

// GetOrderBook fetches one market's book. The API reports resting bids per
// side in cents; asks are the complement of the opposite side's best bids.
func (k *Kalshi) GetOrderBook(ctx context.Context, marketID string) (*core.OrderBook, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	body, err := k.reads.Get(ctx, apiPrefix+"/markets/"+marketID+"/orderbook", nil)
	k.observe(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orderbook: %w", err)
	}

	var resp struct {
		Orderbook struct {
			Yes [][]int64 `json:"yes"`
			No  [][]int64 `json:"no"`
		} `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode orderbook: %w", err)
	}

	book := &core.OrderBook{MarketID: marketID, FetchedAt: time.Now()}
	book.YesBids = bidLevels(resp.Orderbook.Yes)
	book.NoBids = bidLevels(resp.Orderbook.No)
	book.YesAsks = complementLevels(resp.Orderbook.No)
	book.NoAsks = complementLevels(resp.Orderbook.Yes)
	return book, nil
}

// bidLevels converts [price_cents, quantity] rows to dollar levels.
func bidLevels(rows [][]int64) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, core.PriceLevel{
			Price: decimal.New(row[0], -2),
			Qty:   decimal.NewFromInt(row[1]),
		})
	}
	return out
}

// complementLevels derives one side's asks from the other side's bids:
// a resting NO bid at p fills a YES taker at 1 - p for the same quantity.
func complementLevels(rows [][]int64) []core.PriceLevel {
	out := make([]core.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, core.PriceLevel{
			Price: decimal.New(100-row[0], -2),
			Qty:   decimal.NewFromInt(row[1]),
		})
	}
	return out
}

// GetBalance returns the available balance in dollars.
func (k *Kalshi) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	start := time.Now()
	body, err := k.reads.Get(ctx, apiPrefix+"/portfolio/balance", nil)
	k.observe(ctx, start)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balance: %w", err)
	}
	return decimal.New(resp.Balance, -2), nil
}

type kalshiOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	Count          int64  `json:"count"`
	RemainingCount int64  `json:"remaining_count"`
}

// SubmitOrder places a limit order carrying the client id as the
// exchange-side idempotency key.
func (k *Kalshi) SubmitOrder(ctx context.Context, order *core.Order) (*core.Order, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	priceCents := order.Price.Mul(decimal.NewFromInt(100)).IntPart()
	payload := map[string]interface{}{
		"ticker":          order.MarketID,
		"client_order_id": order.ClientID,
		"action":          string(order.Action),
		"side":            string(order.Side),
		"type":            "limit",
		"count":           order.Quantity.IntPart(),
	}
	if order.Side == core.SideYes {
		payload["yes_price"] = priceCents
	} else {
		payload["no_price"] = priceCents
	}

	start := time.Now()
	body, err := k.mutates.Post(ctx, apiPrefix+"/portfolio/orders", payload)
	k.observe(ctx, start)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order kalshiOrder `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order ack: %w", err)
	}
	return k.toOrder(resp.Order), nil
}

// CancelOrder cancels by exchange order id.
func (k *Kalshi) CancelOrder(ctx context.Context, exchangeID string) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	_, err := k.mutates.Delete(ctx, apiPrefix+"/portfolio/orders/"+exchangeID, nil)
	k.observe(ctx, start)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == 404 {
			return apperrors.ErrOrderNotFound
		}
		return err
	}
	return nil
}

// GetOrder looks an order up by its client id.
func (k *Kalshi) GetOrder(ctx context.Context, clientID string) (*core.Order, error) {
	orders, err := k.listOrders(ctx, map[string]string{})
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.ClientID == clientID {
			return o, nil
		}
	}
	return nil, apperrors.ErrOrderNotFound
}

// GetOpenOrders returns every resting order.
func (k *Kalshi) GetOpenOrders(ctx context.Context) ([]*core.Order, error) {
	return k.listOrders(ctx, map[string]string{"status": "resting"})
}

func (k *Kalshi) listOrders(ctx context.Context, params map[string]string) ([]*core.Order, error) {
	if err := k.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	body, err := k.reads.Get(ctx, apiPrefix+"/portfolio/orders", params)
	k.observe(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	var resp struct {
		Orders []kalshiOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}

	out := make([]*core.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, k.toOrder(o))
	}
	return out, nil
}

func (k *Kalshi) toOrder(o kalshiOrder) *core.Order {
	side := core.SideYes
	priceCents := o.YesPrice
	if o.Side == "no" {
		side = core.SideNo
		priceCents = o.NoPrice
	}
	return &core.Order{
		ClientID:   o.ClientOrderID,
		ExchangeID: o.OrderID,
		MarketID:   o.Ticker,
		Side:       side,
		Action:     core.OrderAction(o.Action),
		Price:      decimal.New(priceCents, -2),
		Quantity:   decimal.NewFromInt(o.Count),
		Remaining:  decimal.NewFromInt(o.RemainingCount),
		State:      mapOrderStatus(o.Status, o.Count, o.RemainingCount),
		UpdatedAt:  time.Now(),
	}
}

// mapOrderStatus translates exchange statuses onto the local lifecycle.
func mapOrderStatus(status string, count, remaining int64) core.OrderState {
	switch status {
	case "resting", "pending":
		if remaining < count {
			return core.OrderPartiallyFilled
		}
		return core.OrderSubmitted
	case "executed":
		return core.OrderFilled
	case "canceled", "cancelled":
		return core.OrderCancelled
	case "rejected":
		return core.OrderRejected
	}
	return core.OrderSubmitted
}

func (k *Kalshi) observe(ctx context.Context, start time.Time) {
	telemetry.GetGlobalMetrics().LatencyExchange.Record(ctx, float64(time.Since(start).Milliseconds()))
}

func asAPIError(err error) (*appnet.APIError, bool) {
	var apiErr *appnet.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
