package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/pkg/websocket"
)

// ReferenceFeed streams sub-second spot price samples for the toxic flow
// guard over a Coinbase-style ticker websocket. The feed is independent of
// the traded markets by design.
type ReferenceFeed struct {
	url        string
	underlying string
	logger     core.ILogger

	mu       sync.RWMutex
	client   *websocket.Client
	onSample func(core.PriceSample)
	last     core.PriceSample
	hasLast  bool
}

// NewReferenceFeed creates a feed for the configured underlying.
func NewReferenceFeed(cfg *config.Config, logger core.ILogger) *ReferenceFeed {
	return &ReferenceFeed{
		url:        cfg.ToxicFlow.FeedURL,
		underlying: cfg.ToxicFlow.Underlying,
		logger:     logger.WithField("component", "reference_feed"),
	}
}

// Start connects and begins delivering samples to onSample. The websocket
// client reconnects on its own; a dropped connection only widens the
// sampling gap.
func (f *ReferenceFeed) Start(ctx context.Context, onSample func(core.PriceSample)) error {
	f.mu.Lock()
	f.onSample = onSample
	f.client = websocket.NewClient(f.url, f.handleMessage, f.logger)
	client := f.client
	f.mu.Unlock()

	client.SetOnConnected(func() {
		sub := map[string]interface{}{
			"type":        "subscribe",
			"product_ids": []string{f.underlying},
			"channels":    []string{"ticker"},
		}
		if err := client.Send(sub); err != nil {
			f.logger.Error("Failed to subscribe to ticker", "error", err)
		}
	})
	client.Start()
	f.logger.Info("Reference feed started", "underlying", f.underlying, "url", f.url)
	return nil
}

// Stop closes the connection.
func (f *ReferenceFeed) Stop() error {
	f.mu.Lock()
	client := f.client
	f.client = nil
	f.mu.Unlock()
	if client != nil {
		client.Stop()
	}
	return nil
}

// LastSample returns the most recent sample, if any was received.
func (f *ReferenceFeed) LastSample() (core.PriceSample, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last, f.hasLast
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

func (f *ReferenceFeed) handleMessage(message []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.logger.Debug("Dropping unparsable feed message", "error", err)
		return
	}
	if msg.Type != "ticker" || msg.ProductID != f.underlying {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		f.logger.Debug("Dropping ticker with bad price", "price", msg.Price)
		return
	}

	sample := core.PriceSample{Price: price, At: time.Now()}

	f.mu.Lock()
	f.last = sample
	f.hasLast = true
	cb := f.onSample
	f.mu.Unlock()

	if cb != nil {
		cb(sample)
	}
}
