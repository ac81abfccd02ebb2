// Package engine runs the fast core: a fixed-cadence single-threaded loop
// that refreshes market data, evaluates the safety guard, detects
// arbitrage, drains slow-core signals, admits and submits orders, and
// persists the resulting snapshot once per iteration.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pred_trader/internal/arb"
	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/internal/orders"
	"pred_trader/internal/risk"
	"pred_trader/pkg/concurrency"
	"pred_trader/pkg/telemetry"
)

// Loop owns all order-state mutation. Exchange I/O inside one iteration
// may fan out (parallel book fetches) but always rejoins before the
// admission phase, so risk and order decisions see one consistent view.
type Loop struct {
	cfg      *config.Config
	store    core.IStateStore
	exchange core.IExchange
	signals  core.ISignalChannel
	risk     *risk.Manager
	guard    *risk.ToxicFlowGuard
	detector *arb.Detector
	orders   *orders.Manager
	sweeper  *orders.Reconciler
	pool     *concurrency.WorkerPool
	logger   core.ILogger

	lastSweep time.Time
	seenOpps  map[string]time.Time
}

// NewLoop wires the fast core together.
func NewLoop(
	cfg *config.Config,
	store core.IStateStore,
	exchange core.IExchange,
	signals core.ISignalChannel,
	riskMgr *risk.Manager,
	guard *risk.ToxicFlowGuard,
	detector *arb.Detector,
	orderMgr *orders.Manager,
	sweeper *orders.Reconciler,
	logger core.ILogger,
) *Loop {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "book_fetch",
		MaxWorkers:  cfg.Execution.BookFetchWorkers,
		MaxCapacity: 256,
	}, logger)

	return &Loop{
		cfg:      cfg,
		store:    store,
		exchange: exchange,
		signals:  signals,
		risk:     riskMgr,
		guard:    guard,
		detector: detector,
		orders:   orderMgr,
		sweeper:  sweeper,
		pool:     pool,
		logger:   logger.WithField("component", "execution_loop"),
		seenOpps: make(map[string]time.Time),
	}
}

// Run ticks until the context is cancelled. On shutdown it optionally
// cancels every working order before the final persist.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.TickInterval())
	defer ticker.Stop()
	defer l.pool.Stop()

	l.logger.Info("Execution loop starting",
		"tick", l.cfg.TickInterval().String(),
		"families", l.cfg.Execution.MarketFamilies)

	for {
		select {
		case <-ctx.Done():
			return l.shutdown()
		case <-ticker.C:
			start := time.Now()
			if err := l.iterate(ctx); err != nil {
				// Iteration failures degrade, they never stop the loop.
				l.logger.Error("Iteration failed", "error", err)
			}
			telemetry.GetGlobalMetrics().LoopLatency.Record(ctx,
				float64(time.Since(start).Milliseconds()))
		}
	}
}

// iterate runs one scheduler tick end to end.
func (l *Loop) iterate(ctx context.Context) error {
	snap, err := l.store.Read()
	if err != nil {
		return err
	}

	l.orders.Rollover(snap)
	l.applyModeRequest(snap)

	halted := snap.Mode == core.ModeHalt
	telemetry.GetGlobalMetrics().SetHaltActive(halted)

	markets, books := l.refreshData(ctx)

	// Safety first: a trip cancels resting orders in the same iteration
	// and suppresses every admission below, regardless of risk approval.
	tripped := l.guard.Tripped()
	if tripped {
		cctx, cancel := l.withTimeout(ctx)
		if err := l.orders.CancelAll(cctx, snap, ""); err != nil {
			l.logger.Error("Cancel-all under toxic flow failed", "error", err)
		}
		cancel()
	}

	if !halted && !tripped {
		for _, pair := range l.arbPairs(ctx, markets, books) {
			l.submitPair(ctx, snap, pair)
		}
		for _, intent := range l.signalCandidates(ctx) {
			l.admitAndSubmit(ctx, snap, intent)
		}
	} else {
		// Expire what cannot be executed anyway.
		if _, err := l.signals.ExpireStale(ctx); err != nil {
			l.logger.Error("Signal expiry failed", "error", err)
		}
	}

	if time.Since(l.lastSweep) >= time.Duration(l.cfg.Execution.ReconcileIntervalS)*time.Second {
		l.reconcile(ctx, snap)
	}

	l.publishGauges(snap)
	return l.persist(ctx, snap)
}

// applyModeRequest applies a pending control-surface mode change within
// one iteration. HALT is sticky: it only ever changes through here.
func (l *Loop) applyModeRequest(snap *core.Snapshot) {
	req := snap.ModeRequest
	if req == nil {
		return
	}
	if !req.Mode.Valid() {
		l.logger.Error("Ignoring invalid mode request", "mode", string(req.Mode))
		snap.ModeRequest = nil
		return
	}
	if req.Mode != snap.Mode {
		l.logger.Warn("Mode change applied",
			"from", string(snap.Mode),
			"to", string(req.Mode),
			"requested_by", req.RequestedBy)
		snap.Mode = req.Mode
	}
	snap.ModeRequest = nil
}

// refreshData lists markets for every configured family and fetches their
// books in parallel. The fan-out rejoins here: nothing downstream runs
// until every fetch has returned or failed.
func (l *Loop) refreshData(ctx context.Context) (map[string][]core.Market, map[string]*core.OrderBook) {
	markets := make(map[string][]core.Market)
	for _, family := range l.cfg.Execution.MarketFamilies {
		cctx, cancel := l.withTimeout(ctx)
		ms, err := l.exchange.GetMarkets(cctx, family)
		cancel()
		if err != nil {
			l.logger.Error("Market list fetch failed", "family", family, "error", err)
			continue
		}
		markets[family] = ms
	}

	books := make(map[string]*core.OrderBook)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ms := range markets {
		for _, m := range ms {
			marketID := m.ID
			wg.Add(1)
			if err := l.pool.Submit(func() {
				defer wg.Done()
				cctx, cancel := l.withTimeout(ctx)
				defer cancel()
				book, err := l.exchange.GetOrderBook(cctx, marketID)
				if err != nil {
					l.logger.Debug("Book fetch failed", "market", marketID, "error", err)
					return
				}
				mu.Lock()
				books[marketID] = book
				mu.Unlock()
			}); err != nil {
				wg.Done()
			}
		}
	}
	wg.Wait()

	return markets, books
}

// arbPair carries the two legs of one opportunity so they travel through
// admission and submission together.
type arbPair struct {
	buy   core.TradeIntent
	hedge core.TradeIntent
}

// arbPairs scans every family's books and converts surviving opportunities
// into leg pairs. An opportunity already emitted recently is skipped so
// one persistent mispricing does not stack orders every tick.
func (l *Loop) arbPairs(ctx context.Context, markets map[string][]core.Market, books map[string]*core.OrderBook) []arbPair {
	var out []arbPair
	now := time.Now()

	for family, ms := range markets {
		for _, opp := range l.detector.Scan(family, ms, books) {
			if seen, ok := l.seenOpps[opp.ID()]; ok && now.Sub(seen) < 2*l.cfg.TickInterval() {
				continue
			}

			// Quotes go stale between detection and execution; re-read
			// the books and require the opportunity to survive. A
			// vanished opportunity is a normal outcome, not an error.
			if !l.confirmOpportunity(ctx, family, ms, opp) {
				l.logger.Debug("Opportunity vanished before execution", "id", opp.ID())
				continue
			}

			l.seenOpps[opp.ID()] = now
			telemetry.GetGlobalMetrics().ArbOpportunities.Add(ctx, 1)
			l.logger.Info("Arbitrage opportunity",
				"kind", string(opp.Kind),
				"buy", opp.Buy.MarketID,
				"hedge", opp.Hedge.MarketID,
				"size", opp.Size.String(),
				"net_profit", opp.NetProfit.String())

			edge := opp.ProfitPerUnit
			out = append(out, arbPair{
				buy: core.TradeIntent{
					MarketID:  opp.Buy.MarketID,
					Family:    family,
					Side:      opp.Buy.Side,
					Price:     opp.Buy.Price,
					Size:      opp.Size,
					Edge:      edge,
					Source:    "arb_" + string(opp.Kind),
					Arbitrage: true,
				},
				hedge: core.TradeIntent{
					MarketID:  opp.Hedge.MarketID,
					Family:    family,
					Side:      opp.Hedge.Side,
					Price:     opp.Hedge.Price,
					Size:      opp.Size,
					Edge:      edge,
					Source:    "arb_" + string(opp.Kind),
					Arbitrage: true,
				},
			})
		}
	}
	return out
}

// submitPair runs an arbitrage pair through admission and submission as a
// unit. Both legs must be admitted before either touches the exchange, and
// a hedge leg that fails to submit takes the executed leg down with it
// rather than leaving it resting unhedged.
func (l *Loop) submitPair(ctx context.Context, snap *core.Snapshot, pair arbPair) {
	if snap.Mode == core.ModeHalt || l.guard.Tripped() {
		return
	}

	buyDec := l.risk.Admit(ctx, pair.buy, snap.Limits, snap)
	hedgeDec := l.risk.Admit(ctx, pair.hedge, snap.Limits, snap)
	if !buyDec.Admitted || !hedgeDec.Admitted {
		return
	}

	// The legs only lock a payout at matched quantities.
	size := decimal.Min(buyDec.Size, hedgeDec.Size)
	if !size.IsPositive() {
		return
	}

	buyOrder := l.orders.BuildOrder(pair.buy, size)
	hedgeOrder := l.orders.BuildOrder(pair.hedge, size)

	cctx, cancel := l.withTimeout(ctx)
	err := l.orders.Submit(cctx, snap, buyOrder)
	cancel()
	if err != nil {
		// The first leg may or may not exist upstream; either way the
		// hedge is not sent against it. The sweep resolves the leg.
		return
	}

	cctx, cancel = l.withTimeout(ctx)
	err = l.orders.Submit(cctx, snap, hedgeOrder)
	cancel()
	if err == nil {
		return
	}

	// Half a pair is directional exposure, not arbitrage: cancel the
	// executed leg. An unknown hedge outcome is resolved by the sweep; if
	// it did reach the exchange it stands on its own and the next
	// iteration's risk checks see it.
	l.logger.Warn("Hedge leg failed, cancelling the executed leg",
		"buy_client_id", buyOrder.ClientID,
		"hedge_client_id", hedgeOrder.ClientID,
		"market", pair.hedge.MarketID,
		"error", err)
	cctx, cancel = l.withTimeout(ctx)
	defer cancel()
	if cerr := l.orders.Cancel(cctx, snap, buyOrder.ClientID); cerr != nil {
		l.logger.Error("Unhedged leg cancel failed, deferring to reconciliation",
			"client_id", buyOrder.ClientID, "error", cerr)
	}
}

// confirmOpportunity re-fetches the involved books and re-runs detection.
func (l *Loop) confirmOpportunity(ctx context.Context, family string, markets []core.Market, opp arb.Opportunity) bool {
	fresh := make(map[string]*core.OrderBook, 2)
	for _, marketID := range []string{opp.Buy.MarketID, opp.Hedge.MarketID} {
		if _, ok := fresh[marketID]; ok {
			continue
		}
		cctx, cancel := l.withTimeout(ctx)
		book, err := l.exchange.GetOrderBook(cctx, marketID)
		cancel()
		if err != nil {
			return false
		}
		fresh[marketID] = book
	}

	for _, confirmed := range l.detector.Scan(family, markets, fresh) {
		if confirmed.ID() == opp.ID() {
			return true
		}
	}
	return false
}

// signalCandidates drains the slow core's queue into trade intents.
func (l *Loop) signalCandidates(ctx context.Context) []core.TradeIntent {
	drained, err := l.signals.DrainPending(ctx)
	if err != nil {
		l.logger.Error("Signal drain failed", "error", err)
		return nil
	}

	var out []core.TradeIntent
	for _, sig := range drained {
		if sig.Action == core.ActionExit {
			out = append(out, core.TradeIntent{
				MarketID: sig.MarketID,
				Family:   sig.Family,
				Side:     sig.Side,
				Price:    sig.Price,
				Size:     sig.Size,
				Edge:     sig.Edge,
				Source:   "signal_exit",
				SignalID: sig.ID,
			})
			continue
		}
		out = append(out, core.TradeIntent{
			MarketID: sig.MarketID,
			Family:   sig.Family,
			Side:     sig.Side,
			Price:    sig.Price,
			Size:     sig.Size,
			Edge:     sig.Edge,
			Source:   "signal",
			SignalID: sig.ID,
		})
	}
	return out
}

// admitAndSubmit closes the admission/submission race by re-checking the
// working snapshot immediately before the exchange call. HALT or a guard
// trip observed here suppresses a candidate even if it was admitted
// moments earlier.
func (l *Loop) admitAndSubmit(ctx context.Context, snap *core.Snapshot, intent core.TradeIntent) {
	if snap.Mode == core.ModeHalt || l.guard.Tripped() {
		l.rejectSignal(ctx, intent)
		return
	}

	decision := l.risk.Admit(ctx, intent, snap.Limits, snap)
	if !decision.Admitted {
		l.rejectSignal(ctx, intent)
		return
	}

	order := l.orders.BuildOrder(intent, decision.Size)
	if intent.Source == "signal_exit" {
		order.Action = core.OrderSell
	}

	cctx, cancel := l.withTimeout(ctx)
	defer cancel()
	if err := l.orders.Submit(cctx, snap, order); err != nil {
		l.logger.Warn("Submission did not complete",
			"client_id", order.ClientID,
			"market", intent.MarketID,
			"error", err)
	}
}

func (l *Loop) rejectSignal(ctx context.Context, intent core.TradeIntent) {
	if intent.SignalID == "" {
		return
	}
	if err := l.signals.MarkRejected(ctx, intent.SignalID); err != nil {
		l.logger.Error("Failed to mark signal rejected", "signal", intent.SignalID, "error", err)
	}
}

// reconcile runs the sweep inline on its slower cadence and refreshes the
// exchange-confirmed balance.
func (l *Loop) reconcile(ctx context.Context, snap *core.Snapshot) {
	l.lastSweep = time.Now()

	cctx, cancel := l.withTimeout(ctx)
	defer cancel()

	result, err := l.sweeper.Sweep(cctx, snap)
	if err != nil {
		l.logger.Error("Reconciliation sweep failed", "error", err)
		return
	}
	if result.Adopted+result.Expired+result.Confirmed > 0 {
		l.logger.Info("Reconciliation sweep",
			"adopted", result.Adopted,
			"expired", result.Expired,
			"confirmed", result.Confirmed)
	}

	balance, err := l.exchange.GetBalance(cctx)
	if err != nil {
		l.logger.Warn("Balance refresh failed", "error", err)
		return
	}
	snap.Account.Balance = balance
}

// persist merges the iteration's working state onto the freshest snapshot
// and writes it atomically.
func (l *Loop) persist(ctx context.Context, work *core.Snapshot) error {
	_, err := l.store.Update(ctx, core.OwnerFast, func(s *core.Snapshot) error {
		s.Account = work.Account
		s.Mode = work.Mode
		s.Orders = work.Orders
		s.Positions = work.Positions
		s.Signals = work.Signals
		s.ModeRequest = work.ModeRequest
		return nil
	})
	return err
}

func (l *Loop) publishGauges(snap *core.Snapshot) {
	m := telemetry.GetGlobalMetrics()
	m.SetOpenPositions(int64(snap.OpenPositionCount()))
	byFamily := make(map[string]int64)
	for _, o := range snap.WorkingOrders("") {
		byFamily[o.Family]++
	}
	for family, n := range byFamily {
		m.SetActiveOrders(family, n)
	}
}

// withTimeout bounds one exchange call. Every call in the loop carries
// this timeout; a timeout is an unknown outcome for the sweep, never a
// blind retry.
func (l *Loop) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.ExchangeTimeout())
}

// shutdown optionally flattens working orders before exit.
func (l *Loop) shutdown() error {
	if !l.cfg.Execution.CancelOrdersOnExit {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := l.store.Read()
	if err != nil {
		return err
	}
	if err := l.orders.CancelAll(ctx, snap, ""); err != nil {
		l.logger.Error("Shutdown cancel-all incomplete", "error", err)
	}
	return l.persist(ctx, snap)
}

