package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPnLRealizedTotal    = "pred_trader_pnl_realized_total"
	MetricFeesPaidTotal       = "pred_trader_fees_paid_total"
	MetricOrdersPlacedTotal   = "pred_trader_orders_placed_total"
	MetricOrdersFilledTotal   = "pred_trader_orders_filled_total"
	MetricOrdersActive        = "pred_trader_orders_active"
	MetricPositionsOpen       = "pred_trader_positions_open"
	MetricSignalsConsumed     = "pred_trader_signals_consumed_total"
	MetricArbOpportunities    = "pred_trader_arb_opportunities_total"
	MetricRiskRejections      = "pred_trader_risk_rejections_total"
	MetricToxicFlowTripped    = "pred_trader_toxic_flow_tripped"
	MetricHaltActive          = "pred_trader_halt_active"
	MetricSnapshotWritesTotal = "pred_trader_snapshot_writes_total"
	MetricLoopLatency         = "pred_trader_loop_iteration_ms"
	MetricLatencyExchange     = "pred_trader_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PnLRealizedTotal  metric.Float64Counter
	FeesPaidTotal     metric.Float64Counter
	OrdersPlacedTotal metric.Int64Counter
	OrdersFilledTotal metric.Int64Counter
	SignalsConsumed   metric.Int64Counter
	ArbOpportunities  metric.Int64Counter
	RiskRejections    metric.Int64Counter
	SnapshotWrites    metric.Int64Counter
	OrdersActive      metric.Int64ObservableGauge
	PositionsOpen     metric.Int64ObservableGauge
	ToxicFlowTripped  metric.Int64ObservableGauge
	HaltActive        metric.Int64ObservableGauge
	LoopLatency       metric.Float64Histogram
	LatencyExchange   metric.Float64Histogram

	// State for observable gauges
	mu              sync.RWMutex
	activeOrdersMap map[string]int64
	openPositions   int64
	toxicTrippedMap map[string]int64
	haltActive      int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments are
// bound to the ambient meter provider up front (a no-op before Setup runs)
// so callers never observe nil instruments; Setup rebinds them to the real
// provider.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap: make(map[string]int64),
			toxicTrippedMap: make(map[string]int64),
		}
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("pred_trader"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	m.FeesPaidTotal, err = meter.Float64Counter(MetricFeesPaidTotal, metric.WithDescription("Cumulative exchange fees paid"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders submitted to the exchange"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders fully filled"))
	if err != nil {
		return err
	}

	m.SignalsConsumed, err = meter.Int64Counter(MetricSignalsConsumed, metric.WithDescription("Signals drained from the slow core"))
	if err != nil {
		return err
	}

	m.ArbOpportunities, err = meter.Int64Counter(MetricArbOpportunities, metric.WithDescription("Arbitrage opportunities detected"))
	if err != nil {
		return err
	}

	m.RiskRejections, err = meter.Int64Counter(MetricRiskRejections, metric.WithDescription("Candidates rejected by risk admission"))
	if err != nil {
		return err
	}

	m.SnapshotWrites, err = meter.Int64Counter(MetricSnapshotWritesTotal, metric.WithDescription("State snapshots persisted"))
	if err != nil {
		return err
	}

	m.LoopLatency, err = meter.Float64Histogram(MetricLoopLatency, metric.WithDescription("Execution loop iteration duration"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently working orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for family, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("family", family)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Number of open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	if err != nil {
		return err
	}

	m.ToxicFlowTripped, err = meter.Int64ObservableGauge(MetricToxicFlowTripped, metric.WithDescription("Toxic flow guard trip state (1=tripped, 0=normal)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for underlying, val := range m.toxicTrippedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("underlying", underlying)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.HaltActive, err = meter.Int64ObservableGauge(MetricHaltActive, metric.WithDescription("HALT mode state (1=halted, 0=trading)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.haltActive)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(family string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[family] = count
}

func (m *MetricsHolder) SetOpenPositions(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = count
}

func (m *MetricsHolder) SetToxicFlowTripped(underlying string, tripped bool) {
	val := int64(0)
	if tripped {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toxicTrippedMap[underlying] = val
}

func (m *MetricsHolder) SetHaltActive(halted bool) {
	val := int64(0)
	if halted {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltActive = val
}
