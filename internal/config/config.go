// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure. It is built once
// at startup and passed explicitly to component constructors; anything
// hot-reloadable (mode, risk limits) travels through the state store
// instead.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Execution ExecutionConfig `yaml:"execution"`
	Risk      RiskConfig      `yaml:"risk"`
	ToxicFlow ToxicFlowConfig `yaml:"toxic_flow"`
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	StateBackend string `yaml:"state_backend"` // "file" or "sqlite"
	StatePath    string `yaml:"state_path"`    // snapshot file or sqlite db path
}

// ExchangeConfig contains exchange connectivity settings
type ExchangeConfig struct {
	Name           string  `yaml:"name"` // "kalshi" or "mock"
	BaseURL        string  `yaml:"base_url"`
	APIKeyID       string  `yaml:"api_key_id"`
	PrivateKeyPath string  `yaml:"private_key_path"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	TimeoutMS      int     `yaml:"timeout_ms"`
}

// ExecutionConfig contains the fast loop's cadences and scope
type ExecutionConfig struct {
	TickIntervalMS     int      `yaml:"tick_interval_ms"`
	ReconcileIntervalS int      `yaml:"reconcile_interval_s"`
	ReconcileGraceS    int      `yaml:"reconcile_grace_s"`
	SignalTTLS         int      `yaml:"signal_ttl_s"`
	MarketFamilies     []string `yaml:"market_families"`
	BookFetchWorkers   int      `yaml:"book_fetch_workers"`
	SlowCoreIntervalS  int      `yaml:"slow_core_interval_s"`
	CancelOrdersOnExit bool     `yaml:"cancel_orders_on_exit"`
}

// RiskConfig seeds the snapshot's risk limits on first start
type RiskConfig struct {
	MaxPositionSize    float64 `yaml:"max_position_size"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
	MaxFamilyExposure  float64 `yaml:"max_family_exposure"`
	DailyDrawdownLimit float64 `yaml:"daily_drawdown_limit"`
	WeeklyDrawdown     float64 `yaml:"weekly_drawdown_limit"`
	MinEdge            float64 `yaml:"min_edge"`

	// Mode presets scale the effective size and edge threshold
	DefensiveSizeScale  float64 `yaml:"defensive_size_scale"`
	DefensiveEdgeScale  float64 `yaml:"defensive_edge_scale"`
	AggressiveSizeScale float64 `yaml:"aggressive_size_scale"`
	AggressiveEdgeScale float64 `yaml:"aggressive_edge_scale"`
}

// ToxicFlowConfig configures the safety interlock
type ToxicFlowConfig struct {
	Underlying        string  `yaml:"underlying"` // e.g. "BTC-USD"
	FeedURL           string  `yaml:"feed_url"`
	VelocityThreshold float64 `yaml:"velocity_threshold"` // units per second
	WindowMS          int     `yaml:"window_ms"`
	CooldownS         int     `yaml:"cooldown_s"`
}

// ArbitrageConfig configures the detector
type ArbitrageConfig struct {
	MinProfitPerTrade float64 `yaml:"min_profit_per_trade"`
	MaxPairSize       float64 `yaml:"max_pair_size"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.Expand(string(data), os.Getenv)

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.StateBackend == "" {
		c.App.StateBackend = "file"
	}
	if c.Exchange.TimeoutMS <= 0 {
		c.Exchange.TimeoutMS = 5000
	}
	if c.Exchange.RateLimitRPS <= 0 {
		c.Exchange.RateLimitRPS = 10
	}
	if c.Execution.TickIntervalMS <= 0 {
		c.Execution.TickIntervalMS = 500
	}
	if c.Execution.ReconcileIntervalS <= 0 {
		c.Execution.ReconcileIntervalS = 30
	}
	if c.Execution.ReconcileGraceS <= 0 {
		c.Execution.ReconcileGraceS = 60
	}
	if c.Execution.SignalTTLS <= 0 {
		c.Execution.SignalTTLS = 120
	}
	if c.Execution.BookFetchWorkers <= 0 {
		c.Execution.BookFetchWorkers = 4
	}
	if c.Execution.SlowCoreIntervalS <= 0 {
		c.Execution.SlowCoreIntervalS = 15
	}
	if c.ToxicFlow.WindowMS <= 0 {
		c.ToxicFlow.WindowMS = 1000
	}
	if c.ToxicFlow.CooldownS <= 0 {
		c.ToxicFlow.CooldownS = 30
	}
	if c.Risk.DefensiveSizeScale <= 0 {
		c.Risk.DefensiveSizeScale = 0.5
	}
	if c.Risk.DefensiveEdgeScale <= 0 {
		c.Risk.DefensiveEdgeScale = 2.0
	}
	if c.Risk.AggressiveSizeScale <= 0 {
		c.Risk.AggressiveSizeScale = 1.5
	}
	if c.Risk.AggressiveEdgeScale <= 0 {
		c.Risk.AggressiveEdgeScale = 0.5
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExecution(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateToxicFlow(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateApp() error {
	switch c.App.StateBackend {
	case "file", "sqlite":
	default:
		return ValidationError{
			Field:   "app.state_backend",
			Value:   c.App.StateBackend,
			Message: "must be one of: file, sqlite",
		}
	}
	if c.App.StatePath == "" {
		return ValidationError{
			Field:   "app.state_path",
			Message: "state path is required",
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	switch c.Exchange.Name {
	case "kalshi", "mock":
	default:
		return ValidationError{
			Field:   "exchange.name",
			Value:   c.Exchange.Name,
			Message: "must be one of: kalshi, mock",
		}
	}
	if c.Exchange.Name == "kalshi" {
		if c.Exchange.APIKeyID == "" {
			return ValidationError{
				Field:   "exchange.api_key_id",
				Message: "API key id is required",
			}
		}
		if c.Exchange.PrivateKeyPath == "" {
			return ValidationError{
				Field:   "exchange.private_key_path",
				Message: "private key path is required",
			}
		}
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.TickIntervalMS < 100 || c.Execution.TickIntervalMS > 10000 {
		return ValidationError{
			Field:   "execution.tick_interval_ms",
			Value:   c.Execution.TickIntervalMS,
			Message: "must be between 100 and 10000",
		}
	}
	if len(c.Execution.MarketFamilies) == 0 {
		return ValidationError{
			Field:   "execution.market_families",
			Message: "at least one market family is required",
		}
	}
	if c.Execution.ReconcileIntervalS*1000 < c.Execution.TickIntervalMS {
		return ValidationError{
			Field:   "execution.reconcile_interval_s",
			Value:   c.Execution.ReconcileIntervalS,
			Message: "reconcile cadence must be slower than the tick interval",
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxPositionSize <= 0 {
		return ValidationError{
			Field:   "risk.max_position_size",
			Value:   c.Risk.MaxPositionSize,
			Message: "must be positive",
		}
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return ValidationError{
			Field:   "risk.max_open_positions",
			Value:   c.Risk.MaxOpenPositions,
			Message: "must be positive",
		}
	}
	if c.Risk.DailyDrawdownLimit < 0 || c.Risk.DailyDrawdownLimit > 1 {
		return ValidationError{
			Field:   "risk.daily_drawdown_limit",
			Value:   c.Risk.DailyDrawdownLimit,
			Message: "must be a fraction between 0 and 1",
		}
	}
	return nil
}

func (c *Config) validateToxicFlow() error {
	if c.ToxicFlow.VelocityThreshold <= 0 {
		return ValidationError{
			Field:   "toxic_flow.velocity_threshold",
			Value:   c.ToxicFlow.VelocityThreshold,
			Message: "must be positive",
		}
	}
	if c.ToxicFlow.Underlying == "" {
		return ValidationError{
			Field:   "toxic_flow.underlying",
			Message: "underlying symbol is required",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	for _, l := range validLevels {
		if strings.ToUpper(c.System.LogLevel) == l {
			return nil
		}
	}
	return ValidationError{
		Field:   "system.log_level",
		Value:   c.System.LogLevel,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
	}
}

// RiskLimitsSeed mirrors the snapshot's limit document in decimal form.
type RiskLimitsSeed struct {
	MaxPositionSize    decimal.Decimal
	MaxOpenPositions   int
	MaxFamilyExposure  decimal.Decimal
	DailyDrawdownLimit decimal.Decimal
	WeeklyDrawdown     decimal.Decimal
	MinEdge            decimal.Decimal
}

// SeedLimits converts the risk section into the snapshot's limit document.
func (c *Config) SeedLimits() RiskLimitsSeed {
	return RiskLimitsSeed{
		MaxPositionSize:    decimal.NewFromFloat(c.Risk.MaxPositionSize),
		MaxOpenPositions:   c.Risk.MaxOpenPositions,
		MaxFamilyExposure:  decimal.NewFromFloat(c.Risk.MaxFamilyExposure),
		DailyDrawdownLimit: decimal.NewFromFloat(c.Risk.DailyDrawdownLimit),
		WeeklyDrawdown:     decimal.NewFromFloat(c.Risk.WeeklyDrawdown),
		MinEdge:            decimal.NewFromFloat(c.Risk.MinEdge),
	}
}

// TickInterval returns the loop cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Execution.TickIntervalMS) * time.Millisecond
}

// ExchangeTimeout returns the per-call exchange timeout.
func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.Exchange.TimeoutMS) * time.Millisecond
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			StateBackend: "file",
			StatePath:    "state/snapshot.json",
		},
		Exchange: ExchangeConfig{
			Name:         "mock",
			RateLimitRPS: 10,
			TimeoutMS:    2000,
		},
		Execution: ExecutionConfig{
			TickIntervalMS:     500,
			ReconcileIntervalS: 30,
			MarketFamilies:     []string{"KXBTC"},
		},
		Risk: RiskConfig{
			MaxPositionSize:    10,
			MaxOpenPositions:   4,
			MaxFamilyExposure:  50,
			DailyDrawdownLimit: 0.05,
			WeeklyDrawdown:     0.15,
			MinEdge:            0.02,
		},
		ToxicFlow: ToxicFlowConfig{
			Underlying:        "BTC-USD",
			VelocityThreshold: 50,
		},
		Arbitrage: ArbitrageConfig{
			MinProfitPerTrade: 0.01,
			MaxPairSize:       20,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
	cfg.applyDefaults()
	return cfg
}
