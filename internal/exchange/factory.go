package exchange

import (
	"fmt"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/internal/mock"
)

// New builds the exchange adapter selected by configuration.
func New(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	switch cfg.Exchange.Name {
	case "kalshi":
		return NewKalshi(cfg, logger)
	case "mock":
		return mock.NewExchange("mock"), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", cfg.Exchange.Name)
	}
}
