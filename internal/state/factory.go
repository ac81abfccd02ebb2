package state

import (
	"fmt"

	"pred_trader/internal/config"
	"pred_trader/internal/core"
)

// NewStore builds the snapshot store selected by configuration.
func NewStore(cfg *config.Config, logger core.ILogger) (core.IStateStore, error) {
	switch cfg.App.StateBackend {
	case "file":
		return NewFileStore(cfg.App.StatePath, logger)
	case "sqlite":
		return NewSQLiteStore(cfg.App.StatePath, logger)
	default:
		return nil, fmt.Errorf("unknown state backend: %s", cfg.App.StateBackend)
	}
}
