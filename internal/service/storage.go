package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/projectm/lms-session/internal/adapter/outbound/memory"
	"github.com/projectm/lms-session/internal/adapter/outbound/sqlite"
	"github.com/projectm/lms-session/internal/adapter/outbound/state"
	"github.com/projectm/lms-session/internal/port/outbound"
)

// Storage drivers accepted by OpenStore.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// OpenStore opens the key-value store selected by driver. path is ignored
// for the memory driver.
func OpenStore(ctx context.Context, driver, path string, logger *slog.Logger) (outbound.WatchableStore, error) {
	switch driver {
	case DriverFile, "":
		return state.NewFileStore(path, logger), nil
	case DriverSQLite:
		s, err := sqlite.Open(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.NewKVStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
