package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "cronsage/pkg/logx"
)

const defaultBusyTimeout = 2 * time.Second

// Store is the persistence API used by the analyzer, tracker, and registry.
//
// Appends go through a serialized writer path bounded by the busy timeout;
// reads operate on the last fully-committed snapshot and never wait on a
// concurrent writer.
type Store interface {
	AppendExecution(ctx context.Context, rec ExecutionRecord) error
	// Executions returns records for one job, or all records when jobID is "".
	Executions(ctx context.Context, jobID string) ([]ExecutionRecord, error)

	AppendComparison(ctx context.Context, cmp ExecutionComparison) error
	Comparisons(ctx context.Context, jobID string) ([]ExecutionComparison, error)

	// SaveStrategies replaces the strategy table with the given population.
	SaveStrategies(ctx context.Context, strategies []StrategyRecord) error
	Strategies(ctx context.Context) ([]StrategyRecord, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
