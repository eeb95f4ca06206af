package storage

import (
	"context"
	"errors"
	"strings"

	logx "rtcore/pkg/logx"
)

// Store is the journal API used by the host.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n entries, oldest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
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
