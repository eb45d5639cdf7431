package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "heatrank/pkg/logx"
)

// Store persists what the host needs across restarts: the delivery audit
// trail, notifier dedup marks and registered config pages.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	// PutDedup marks key as delivered until the given time.
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// SavePage upserts the page of one plugin.
	SavePage(ctx context.Context, p PageRecord) error
	Pages(ctx context.Context) ([]PageRecord, error)

	Close() error
}

// Open returns the store for cfg.Driver, or nil and no error when storage
// is off ("" or "none").
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
