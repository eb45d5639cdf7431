package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (alias "sqlite3"): SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records one notification delivery attempt.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Source   string // plugin that produced the notification
	Sink     string
	Title    string
	OK       bool
	Attempts int
	Error    string
	TookMS   int64
}

// PageRecord is a persisted plugin config page.
type PageRecord struct {
	Plugin      string
	Title       string
	Description string
	SchemaJSON  string
	UpdatedAt   time.Time
}
