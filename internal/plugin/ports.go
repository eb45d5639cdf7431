package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

var (
	ErrSchedulerUnavailable = errors.New("scheduler not available")
	ErrNotifierUnavailable  = errors.New("notifier not available")
)

// Plugin is the lifecycle contract between the host and a plugin.
//
// Init is the plugin's initialize hook: it receives every host facility it
// may use through Deps. Stop is the teardown hook and must be idempotent.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Stop(ctx context.Context) error
}

// Deps is what the host injects into a plugin on Init. Any port may be nil
// when the corresponding host service is disabled.
type Deps struct {
	Logger    logx.Logger
	Scheduler SchedulerPort
	Notifier  NotifierPort
	Pages     PageRegistry

	// Config is the plugin's raw config blob from the host config file.
	Config json.RawMessage
}

// SchedulerPort is the host scheduler as seen by plugins.
type SchedulerPort interface {
	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
	Has(name string) bool
}

// NotifierPort is the host notification facility.
type NotifierPort interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Page describes a plugin's configuration form in the host UI.
type Page struct {
	Plugin      string
	Title       string
	Description string
	Schema      map[string]any
}

// PageRegistry accepts config page registrations.
type PageRegistry interface {
	RegisterPage(ctx context.Context, p Page) error
}

// DecodeConfig overlays a per-plugin raw json blob on def, so omitted fields
// keep their defaults. An empty or null blob yields def. Unknown fields are
// rejected.
func DecodeConfig[T any](raw json.RawMessage, def T) (T, error) {
	out := def
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return def, err
	}
	return out, nil
}
