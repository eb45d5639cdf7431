package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"heatrank/internal/config"
	logx "heatrank/pkg/logx"
)

// Manager drives plugin lifecycles from the host config.
//
// A plugin whose Init fails is logged and left inert; the host and the other
// plugins keep running. Stop errors are logged and swallowed.
type Manager struct {
	mu sync.Mutex

	log  logx.Logger
	deps Deps

	reg     map[string]Plugin
	order   []string
	running map[string]bool
	enabled map[string]bool
	started map[string]time.Time
	lastErr map[string]string
	// raw config hash per running plugin, used to skip no-op reloads
	lastRawHash map[string]uint64
}

// NewManager creates a manager that hands deps (minus Config, which is
// per-plugin) to every plugin it starts.
func NewManager(log logx.Logger, deps Deps) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:         log,
		deps:        deps,
		reg:         map[string]Plugin{},
		running:     map[string]bool{},
		enabled:     map[string]bool{},
		started:     map[string]time.Time{},
		lastErr:     map[string]string{},
		lastRawHash: map[string]uint64{},
	}
}

func (m *Manager) Register(p ...Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pl := range p {
		if pl == nil {
			continue
		}
		name := pl.Name()
		if _, dup := m.reg[name]; !dup {
			m.order = append(m.order, name)
		}
		m.reg[name] = pl
	}
}

// Get returns a registered plugin by name.
func (m *Manager) Get(name string) (Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.reg[name]
	return p, ok
}

// StartAll initializes every enabled plugin. Plugins without a config entry
// or with enabled=false are skipped.
func (m *Manager) StartAll(ctx context.Context, cfgs map[string]config.PluginConfigRaw) {
	m.reconcile(ctx, cfgs)
}

// Reload brings running plugins in line with cfgs: disabled plugins are
// stopped, enabled ones are started, and running plugins whose config blob
// changed are stopped and initialized again.
func (m *Manager) Reload(ctx context.Context, cfgs map[string]config.PluginConfigRaw) {
	m.reconcile(ctx, cfgs)
}

func (m *Manager) reconcile(ctx context.Context, cfgs map[string]config.PluginConfigRaw) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range names {
		raw, ok := cfgs[name]
		enabled := ok && raw.Enabled
		h := configHash(raw.Config)

		m.mu.Lock()
		m.enabled[name] = enabled
		running := m.running[name]
		same := m.lastRawHash[name] == h
		m.mu.Unlock()

		switch {
		case !enabled && running:
			m.stopOne(ctx, name, "disabled")
		case enabled && running && !same:
			m.stopOne(ctx, name, "config changed")
			m.startOne(ctx, name, raw, h)
		case enabled && !running:
			m.startOne(ctx, name, raw, h)
		case !enabled:
			m.log.Debug("plugin disabled", logx.String("plugin", name))
		}
	}
}

// StopAll tears down every running plugin in reverse registration order.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		m.mu.Lock()
		running := m.running[names[i]]
		m.mu.Unlock()
		if running {
			m.stopOne(ctx, names[i], "shutdown")
		}
	}
}

func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.reg))
	for _, name := range m.order {
		out = append(out, Status{
			Name:      name,
			Enabled:   m.enabled[name],
			Running:   m.running[name],
			StartedAt: m.started[name],
			LastError: m.lastErr[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) startOne(ctx context.Context, name string, raw config.PluginConfigRaw, rawHash uint64) {
	m.mu.Lock()
	p := m.reg[name]
	deps := m.deps
	m.mu.Unlock()
	if p == nil {
		return
	}

	deps.Logger = m.log.With(logx.String("plugin", name))
	deps.Config = raw.Config

	start := time.Now()
	err := safeCall(func() error { return p.Init(ctx, deps) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.running[name] = false
		m.lastErr[name] = err.Error()
		delete(m.lastRawHash, name)
		m.log.Error("plugin init failed; plugin left inert", logx.String("plugin", name), logx.Err(err))
		return
	}
	m.running[name] = true
	m.started[name] = time.Now()
	m.lastErr[name] = ""
	m.lastRawHash[name] = rawHash
	m.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
}

func (m *Manager) stopOne(ctx context.Context, name, reason string) {
	m.mu.Lock()
	p := m.reg[name]
	m.mu.Unlock()
	if p == nil {
		return
	}

	err := safeCall(func() error { return p.Stop(ctx) })

	m.mu.Lock()
	m.running[name] = false
	delete(m.lastRawHash, name)
	if err != nil {
		m.lastErr[name] = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("plugin stop failed", logx.String("plugin", name), logx.String("reason", reason), logx.Err(err))
		return
	}
	m.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", reason))
}

// safeCall converts a panic in plugin code into an error so a broken plugin
// cannot take the host down.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// configHash fingerprints a plugin config blob. Valid JSON is re-encoded
// first so key order and whitespace do not count as a change.
func configHash(raw json.RawMessage) uint64 {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		if canon, err := json.Marshal(v); err == nil {
			b = canon
		}
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
