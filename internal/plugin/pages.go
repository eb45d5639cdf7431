package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"heatrank/internal/storage"
	logx "heatrank/pkg/logx"
)

// Pages is the host's config page registry. Pages are kept in memory and,
// when a store is configured, persisted; Load brings them back on the next
// start, before any plugin registers again.
type Pages struct {
	mu    sync.RWMutex
	log   logx.Logger
	store storage.Store
	pages map[string]Page
}

func NewPages(store storage.Store, log logx.Logger) *Pages {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pages{store: store, log: log, pages: map[string]Page{}}
}

func (r *Pages) RegisterPage(ctx context.Context, p Page) error {
	if strings.TrimSpace(p.Plugin) == "" {
		return errors.New("page plugin name required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("page title required")
	}

	r.mu.Lock()
	r.pages[p.Plugin] = p
	st := r.store
	r.mu.Unlock()

	if st == nil {
		return nil
	}
	schema, err := json.Marshal(p.Schema)
	if err != nil {
		return err
	}
	return st.SavePage(ctx, storage.PageRecord{
		Plugin:      p.Plugin,
		Title:       p.Title,
		Description: p.Description,
		SchemaJSON:  string(schema),
		UpdatedAt:   time.Now(),
	})
}

// Load reads the persisted pages into memory. Pages already registered in
// this process win over stored ones.
func (r *Pages) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.Pages(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	loaded := 0
	for _, rec := range recs {
		if _, ok := r.pages[rec.Plugin]; ok {
			continue
		}
		var schema map[string]any
		if rec.SchemaJSON != "" {
			if err := json.Unmarshal([]byte(rec.SchemaJSON), &schema); err != nil {
				r.log.Warn("stored page schema unreadable", logx.String("plugin", rec.Plugin), logx.Err(err))
				continue
			}
		}
		r.pages[rec.Plugin] = Page{Plugin: rec.Plugin, Title: rec.Title, Description: rec.Description, Schema: schema}
		loaded++
	}
	r.log.Debug("config pages loaded", logx.Int("pages", loaded))
	return nil
}

// Get returns the page registered by plugin.
func (r *Pages) Get(plugin string) (Page, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[plugin]
	return p, ok
}

// List returns registered pages ordered by plugin name.
func (r *Pages) List() []Page {
	r.mu.RLock()
	out := make([]Page, 0, len(r.pages))
	for _, p := range r.pages {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Plugin < out[j].Plugin })
	return out
}
