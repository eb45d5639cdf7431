package heatrank

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	core "heatrank/internal/plugin"
	pluginkit "heatrank/internal/plugin/kit"
	logx "heatrank/pkg/logx"
)

const (
	PluginName = "maoyan_heat_rank"
	// JobName is the short task name; the host sees "maoyan_heat_rank:poll".
	JobName = "poll"

	pageTitle       = "猫眼热度榜排行插件"
	pageDescription = "获取猫眼热度榜数据并发送通知。"
)

var (
	ErrNotConfigured = errors.New("heat rank plugin not configured")
	ErrEmptyRank     = errors.New("empty ranking")
)

// Plugin polls the heat rank API on a schedule and notifies the result.
type Plugin struct {
	mu     sync.RWMutex
	cfg    Config
	ready  bool
	log    logx.Logger
	sched  *pluginkit.ScheduleHelper
	notify *pluginkit.NotifyHelper

	httpClient *http.Client
	client     *client
}

type Option func(*Plugin)

// WithHTTPClient overrides the client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Plugin) { p.httpClient = hc }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{log: logx.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Plugin) Name() string { return PluginName }

// Init registers the config page, validates the config and schedules the
// poll job. A config or scheduler problem is returned and leaves the plugin
// without a job.
func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	sched := pluginkit.NewScheduleHelper(PluginName, deps)
	notify := pluginkit.NewNotifyHelper(PluginName, deps)

	p.mu.Lock()
	p.log = log
	p.sched = sched
	p.notify = notify
	p.client = newClient(p.httpClient, log)
	p.ready = false
	p.mu.Unlock()

	// The page is registered first so a user can fix a bad config from the UI.
	if deps.Pages != nil {
		err := deps.Pages.RegisterPage(ctx, core.Page{
			Plugin:      PluginName,
			Title:       pageTitle,
			Description: pageDescription,
			Schema:      Schema(),
		})
		if err != nil {
			log.Warn("config page registration failed", logx.Err(err))
		}
	}

	// A failed re-init must not leave the previous job firing.
	fail := func(err error) error {
		if sched.Available() {
			sched.Remove(JobName)
		}
		return err
	}

	cfg, err := decodeConfig(deps.Config)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrNotConfigured, err))
	}
	if err := cfg.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrNotConfigured, err))
	}
	if !sched.Available() {
		return core.ErrSchedulerUnavailable
	}

	p.mu.Lock()
	p.cfg = cfg
	p.ready = true
	p.mu.Unlock()

	if err := sched.Spec(JobName, cfg.Schedule).Timeout(cfg.taskTimeout).Do(p.runJob); err != nil {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
		return fail(err)
	}
	if cfg.Notification.Enabled && !notify.Available() {
		log.Warn("notifications enabled but host has no notifier")
	}
	log.Info("heat rank scheduled",
		logx.String("task", sched.FullName(JobName)),
		logx.String("schedule", cfg.Schedule),
		logx.Bool("notify", cfg.Notification.Enabled),
		logx.Bool("fallback", len(cfg.endpoints()) > 1),
	)
	return nil
}

// Stop removes the poll job. It is safe to call any number of times.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	sched := p.sched
	p.ready = false
	p.mu.Unlock()

	if sched == nil || !sched.Available() {
		return nil
	}
	if sched.Remove(JobName) {
		p.logger().Info("heat rank unscheduled", logx.String("task", sched.FullName(JobName)))
	}
	return nil
}

// Poll fetches the ranking once, formats it and, when notifications are
// enabled, hands it to the notifier. Errors are returned, never retried.
func (p *Plugin) Poll(ctx context.Context) (Payload, error) {
	start := time.Now()
	payload, n, err := p.fetch(ctx)
	if err != nil {
		return Payload{}, err
	}

	p.mu.RLock()
	enabled, notify, log := p.cfg.Notification.Enabled, p.notify, p.log
	p.mu.RUnlock()

	if !enabled {
		log.Debug("notification disabled; rank fetched", logx.Int("entries", n))
		return payload, nil
	}
	if err := notify.Send(ctx, payload.Title, payload.Body); err != nil {
		return payload, fmt.Errorf("notify: %w", err)
	}
	log.Info("heat rank notified", logx.Int("entries", n), logx.Duration("took", time.Since(start)))
	return payload, nil
}

// Fetch is Poll without the notification.
func (p *Plugin) Fetch(ctx context.Context) (Payload, error) {
	payload, _, err := p.fetch(ctx)
	return payload, err
}

func (p *Plugin) fetch(ctx context.Context) (Payload, int, error) {
	p.mu.RLock()
	cfg, ready, cl := p.cfg, p.ready, p.client
	p.mu.RUnlock()

	if !ready || cl == nil || !cfg.ready() {
		return Payload{}, 0, ErrNotConfigured
	}
	entries, err := cl.fetch(ctx, cfg.endpoints(), cfg.API.ID, cfg.API.Key, cfg.operationTimeout)
	if err != nil {
		return Payload{}, 0, fmt.Errorf("fetch rank: %w", err)
	}
	return formatPayload(cfg.Notification.Title, entries, cfg.MaxEntries), len(entries), nil
}

func (p *Plugin) runJob(ctx context.Context) error {
	_, err := p.Poll(ctx)
	return err
}

func (p *Plugin) logger() logx.Logger {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.log
}
