package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"heatrank/internal/config"
	"heatrank/internal/notifier"
	"heatrank/internal/plugin"
	"heatrank/internal/runtime/supervisor"
	"heatrank/internal/scheduler"
	"heatrank/internal/storage"
	"heatrank/plugins/heatrank"
	logx "heatrank/pkg/logx"
)

// App is the plugin host: config, logging, storage, scheduler, notifier and
// the plugin manager, wired together.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	sched *scheduler.Service
	notif *notifier.Service
	pages *plugin.Pages
	pm    *plugin.Manager
	deps  plugin.Deps

	// Plugins share one client so polls reuse connections.
	httpClient *http.Client
}

// New loads the config at cfgPath and builds every host service. Nothing is
// started until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a, err := build(cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	a.logs = logs
	return a, nil
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	a := &App{log: log, httpClient: &http.Client{Timeout: 30 * time.Second}}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")))

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	sinks, err := buildSinks(cfg, log)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notif = notifier.New(notifCfg, sinks, log.With(logx.String("comp", "notifier")), a.store)

	a.pages = plugin.NewPages(a.store, log.With(logx.String("comp", "pages")))
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := a.pages.Load(loadCtx); err != nil {
		log.Warn("stored config pages not loaded", logx.Err(err))
	}
	cancel()

	// Disabled services are handed to plugins as nil ports.
	a.deps = plugin.Deps{Logger: log.With(logx.String("comp", "plugin")), Pages: a.pages}
	if schedCfg.Enabled {
		a.deps.Scheduler = a.sched
	}
	if notifCfg.Enabled {
		a.deps.Notifier = a.notif
	}

	a.pm = plugin.NewManager(log.With(logx.String("comp", "plugins")), a.deps)
	a.pm.Register(heatrank.New(heatrank.WithHTTPClient(a.httpClient)))
	return a, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

func (a *App) Pages() *plugin.Pages { return a.pages }

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app context ends, either by Stop or by a fatal
// error in a supervised goroutine.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start starts the services, initializes the enabled plugins and begins
// watching the config file.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	cfg := a.currentConfig()
	a.notif.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.pm.StartAll(a.sup.Context(), cfg.Plugins)

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub, cfg)
			return nil
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Any("sinks", a.notif.Sinks()),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config, lastApplied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies what can change live: logging, notifier tuning and the
// plugin set. Everything else is reported as needing a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	sections, attrs, pluginChanged := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
	}

	var restart []string
	for _, s := range sections {
		switch s {
		case "scheduler", "storage", "telegram", "ntfy":
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		if ncfg.Enabled != a.notif.Enabled() {
			a.log.Warn("notifier enabled flag changed; restart required")
			ncfg.Enabled = a.notif.Enabled()
		}
		a.notif.Apply(ncfg)
	}

	a.pm.Reload(ctx, newCfg.Plugins)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// PollOnce runs a single poll of the heat rank plugin outside the scheduler.
// With dryRun the payload is built but no notification is sent.
func (a *App) PollOnce(ctx context.Context, dryRun bool) (heatrank.Payload, error) {
	cfg := a.currentConfig()
	raw, ok := cfg.Plugins[heatrank.PluginName]
	if !ok {
		return heatrank.Payload{}, fmt.Errorf("%w: no plugins.%s section", heatrank.ErrNotConfigured, heatrank.PluginName)
	}

	deps := a.deps
	deps.Config = raw.Config
	// A scheduler that is never started accepts the job without firing it.
	deps.Scheduler = scheduler.New(scheduler.Config{}, a.log.With(logx.String("comp", "scheduler.oneshot")))
	if dryRun {
		deps.Notifier = nil
	}

	p := heatrank.New(heatrank.WithHTTPClient(a.httpClient))
	if err := p.Init(ctx, deps); err != nil {
		return heatrank.Payload{}, err
	}
	defer func() { _ = p.Stop(context.Background()) }()

	if dryRun {
		return p.Fetch(ctx)
	}

	a.notif.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.notif.Stop(stopCtx)
	}()
	return p.Poll(ctx)
}

// Stop tears down plugins first, then the services they depend on.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(c context.Context) error { return a.closeStore() })
	if a.sup != nil {
		a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.closeStore()
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
	}
	return err
}

// step runs one shutdown step bounded by max (and never past ctx's deadline).
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) currentConfig() *config.Config {
	if a.cfgm != nil {
		if cfg := a.cfgm.Get(); cfg != nil {
			return cfg
		}
	}
	return &config.Config{}
}
