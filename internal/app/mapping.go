package app

import (
	"fmt"
	"strings"
	"time"

	"heatrank/internal/adapters/ntfy"
	"heatrank/internal/adapters/telegram"
	"heatrank/internal/config"
	"heatrank/internal/notifier"
	"heatrank/internal/scheduler"
	"heatrank/internal/storage"
	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	def, err := config.ParseDurationOrDefault("scheduler.default_timeout", sc.DefaultTimeout, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	spread, err := config.ParseDurationOrDefault("scheduler.max_startup_spread", sc.MaxStartupSpread, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:          sc.Enabled,
		Timezone:         sc.Timezone,
		DefaultTimeout:   def,
		MaxStartupSpread: spread,
	}, nil
}

// mapNotifierConfig maps the notifier section. An omitted section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true}, nil
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}, nil
}

// buildSinks creates the configured transport sinks. The log sink is added
// when asked for or when nothing else is configured.
func buildSinks(cfg *config.Config, log logx.Logger) ([]transport.Sink, error) {
	var sinks []transport.Sink
	if tc := cfg.Telegram; tc != nil {
		s, err := telegram.New(telegram.Config{
			Token:    tc.Token,
			ChatID:   tc.ChatID,
			ThreadID: tc.ThreadID,
			APIURL:   tc.APIURL,
		}, log.With(logx.String("sink", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, s)
	}
	if nc := cfg.Ntfy; nc != nil {
		timeout, err := config.ParseDurationOrDefault("ntfy.timeout", nc.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		s, err := ntfy.New(ntfy.Config{
			Server:   nc.Server,
			Topic:    nc.Topic,
			Token:    nc.Token,
			Priority: nc.Priority,
			Tags:     nc.Tags,
			Timeout:  timeout,
		}, log.With(logx.String("sink", "ntfy")))
		if err != nil {
			return nil, fmt.Errorf("ntfy: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 || (cfg.Notifier != nil && cfg.Notifier.LogSink) {
		sinks = append(sinks, notifier.LogSink{Log: log.With(logx.String("sink", "log"))})
	}
	return sinks, nil
}
