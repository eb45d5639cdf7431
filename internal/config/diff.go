package config

import (
	"bytes"
	"reflect"
	"sort"

	logx "heatrank/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, safe log fields
// (secrets such as tokens and API keys are never included), and the names of
// plugins whose enable flag or config blob changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var fields []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields, logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled), logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		fields = append(fields, logx.Bool("telegram.set", newCfg.Telegram != nil))
	}
	if !reflect.DeepEqual(oldCfg.Ntfy, newCfg.Ntfy) {
		changed = append(changed, "ntfy")
		fields = append(fields, logx.Bool("ntfy.set", newCfg.Ntfy != nil))
	}

	names := map[string]struct{}{}
	for n := range oldCfg.Plugins {
		names[n] = struct{}{}
	}
	for n := range newCfg.Plugins {
		names[n] = struct{}{}
	}
	var plugins []string
	for n := range names {
		o, oOK := oldCfg.Plugins[n]
		nw, nOK := newCfg.Plugins[n]
		if oOK != nOK || o.Enabled != nw.Enabled || !bytes.Equal(bytes.TrimSpace(o.Config), bytes.TrimSpace(nw.Config)) {
			plugins = append(plugins, n)
		}
	}
	sort.Strings(plugins)
	if len(plugins) > 0 {
		changed = append(changed, "plugins")
		fields = append(fields, logx.Any("plugins.changed", plugins))
	}
	return changed, fields, plugins
}
