package config

import (
	"bytes"
	"encoding/json"
)

// Config is the host configuration file (YAML or JSON).
//
// Example (YAML):
//
//	logging: { level: info, console: true }
//	scheduler: { enabled: true, timezone: Asia/Shanghai }
//	storage: { driver: sqlite, path: ./data/heatrank.db }
//	ntfy: { topic: movies }
//	plugins:
//	  maoyan_heat_rank:
//	    enabled: true
//	    config:
//	      api: { url1: "https://cn.apihz.cn/api/bang/maoyan2.php", id: "123", key: "abc" }
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier defaults to enabled when the whole section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty" validate:"omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty" validate:"omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty" validate:"omitempty"`
	Ntfy     *NtfyConfig     `json:"ntfy,omitempty" validate:"omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler (trigger) service.
// Durations are Go duration strings (e.g. "10s", "1m").
type SchedulerConfig struct {
	Enabled          bool   `json:"enabled"`
	Timezone         string `json:"timezone,omitempty"`
	DefaultTimeout   string `json:"default_timeout,omitempty"`
	MaxStartupSpread string `json:"max_startup_spread,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers" validate:"gte=0,lte=64"`
	QueueSize       int    `json:"queue_size" validate:"gte=0"`
	RatePerSec      int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax        int    `json:"retry_max" validate:"gte=0,lte=10"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries" validate:"gte=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	// LogSink also writes every notification to the log. It is implied when no
	// transport sink (telegram/ntfy) is configured.
	LogSink bool `json:"log_sink,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/heatrank.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 none"`
	Path        string `json:"path" validate:"required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type TelegramConfig struct {
	Token    string `json:"token" validate:"required"`
	ChatID   int64  `json:"chat_id" validate:"required"`
	ThreadID int    `json:"thread_id,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers).
	APIURL string `json:"api_url,omitempty" validate:"omitempty,url"`
}

type NtfyConfig struct {
	Server   string   `json:"server,omitempty" validate:"omitempty,url"` // default https://ntfy.sh
	Topic    string   `json:"topic" validate:"required"`
	Token    string   `json:"token,omitempty"`
	Priority int      `json:"priority,omitempty" validate:"gte=0,lte=5"`
	Tags     []string `json:"tags,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos next to "config" are caught
// on load instead of silently disabling a plugin.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
