package heatrank

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	core "heatrank/internal/plugin"
	pluginkit "heatrank/internal/plugin/kit"
	"heatrank/internal/scheduler"
)

const (
	DefaultURL1     = "https://cn.apihz.cn/api/bang/maoyan2.php"
	DefaultURL2     = "https://cn.apihz.cn/api/bang/maoyan3.php"
	DefaultTitle    = "猫眼热度榜排行"
	DefaultSchedule = "1h"

	defaultTaskTimeout      = 60 * time.Second
	defaultOperationTimeout = 15 * time.Second
)

// Config is the plugin configuration blob.
//
//	{
//	  "api": {"url1": "...", "url2": "...", "id": "...", "key": "..."},
//	  "notification": {"title": "...", "enabled": true},
//	  "schedule": "1h",
//	  "max_entries": 0,
//	  "timeouts": {"task": "60s", "operation": "15s"}
//	}
type Config struct {
	API          APIConfig                `json:"api"`
	Notification NotificationConfig       `json:"notification"`
	Schedule     string                   `json:"schedule,omitempty"`
	MaxEntries   int                      `json:"max_entries,omitempty" validate:"gte=0"`
	Timeouts     pluginkit.TimeoutsConfig `json:"timeouts,omitempty"`

	taskTimeout      time.Duration
	operationTimeout time.Duration
}

type APIConfig struct {
	URL1 string `json:"url1" validate:"required,http_url"`
	// URL2 is the fallback endpoint; empty disables the fallback.
	URL2 string `json:"url2" validate:"omitempty,http_url"`
	ID   string `json:"id" validate:"required"`
	Key  string `json:"key" validate:"required"`
}

type NotificationConfig struct {
	Title   string `json:"title" validate:"required"`
	Enabled bool   `json:"enabled"`
}

// DefaultConfig returns the configuration a fresh install starts from. The
// API id and key have no usable default.
func DefaultConfig() Config {
	return Config{
		API:          APIConfig{URL1: DefaultURL1, URL2: DefaultURL2},
		Notification: NotificationConfig{Title: DefaultTitle, Enabled: true},
		Schedule:     DefaultSchedule,
	}
}

// decodeConfig overlays raw on DefaultConfig, so omitted fields keep their
// defaults. Unknown fields are rejected.
func decodeConfig(raw json.RawMessage) (Config, error) {
	c, err := core.DecodeConfig(raw, DefaultConfig())
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.API.URL1 = strings.TrimSpace(c.API.URL1)
	c.API.URL2 = strings.TrimSpace(c.API.URL2)
	c.API.ID = strings.TrimSpace(c.API.ID)
	c.API.Key = strings.TrimSpace(c.API.Key)
	c.Notification.Title = strings.TrimSpace(c.Notification.Title)
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = DefaultSchedule
	}
	c.taskTimeout = c.Timeouts.TaskOr(defaultTaskTimeout)
	c.operationTimeout = c.Timeouts.OperationOr(defaultOperationTimeout)
	return c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if _, err := scheduler.ParseSchedule(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if err := c.Timeouts.Validate(PluginName + ".timeouts"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ready reports whether the fields a poll needs are present.
func (c Config) ready() bool {
	return c.API.URL1 != "" && c.API.ID != "" && c.API.Key != "" && c.Notification.Title != ""
}

// endpoints returns the primary endpoint followed by the optional fallback.
func (c Config) endpoints() []string {
	out := []string{c.API.URL1}
	if c.API.URL2 != "" && c.API.URL2 != c.API.URL1 {
		out = append(out, c.API.URL2)
	}
	return out
}

var fieldNames = map[string]string{
	"Config.API.URL1":           "api.url1",
	"Config.API.URL2":           "api.url2",
	"Config.API.ID":             "api.id",
	"Config.API.Key":            "api.key",
	"Config.Notification.Title": "notification.title",
	"Config.MaxEntries":         "max_entries",
}

func fieldPath(ns string) string {
	if p, ok := fieldNames[ns]; ok {
		return p
	}
	return ns
}
