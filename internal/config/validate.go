package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and every duration string in the config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	durations := map[string]string{
		"scheduler.default_timeout":    c.Scheduler.DefaultTimeout,
		"scheduler.max_startup_spread": c.Scheduler.MaxStartupSpread,
	}
	if n := c.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	if s := c.Storage; s != nil {
		durations["storage.busy_timeout"] = s.BusyTimeout
	}
	if n := c.Ntfy; n != nil {
		durations["ntfy.timeout"] = n.Timeout
	}
	var errs []error
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	for name := range c.Plugins {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("plugins: empty plugin name"))
		}
	}
	return errors.Join(errs...)
}
