package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional Go duration string. Empty means 0.
// path names the field in errors, e.g. "notifier.retry_base".
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, _, err := parseDuration(path, raw)
	return d, err
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, set, err := parseDuration(path, raw)
	switch {
	case err != nil:
		return 0, err
	case !set || d == 0:
		return def, nil
	}
	return d, nil
}

func parseDuration(path, raw string) (time.Duration, bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, true, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, true, nil
}
