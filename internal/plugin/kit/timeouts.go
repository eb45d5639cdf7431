package pluginkit

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeoutsConfig standardizes the timeout knobs a plugin exposes.
//
// All fields accept Go duration strings (e.g. "10s", "2m").
//   - Task:      timeout for one scheduled run.
//   - Operation: timeout for a single network call inside a run.
//
//	"timeouts": {
//	  "task": "60s",
//	  "operation": "15s"
//	}
type TimeoutsConfig struct {
	Task      string `json:"task,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// UnmarshalJSON rejects unknown fields to avoid silent misconfiguration.
func (t *TimeoutsConfig) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*t = TimeoutsConfig{}
		return nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out TimeoutsConfig
	for k, v := range m {
		switch k {
		case "task":
			if err := json.Unmarshal(v, &out.Task); err != nil {
				return fmt.Errorf("timeouts.task: %w", err)
			}
		case "operation":
			if err := json.Unmarshal(v, &out.Operation); err != nil {
				return fmt.Errorf("timeouts.operation: %w", err)
			}
		default:
			return fmt.Errorf("unknown timeouts field %q (supported: task, operation)", k)
		}
	}
	*t = out
	return nil
}

// Validate checks non-empty duration strings. fieldPrefix is something like
// "maoyan_heat_rank.timeouts".
func (t TimeoutsConfig) Validate(fieldPrefix string) error {
	if err := checkPositive(t.Task); err != nil {
		return fmt.Errorf("invalid %s.task: %w", fieldPrefix, err)
	}
	if err := checkPositive(t.Operation); err != nil {
		return fmt.Errorf("invalid %s.operation: %w", fieldPrefix, err)
	}
	return nil
}

// TaskOr returns Task, or def when empty or unparsable.
func (t TimeoutsConfig) TaskOr(def time.Duration) time.Duration { return durOr(t.Task, def) }

// OperationOr returns Operation, or def when empty or unparsable.
func (t TimeoutsConfig) OperationOr(def time.Duration) time.Duration {
	return durOr(t.Operation, def)
}

func checkPositive(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be > 0, got %s", s)
	}
	return nil
}

func durOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
