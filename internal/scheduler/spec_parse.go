package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SpecKind tells whether a schedule is a cron expression or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string after ParseSchedule.
//
// Accepted forms:
//
//	"0 * * * *", "@hourly"     cron (5 or 6 fields, or a descriptor)
//	"1h", "90m", "@every 1h"   interval as a Go duration
//	"01:30"                    interval as hours:minutes
//
// The prefixes "cron:", "interval:" and "every:" force one reading.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // cron, duration or hhmm
}

var hhmmPattern = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

var errScheduleRequired = errors.New("schedule required")

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errScheduleRequired
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, fmt.Errorf("cron: %w", errScheduleRequired)
		}
		return cronSpec(rest), nil
	}
	for _, p := range []string{"interval:", "every:", "@every"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return cronSpec(s), nil
	}

	spec, err := intervalSpec(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (want cron like '0 * * * *', HH:MM like '01:30' or a duration like '1h'): %w", raw, err)
	}
	return spec, nil
}

func cronSpec(expr string) ParsedSpec {
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval: %w", errScheduleRequired)
	}

	spec := ParsedSpec{Kind: SpecInterval, Source: "duration"}
	if m := hhmmPattern.FindStringSubmatch(v); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if mins > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		spec.Every = time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute
		spec.Source = "hhmm"
	} else {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q", v)
		}
		spec.Every = d
	}
	if spec.Every <= 0 {
		return ParsedSpec{}, ErrInvalidInterval
	}
	return spec, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
