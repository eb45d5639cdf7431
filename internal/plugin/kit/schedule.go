package pluginkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	core "heatrank/internal/plugin"
	"heatrank/internal/scheduler"
	logx "heatrank/pkg/logx"
)

const defaultTaskTimeout = 30 * time.Second

// ScheduleHelper provides a fluent, plugin-scoped API over core.SchedulerPort.
//
// It namespaces tasks as "<plugin>:<name>" to avoid collisions across
// plugins, and tracks registered task names for cleanup.
type ScheduleHelper struct {
	pluginName string
	svc        core.SchedulerPort
	log        logx.Logger

	mu    sync.Mutex
	tasks map[string]struct{} // full names
}

func NewScheduleHelper(pluginName string, deps core.Deps) *ScheduleHelper {
	lg := deps.Logger
	if lg.IsZero() {
		lg = logx.Nop()
	}
	return &ScheduleHelper{
		pluginName: pluginName,
		svc:        deps.Scheduler,
		log:        lg.With(logx.String("component", "schedule")),
		tasks:      map[string]struct{}{},
	}
}

// Available reports whether the host provided a scheduler.
func (h *ScheduleHelper) Available() bool { return h != nil && h.svc != nil }

// Spec parses a schedule string and returns a builder for either a cron or
// an interval task.
//
// Supported formats:
//   - Cron: "*/5 * * * *", "@hourly"
//   - Interval: "1h", "@every 55m", "00:50" (HH:MM as a duration)
func (h *ScheduleHelper) Spec(name, schedule string) *ScheduleBuilder {
	b := &ScheduleBuilder{helper: h, name: name, timeout: defaultTaskTimeout}
	ps, err := scheduler.ParseSchedule(schedule)
	if err != nil {
		b.parseErr = err
		return b
	}
	switch ps.Kind {
	case scheduler.SpecCron:
		b.cron = ps.Cron
	case scheduler.SpecInterval:
		b.every = ps.Every
	default:
		b.parseErr = fmt.Errorf("unsupported schedule kind")
	}
	return b
}

// Every begins building an interval schedule.
func (h *ScheduleHelper) Every(name string, interval time.Duration) *ScheduleBuilder {
	b := &ScheduleBuilder{helper: h, name: name, every: interval, timeout: defaultTaskTimeout}
	if interval <= 0 {
		b.parseErr = scheduler.ErrInvalidInterval
	}
	return b
}

// FullName returns the namespaced task name for name.
func (h *ScheduleHelper) FullName(name string) string {
	if h.pluginName == "" {
		return name
	}
	if name == "" {
		return h.pluginName
	}
	return h.pluginName + ":" + name
}

// Has reports whether the host currently knows the task.
func (h *ScheduleHelper) Has(name string) bool {
	if !h.Available() {
		return false
	}
	return h.svc.Has(h.FullName(name))
}

// Remove removes a task by short name. It reports whether the host had it.
func (h *ScheduleHelper) Remove(name string) bool {
	if !h.Available() {
		return false
	}
	fullName := h.FullName(name)
	removed := h.svc.Remove(fullName)

	h.mu.Lock()
	delete(h.tasks, fullName)
	h.mu.Unlock()

	if !removed {
		h.log.Debug("task not registered", logx.String("task", fullName))
	}
	return removed
}

// RemoveAll removes every task registered through this helper.
func (h *ScheduleHelper) RemoveAll() {
	if !h.Available() {
		return
	}
	h.mu.Lock()
	keys := make([]string, 0, len(h.tasks))
	for k := range h.tasks {
		keys = append(keys, k)
	}
	h.tasks = map[string]struct{}{}
	h.mu.Unlock()

	sort.Strings(keys)
	for _, fullName := range keys {
		h.svc.Remove(fullName)
	}
}

func (h *ScheduleHelper) track(fullName string) {
	h.mu.Lock()
	h.tasks[fullName] = struct{}{}
	h.mu.Unlock()
}

// ScheduleBuilder configures schedule options before registering it.
type ScheduleBuilder struct {
	helper   *ScheduleHelper
	name     string
	cron     string
	every    time.Duration
	timeout  time.Duration
	parseErr error
}

func (b *ScheduleBuilder) Timeout(d time.Duration) *ScheduleBuilder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Do registers the schedule and tracks it for cleanup. Registering the same
// name again replaces the previous task.
func (b *ScheduleBuilder) Do(job func(ctx context.Context) error) error {
	if b == nil || !b.helper.Available() {
		return core.ErrSchedulerUnavailable
	}
	if b.parseErr != nil {
		return b.parseErr
	}
	if job == nil {
		return errors.New("job is nil")
	}
	fullName := b.helper.FullName(b.name)

	var err error
	if b.every > 0 {
		_, err = b.helper.svc.AddInterval(fullName, b.every, b.timeout, job)
	} else {
		_, err = b.helper.svc.AddSchedule(fullName, "cron:"+b.cron, b.timeout, job)
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", fullName, err)
	}
	b.helper.track(fullName)
	return nil
}
