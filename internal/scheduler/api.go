package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "heatrank/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval task.
//
// schedule is anything ParseSchedule accepts: cron ("0 * * * *", "@hourly")
// or an interval ("1h", "@every 55m", "02:30").
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.upsert(&scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}
	if every <= 0 {
		return "", ErrInvalidInterval
	}
	return s.upsert(&scheduleDef{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

// upsert replaces any schedule with the same name, so repeated registrations
// (e.g. across config reloads) never create duplicates.
func (s *Service) upsert(d *scheduleDef) (string, error) {
	if d.job == nil {
		return "", fmt.Errorf("job required")
	}
	d.stats = &runStats{}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(d.name)
	s.defs[d.name] = d
	if s.c == nil {
		// Not started (or disabled): keep definition and register when Start() runs.
		return d.name, nil
	}
	if err := s.addCronLocked(d); err != nil {
		delete(s.defs, d.name)
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return "", err
	}
	args := []logx.Field{logx.String("name", d.name), logx.String("spec", d.spec), logx.Duration("timeout", d.timeout)}
	if next := s.previewNextRunsLocked(d.entryID, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return d.name, nil
}

// Remove unschedules the schedule with the given name. It returns true if something was removed.
// Safe to call even when the scheduler is not started/enabled.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a schedule with the given name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[strings.TrimSpace(name)]
	return ok
}

// Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(d *scheduleDef) error {
	job := cron.FuncJob(func() { s.run(d) })

	if d.every > 0 {
		var sched cron.Schedule = cron.Every(d.every)
		d.startupSpread = 0
		if s.cfg.MaxStartupSpread > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, d.startupSpread = makeIntervalScheduleWithSpread(d.every, s.cfg.MaxStartupSpread, time.Now().In(loc), d.name)
		}
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}

	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// run executes one tick of d. Errors are recorded and logged, never returned.
func (s *Service) run(d *scheduleDef) {
	s.mu.Lock()
	parent := s.runCtx
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx := parent
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	start := time.Now()
	err := d.job(ctx)
	took := time.Since(start)

	d.stats.record(start, took, err)
	if err != nil {
		s.log.Warn("task failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("task done", logx.String("name", d.name), logx.Duration("took", took))
}

func (st *runStats) record(at time.Time, took time.Duration, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.runs++
	st.lastRun = at
	st.lastTook = took
	st.lastErr = ""
	if err != nil {
		st.failures++
		st.lastErr = err.Error()
	}
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(id cron.EntryID, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || s.c == nil || id == 0 || n <= 0 {
		return ""
	}
	e := s.c.Entry(id)
	if e.Schedule == nil {
		return ""
	}
	t := time.Now()
	if s.loc != nil {
		t = t.In(s.loc)
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = e.Schedule.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
