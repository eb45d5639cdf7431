package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	c := s.c
	loc := s.loc
	defs := make([]scheduleDef, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, *d)
	}
	s.mu.Unlock()

	if tz == "" {
		if loc == nil {
			loc = time.Local
		}
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, StartupSpread: d.startupSpread}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		if d.stats != nil {
			d.stats.mu.Lock()
			it.Runs = d.stats.runs
			it.Failures = d.stats.failures
			it.LastRun = d.stats.lastRun
			it.LastTook = d.stats.lastTook
			it.LastError = d.stats.lastErr
			d.stats.mu.Unlock()
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return Snapshot{
		Enabled:   enabled,
		Running:   c != nil,
		Timezone:  tz,
		Schedules: items,
	}
}
