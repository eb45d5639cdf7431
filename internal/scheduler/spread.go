package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// delayedFirst runs base, except that nothing fires before first.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// makeIntervalScheduleWithSpread returns an every-interval schedule whose
// first run is pushed back by a random jitter in [0, min(every, maxSpread)).
// The jitter is seeded per job name so jobs registered together drift apart.
func makeIntervalScheduleWithSpread(every, maxSpread time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxSpread)
	if limit <= 0 {
		return base, 0
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	jitter := time.Duration(rng.Int64N(int64(limit)))
	return &delayedFirst{base: base, first: now.Add(every + jitter)}, jitter
}
