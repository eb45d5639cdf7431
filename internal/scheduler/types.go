package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "heatrank/pkg/logx"
)

var (
	ErrNameRequired    = errors.New("schedule name required")
	ErrInvalidInterval = errors.New("interval must be > 0")
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"

	// DefaultTimeout applies to jobs registered with a zero timeout. 0 disables it.
	DefaultTimeout time.Duration

	// MaxStartupSpread delays the first run of interval schedules by a random
	// amount up to min(every, MaxStartupSpread). 0 disables the spread.
	MaxStartupSpread time.Duration
}

// Job is the unit of work run on every tick.
type Job = func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	every   time.Duration
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	startupSpread time.Duration
	stats         *runStats
}

type runStats struct {
	mu       sync.Mutex
	runs     uint64
	failures uint64
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// runCtx is the parent of every job context; canceled on Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
}

type ScheduleInfo struct {
	Name          string
	Spec          string
	Timeout       time.Duration
	Next          time.Time
	Prev          time.Time
	StartupSpread time.Duration
	Runs          uint64
	Failures      uint64
	LastRun       time.Time
	LastTook      time.Duration
	LastError     string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
