package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	rtsup "heatrank/internal/runtime/supervisor"
	"heatrank/internal/storage"
	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoSinks   = errors.New("notifier has no sinks")
)

type job struct {
	n transport.Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []transport.Sink
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue     chan job
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New creates the service. store may be nil.
func New(cfg Config, sinks []transport.Sink, log logx.Logger, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		sinks: append([]transport.Sink(nil), sinks...),
		store: store,
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Sinks returns the configured sink names.
func (s *Service) Sinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Apply swaps tuning knobs at runtime. Queue size and worker count take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start spawns the workers. It is idempotent and a no-op when disabled.
// Canceling ctx does not stop them; Stop does.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
	}
	// Notifier failures should not take down the host. Workers outlive ctx
	// so Stop can drain what Notify already accepted.
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))), rtsup.WithCancelOnError(false))

	sup, q, pch, st, workers := s.sup, s.queue, s.persistCh, s.store, s.cfg.Workers
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.persistLoop(c, pch, st)
		}, time.Second, 30*time.Second)
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		}, time.Second, 30*time.Second)
	}
	s.log.Debug("notifier started", logx.Int("workers", workers), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues, then close the queue so workers can drain.
	s.sendWG.Wait()
	close(q)
	if pch != nil {
		close(pch)
	}

	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("notifier drain interrupted", logx.Err(err))
		sup.Cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.persistCh = nil
	s.sup = nil
	s.mu.Unlock()
}

// Notify queues n for delivery. Duplicates inside the dedup window are
// dropped silently.
func (s *Service) Notify(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrNoSinks
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	persist := s.cfg.PersistDedup
	st := s.store
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(ctx, key, window, maxEntries, persist, st, pch) {
		s.log.Debug("notification deduped", logx.String("source", n.Source), logx.String("key", key))
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.log.Warn("notification dropped", logx.String("source", n.Source), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

// History returns recently delivered notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-ch:
			if !ok {
				return nil
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, j)
		}
	}
}

// deliver fans one job out to every sink. Each sink is retried on its own so
// a broken transport does not starve the others.
func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sinks := s.cfg, s.limiter, s.sinks
	s.mu.Unlock()

	for _, sk := range sinks {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		attempts, err := s.sendWithRetry(ctx, cfg, lim, sk, j.n)
		s.audit(ctx, storage.AuditEntry{
			At:       start,
			Source:   j.n.Source,
			Sink:     sk.Name(),
			Title:    j.n.Title,
			OK:       err == nil,
			Attempts: attempts,
			Error:    errString(err),
			TookMS:   time.Since(start).Milliseconds(),
		})
		if err != nil {
			s.log.Warn("notification failed", logx.String("sink", sk.Name()), logx.String("source", j.n.Source), logx.Int("attempts", attempts), logx.Err(err))
			continue
		}
		s.appendHistory(HistoryItem{At: time.Now(), Source: j.n.Source, Sink: sk.Name(), Title: j.n.Title})
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sk transport.Sink, n transport.Notification) (int, error) {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return attempt - 1, err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sk.Send(callCtx, n)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", sk.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			return attempt, lastErr
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendAudit(actx, e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func dedupKey(n transport.Notification) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%s|", n.Source, n.Priority, n.Title)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Persistent check survives restarts.
	if persist && st != nil {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for maxEntries > 0 && len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, u := range s.dedup {
			if minKey == "" || u.Before(minT) {
				minKey, minT = k, u
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
