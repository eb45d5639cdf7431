package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatrank/internal/storage"
	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

type recSink struct {
	name string

	mu    sync.Mutex
	got   []transport.Notification
	fails int // fail the first N sends
	calls int
	gate  chan struct{}
	enter chan struct{}
}

func (r *recSink) Name() string { return r.name }

func (r *recSink) Send(ctx context.Context, n transport.Notification) error {
	if r.enter != nil {
		r.enter <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.fails {
		return errors.New("transport down")
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recSink) delivered() []transport.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Notification(nil), r.got...)
}

type memAudit struct {
	storage.Store
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func testCfg() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 100, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func stopWithin(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestDeliversToEverySink(t *testing.T) {
	a, b := &recSink{name: "a"}, &recSink{name: "b"}
	audit := &memAudit{}
	s := New(testCfg(), []transport.Sink{a, b}, logx.Nop(), audit)
	s.Start(context.Background())

	n := transport.Notification{Source: "heat", Title: "T", Text: "1. Movie A (9876)"}
	require.NoError(t, s.Notify(context.Background(), n))
	stopWithin(t, s)

	assert.Equal(t, []transport.Notification{n}, a.delivered())
	assert.Equal(t, []transport.Notification{n}, b.delivered())
	require.Len(t, audit.entries, 2)
	assert.True(t, audit.entries[0].OK)
	assert.Equal(t, "heat", audit.entries[0].Source)
	assert.Len(t, s.History(), 2)
}

func TestRetriesThenSucceeds(t *testing.T) {
	sk := &recSink{name: "flaky", fails: 2}
	audit := &memAudit{}
	cfg := testCfg()
	cfg.RetryMax = 2
	s := New(cfg, []transport.Sink{sk}, logx.Nop(), audit)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), transport.Notification{Title: "T", Text: "x"}))
	stopWithin(t, s)

	assert.Len(t, sk.delivered(), 1)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, 3, audit.entries[0].Attempts)
	assert.True(t, audit.entries[0].OK)
}

func TestGivesUpAfterRetryMax(t *testing.T) {
	sk := &recSink{name: "down", fails: 10}
	audit := &memAudit{}
	cfg := testCfg()
	cfg.RetryMax = 1
	s := New(cfg, []transport.Sink{sk}, logx.Nop(), audit)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), transport.Notification{Title: "T", Text: "x"}))
	stopWithin(t, s)

	assert.Empty(t, sk.delivered())
	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].OK)
	assert.Equal(t, 2, audit.entries[0].Attempts)
	assert.Equal(t, "transport down", audit.entries[0].Error)
}

func TestDedupWindow(t *testing.T) {
	sk := &recSink{name: "a"}
	cfg := testCfg()
	cfg.DedupWindow = time.Minute
	s := New(cfg, []transport.Sink{sk}, logx.Nop(), nil)
	s.Start(context.Background())

	n := transport.Notification{Source: "heat", Title: "T", Text: "same"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))
	n.Text = "other"
	require.NoError(t, s.Notify(context.Background(), n))
	stopWithin(t, s)

	assert.Len(t, sk.delivered(), 2)
}

func TestNotifyErrors(t *testing.T) {
	ctx := context.Background()
	n := transport.Notification{Title: "T", Text: "x"}

	off := New(Config{}, []transport.Sink{&recSink{name: "a"}}, logx.Nop(), nil)
	assert.ErrorIs(t, off.Notify(ctx, n), ErrDisabled)

	none := New(testCfg(), nil, logx.Nop(), nil)
	assert.ErrorIs(t, none.Notify(ctx, n), ErrNoSinks)

	idle := New(testCfg(), []transport.Sink{&recSink{name: "a"}}, logx.Nop(), nil)
	assert.ErrorIs(t, idle.Notify(ctx, n), ErrStopped)

	idle.Start(ctx)
	stopWithin(t, idle)
	assert.ErrorIs(t, idle.Notify(ctx, n), ErrStopped)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, idle.Notify(cctx, n), context.Canceled)
}

func TestQueueFull(t *testing.T) {
	sk := &recSink{name: "slow", gate: make(chan struct{}), enter: make(chan struct{}, 8)}
	cfg := testCfg()
	cfg.QueueSize = 1
	s := New(cfg, []transport.Sink{sk}, logx.Nop(), nil)
	s.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, s.Notify(ctx, transport.Notification{Text: "1"}))
	<-sk.enter // worker is busy with the first one
	require.NoError(t, s.Notify(ctx, transport.Notification{Text: "2"}))
	assert.ErrorIs(t, s.Notify(ctx, transport.Notification{Text: "3"}), ErrQueueFull)

	close(sk.gate)
	stopWithin(t, s)
	assert.Len(t, sk.delivered(), 2)
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestLogSinkWritesFields(t *testing.T) {
	var buf bytes.Buffer
	sk := LogSink{Log: logx.NewWriter(&buf, "info")}
	require.NoError(t, sk.Send(context.Background(), transport.Notification{Source: "heat", Title: "T", Text: "1. A (1)"}))
	out := buf.String()
	assert.True(t, strings.Contains(out, `"title":"T"`))
	assert.True(t, strings.Contains(out, `"source":"heat"`))
	assert.Equal(t, "log", sk.Name())
}

func TestStopDrainsAfterStartContextCanceled(t *testing.T) {
	sk := &recSink{name: "a"}
	s := New(testCfg(), []transport.Sink{sk}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Notify(context.Background(), transport.Notification{Source: "heat", Title: fmt.Sprintf("T%d", i), Text: "x"}))
	}
	cancel()
	stopWithin(t, s)

	assert.Len(t, sk.delivered(), 3)
}
