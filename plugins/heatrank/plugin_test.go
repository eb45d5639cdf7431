package heatrank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "heatrank/internal/plugin"
	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

type scheduled struct {
	name    string
	every   time.Duration
	timeout time.Duration
	job     func(ctx context.Context) error
}

type fakeScheduler struct {
	mu    sync.Mutex
	adds  []scheduled
	jobs  map[string]scheduled
	crons []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]scheduled{}}
}

func (f *fakeScheduler) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := scheduled{name: name, every: every, timeout: timeout, job: job}
	f.adds = append(f.adds, s)
	f.jobs[name] = s
	return name, nil
}

func (f *fakeScheduler) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := scheduled{name: name, timeout: timeout, job: job}
	f.adds = append(f.adds, s)
	f.crons = append(f.crons, schedule)
	f.jobs[name] = s
	return name, nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	return ok
}

func (f *fakeScheduler) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	return ok
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []transport.Notification
	err error
}

func (f *fakeNotifier) Notify(_ context.Context, n transport.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeNotifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakePages struct {
	pages []core.Page
	err   error
}

func (f *fakePages) RegisterPage(_ context.Context, p core.Page) error {
	f.pages = append(f.pages, p)
	return f.err
}

type env struct {
	sched  *fakeScheduler
	notify *fakeNotifier
	pages  *fakePages
}

func newEnv() *env {
	return &env{sched: newFakeScheduler(), notify: &fakeNotifier{}, pages: &fakePages{}}
}

func (e *env) deps(cfg string) core.Deps {
	return core.Deps{
		Logger:    logx.Nop(),
		Scheduler: e.sched,
		Notifier:  e.notify,
		Pages:     e.pages,
		Config:    json.RawMessage(cfg),
	}
}

func apiServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("id") != "my-id" || r.URL.Query().Get("key") != "my-key" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func configJSON(url1, url2 string, notify bool) string {
	b, _ := json.Marshal(map[string]any{
		"api":          map[string]any{"url1": url1, "url2": url2, "id": "my-id", "key": "my-key"},
		"notification": map[string]any{"title": "Heat", "enabled": notify},
	})
	return string(b)
}

func TestInitRegistersOneHourlyJob(t *testing.T) {
	e := newEnv()
	p := New()

	require.NoError(t, p.Init(context.Background(), e.deps(configJSON("http://a.example/rank", "", true))))

	require.Len(t, e.sched.adds, 1)
	assert.Equal(t, "maoyan_heat_rank:poll", e.sched.adds[0].name)
	assert.Equal(t, time.Hour, e.sched.adds[0].every)
	assert.Equal(t, 60*time.Second, e.sched.adds[0].timeout)

	require.Len(t, e.pages.pages, 1)
	assert.Equal(t, PluginName, e.pages.pages[0].Plugin)
	assert.NotEmpty(t, e.pages.pages[0].Schema)
}

func TestInitUsesConfiguredSchedule(t *testing.T) {
	e := newEnv()
	cfg := `{"api":{"url1":"http://a.example","id":"i","key":"k"},"schedule":"30m","timeouts":{"task":"2m"}}`
	require.NoError(t, New().Init(context.Background(), e.deps(cfg)))
	require.Len(t, e.sched.adds, 1)
	assert.Equal(t, 30*time.Minute, e.sched.adds[0].every)
	assert.Equal(t, 2*time.Minute, e.sched.adds[0].timeout)

	e = newEnv()
	cfg = `{"api":{"url1":"http://a.example","id":"i","key":"k"},"schedule":"0 * * * *"}`
	require.NoError(t, New().Init(context.Background(), e.deps(cfg)))
	assert.Equal(t, []string{"cron:0 * * * *"}, e.sched.crons)
}

func TestInitRejectsIncompleteConfig(t *testing.T) {
	cases := map[string]string{
		"missing id and key": `{"api":{"url1":"http://a.example"}}`,
		"empty title":        `{"api":{"url1":"http://a.example","id":"i","key":"k"},"notification":{"title":""}}`,
		"empty url1":         `{"api":{"url1":"","id":"i","key":"k"}}`,
		"bad url":            `{"api":{"url1":"not a url","id":"i","key":"k"}}`,
		"unknown field":      `{"api":{"url1":"http://a.example","id":"i","key":"k"},"extra":1}`,
		"bad schedule":       `{"api":{"url1":"http://a.example","id":"i","key":"k"},"schedule":"whenever"}`,
		"negative entries":   `{"api":{"url1":"http://a.example","id":"i","key":"k"},"max_entries":-1}`,
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv()
			err := New().Init(context.Background(), e.deps(cfg))
			require.ErrorIs(t, err, ErrNotConfigured)
			assert.Empty(t, e.sched.adds)
			// page registration happens before validation
			assert.Len(t, e.pages.pages, 1)
		})
	}
}

func TestInitWithoutScheduler(t *testing.T) {
	e := newEnv()
	deps := e.deps(configJSON("http://a.example", "", true))
	deps.Scheduler = nil
	err := New().Init(context.Background(), deps)
	assert.ErrorIs(t, err, core.ErrSchedulerUnavailable)
}

func TestInitToleratesPageFailure(t *testing.T) {
	e := newEnv()
	e.pages.err = errors.New("ui offline")
	require.NoError(t, New().Init(context.Background(), e.deps(configJSON("http://a.example", "", true))))
	assert.Len(t, e.sched.adds, 1)
}

func TestPollNotifiesFormattedRank(t *testing.T) {
	srv, _ := apiServer(t, http.StatusOK, `[{"rank":1,"name":"Movie A","heat":9876},{"rank":2,"name":"Movie B","heat":"5432.1"}]`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))

	payload, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Heat", payload.Title)
	assert.Equal(t, "1. Movie A (9876)\n2. Movie B (5432.1)", payload.Body)

	require.Equal(t, 1, e.notify.calls())
	n := e.notify.got[0]
	assert.Equal(t, "Heat", n.Title)
	assert.Contains(t, n.Text, "1. Movie A (9876)")
	assert.Equal(t, PluginName, n.Source)
}

func TestScheduledJobPolls(t *testing.T) {
	srv, hits := apiServer(t, http.StatusOK, `{"code":200,"data":[{"name":"Movie A","heat":1}]}`)
	e := newEnv()
	require.NoError(t, New().Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))

	job := e.sched.jobs["maoyan_heat_rank:poll"].job
	require.NotNil(t, job)
	require.NoError(t, job(context.Background()))
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, 1, e.notify.calls())
}

func TestPollKeepsReceivedOrder(t *testing.T) {
	srv, _ := apiServer(t, http.StatusOK, `{"data":{"list":[{"rank":3,"nm":"C"},{"rank":1,"nm":"A"},{"rank":2,"nm":"B"}]}}`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))

	payload, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3. C\n1. A\n2. B", payload.Body)
}

func TestPollFailuresDoNotNotify(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"empty list":  {http.StatusOK, `[]`},
		"empty body":  {http.StatusOK, ``},
		"malformed":   {http.StatusOK, `{"data":`},
		"api error":   {http.StatusOK, `{"code":400,"msg":"quota exceeded"}`},
		"server down": {http.StatusBadGateway, `oops`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := apiServer(t, tc.status, tc.body)
			e := newEnv()
			p := New()
			require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))

			var err error
			require.NotPanics(t, func() { _, err = p.Poll(context.Background()) })
			assert.Error(t, err)
			assert.Zero(t, e.notify.calls())
			assert.NotContains(t, err.Error(), "my-key")
		})
	}
}

func TestPollEmptyRankIsTyped(t *testing.T) {
	srv, _ := apiServer(t, http.StatusOK, `{"code":200,"data":[]}`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))
	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyRank)
}

func TestPollFallsBackToSecondEndpoint(t *testing.T) {
	bad, badHits := apiServer(t, http.StatusInternalServerError, `{}`)
	good, goodHits := apiServer(t, http.StatusOK, `[{"rank":1,"name":"Movie A","heat":9876}]`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(bad.URL, good.URL, true))))

	payload, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1. Movie A (9876)", payload.Body)
	assert.EqualValues(t, 1, badHits.Load())
	assert.EqualValues(t, 1, goodHits.Load())
}

func TestPollJoinsBothFailures(t *testing.T) {
	a, _ := apiServer(t, http.StatusInternalServerError, `{}`)
	b, _ := apiServer(t, http.StatusOK, `not json`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(a.URL, b.URL, true))))

	_, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.ErrorIs(t, err, errMalformed)
	assert.Zero(t, e.notify.calls())
}

func TestPollWithNotificationsDisabled(t *testing.T) {
	srv, hits := apiServer(t, http.StatusOK, `[{"rank":1,"name":"Movie A","heat":9876}]`)
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", false))))

	payload, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1. Movie A (9876)", payload.Body)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, e.notify.calls())
}

func TestPollReturnsNotifierError(t *testing.T) {
	srv, _ := apiServer(t, http.StatusOK, `[{"rank":1,"name":"Movie A","heat":9876}]`)
	e := newEnv()
	e.notify.err = errors.New("queue full")
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", true))))

	payload, err := p.Poll(context.Background())
	assert.EqualError(t, err, "notify: queue full")
	assert.Equal(t, "1. Movie A (9876)", payload.Body)
}

func TestPollMaxEntries(t *testing.T) {
	srv, _ := apiServer(t, http.StatusOK, `[{"name":"A"},{"name":"B"},{"name":"C"}]`)
	e := newEnv()
	p := New()
	cfg := strings.Replace(configJSON(srv.URL, "", true), `"api"`, `"max_entries":2,"api"`, 1)
	require.NoError(t, p.Init(context.Background(), e.deps(cfg)))

	payload, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1. A\n2. B", payload.Body)
}

func TestPollBeforeInit(t *testing.T) {
	_, err := New().Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStopIsIdempotent(t *testing.T) {
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON("http://a.example", "", true))))
	require.True(t, e.sched.Has("maoyan_heat_rank:poll"))

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, e.sched.Has("maoyan_heat_rank:poll"))
	require.NoError(t, p.Stop(context.Background()))

	_, err := p.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	assert.NoError(t, New().Stop(context.Background()))
}

func TestReinitReplacesJob(t *testing.T) {
	e := newEnv()
	p := New()
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON("http://a.example", "", true))))
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON("http://b.example", "", true))))
	assert.Len(t, e.sched.jobs, 1)
}

func TestFailedReinitRemovesPreviousJob(t *testing.T) {
	tests := []struct {
		name string
		cfg  string
	}{
		{"malformed", `{"api":`},
		{"unknown field", `{"api":{"id":"my-id","key":"my-key"},"bogus":1}`},
		{"missing credentials", `{"api":{"url1":"http://a.example"}}`},
		{"bad schedule", `{"api":{"id":"my-id","key":"my-key"},"schedule":"soon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			p := New()
			require.NoError(t, p.Init(context.Background(), e.deps(configJSON("http://a.example", "", true))))
			require.True(t, e.sched.Has("maoyan_heat_rank:poll"))

			err := p.Init(context.Background(), e.deps(tt.cfg))
			require.ErrorIs(t, err, ErrNotConfigured)
			assert.False(t, e.sched.Has("maoyan_heat_rank:poll"))

			_, err = p.Poll(context.Background())
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

type countingTransport struct {
	n atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func TestInitUsesInjectedHTTPClient(t *testing.T) {
	srv, hits := apiServer(t, http.StatusOK, `[{"rank":1,"name":"Movie A","heat":1}]`)
	rt := &countingTransport{}
	e := newEnv()
	p := New(WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, p.Init(context.Background(), e.deps(configJSON(srv.URL, "", false))))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rt.n.Load())
	assert.EqualValues(t, 1, hits.Load())
}
