package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatrank/internal/config"
	logx "heatrank/pkg/logx"
)

type stubPlugin struct {
	name    string
	initErr error
	panics  bool
	inits   int
	stops   int
	lastCfg json.RawMessage
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Init(_ context.Context, deps Deps) error {
	if p.panics {
		panic("boom")
	}
	p.inits++
	p.lastCfg = deps.Config
	return p.initErr
}

func (p *stubPlugin) Stop(context.Context) error {
	p.stops++
	return nil
}

func raw(enabled bool, js string) config.PluginConfigRaw {
	return config.PluginConfigRaw{Enabled: enabled, Config: json.RawMessage(js)}
}

func TestStartAllSkipsDisabled(t *testing.T) {
	a := &stubPlugin{name: "a"}
	b := &stubPlugin{name: "b"}
	m := NewManager(logx.Nop(), Deps{})
	m.Register(a, b)

	m.StartAll(context.Background(), map[string]config.PluginConfigRaw{
		"a": raw(true, `{"x":1}`),
		"b": raw(false, `{}`),
	})
	assert.Equal(t, 1, a.inits)
	assert.JSONEq(t, `{"x":1}`, string(a.lastCfg))
	assert.Equal(t, 0, b.inits)

	st := m.Status()
	require.Len(t, st, 2)
	assert.True(t, st[0].Running)
	assert.False(t, st[1].Running)
}

func TestInitFailureLeavesPluginInert(t *testing.T) {
	bad := &stubPlugin{name: "bad", initErr: errors.New("missing key")}
	boom := &stubPlugin{name: "boom", panics: true}
	ok := &stubPlugin{name: "ok"}
	m := NewManager(logx.Nop(), Deps{})
	m.Register(bad, boom, ok)

	m.StartAll(context.Background(), map[string]config.PluginConfigRaw{
		"bad": raw(true, `{}`), "boom": raw(true, `{}`), "ok": raw(true, `{}`),
	})

	byName := map[string]Status{}
	for _, s := range m.Status() {
		byName[s.Name] = s
	}
	assert.False(t, byName["bad"].Running)
	assert.Equal(t, "missing key", byName["bad"].LastError)
	assert.False(t, byName["boom"].Running)
	assert.Contains(t, byName["boom"].LastError, "panic: boom")
	assert.True(t, byName["ok"].Running)

	m.StopAll(context.Background())
	assert.Equal(t, 0, bad.stops)
	assert.Equal(t, 1, ok.stops)
}

func TestReloadReinitsOnlyChangedConfig(t *testing.T) {
	a := &stubPlugin{name: "a"}
	b := &stubPlugin{name: "b"}
	m := NewManager(logx.Nop(), Deps{})
	m.Register(a, b)

	ctx := context.Background()
	m.StartAll(ctx, map[string]config.PluginConfigRaw{"a": raw(true, `{"x":1,"y":2}`), "b": raw(true, `{}`)})

	// Key order and whitespace do not count as a change.
	m.Reload(ctx, map[string]config.PluginConfigRaw{"a": raw(true, `{ "y":2, "x":1 }`), "b": raw(true, `{"z":true}`)})
	assert.Equal(t, 1, a.inits)
	assert.Equal(t, 0, a.stops)
	assert.Equal(t, 2, b.inits)
	assert.Equal(t, 1, b.stops)

	m.Reload(ctx, map[string]config.PluginConfigRaw{"b": raw(true, `{"z":true}`)})
	assert.Equal(t, 1, a.stops)
}

func TestPagesRegistry(t *testing.T) {
	r := NewPages(nil, logx.Nop())
	ctx := context.Background()
	require.Error(t, r.RegisterPage(ctx, Page{Title: "x"}))
	require.Error(t, r.RegisterPage(ctx, Page{Plugin: "x"}))

	require.NoError(t, r.RegisterPage(ctx, Page{Plugin: "b", Title: "B"}))
	require.NoError(t, r.RegisterPage(ctx, Page{Plugin: "a", Title: "A", Schema: map[string]any{"type": "object"}}))

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", p.Title)
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Plugin)
}

func TestDecodeConfig(t *testing.T) {
	type cfg struct {
		Name  string `json:"name"`
		Every string `json:"every"`
	}
	def := cfg{Every: "1h"}

	got, err := DecodeConfig(nil, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = DecodeConfig(json.RawMessage(` null `), def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = DecodeConfig(json.RawMessage(`{"name":"x"}`), def)
	require.NoError(t, err)
	assert.Equal(t, cfg{Name: "x", Every: "1h"}, got)

	_, err = DecodeConfig(json.RawMessage(`{"name":"x","extra":1}`), def)
	assert.Error(t, err)

	got, err = DecodeConfig(json.RawMessage(`{`), def)
	assert.Error(t, err)
	assert.Equal(t, def, got)
}
