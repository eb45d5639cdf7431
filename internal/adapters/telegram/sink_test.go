package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

type botAPI struct {
	mu    sync.Mutex
	paths []string
	texts []string
}

func (b *botAPI) handler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.texts = append(b.texts, body.Text)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
}

func TestSendPostsTitleAndBody(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: 42, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	err = s.Send(context.Background(), transport.Notification{Title: "Heat", Text: "1. Movie A (9876)"})
	require.NoError(t, err)

	require.Len(t, api.paths, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, "Heat\n\n1. Movie A (9876)", api.texts[0])
}

func TestSendReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", ChatID: 42, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Send(context.Background(), transport.Notification{Title: "T", Text: "x"}))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{ChatID: 1}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Token: "t"}, logx.Nop())
	assert.Error(t, err)
}

func TestCompose(t *testing.T) {
	assert.Equal(t, "T\n\nbody", compose(transport.Notification{Title: "T", Text: "body"}))
	assert.Equal(t, "body", compose(transport.Notification{Text: "body"}))
	assert.Equal(t, "T", compose(transport.Notification{Title: " T "}))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("x", 9) + "\n"
	s := strings.Repeat(line, 10) // 100 runes
	chunks := splitText(s, 35)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 35)
		assert.False(t, strings.HasSuffix(c, "\n"))
	}
	assert.Equal(t, strings.TrimRight(s, "\n"), strings.Join(chunks, "\n"))
	assert.Equal(t, []string{"short"}, splitText("short", 35))
}
