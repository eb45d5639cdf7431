package ntfy

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

func TestSendPublishesToTopic(t *testing.T) {
	var (
		gotPath, gotBody string
		gotHeader        http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotPath, gotBody, gotHeader = r.URL.Path, string(b), r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(Config{Server: srv.URL + "/", Topic: "heat", Token: "tk", Priority: 4, Tags: []string{"movie_camera"}}, logx.Nop())
	require.NoError(t, err)

	err = s.Send(context.Background(), transport.Notification{
		Source: "maoyan_heat_rank",
		Title:  "猫眼热度榜排行",
		Text:   "1. Movie A (9876)",
		Tags:   []string{"fire", "movie_camera"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/heat", gotPath)
	assert.Equal(t, "1. Movie A (9876)", gotBody)
	assert.Equal(t, "4", gotHeader.Get("Priority"))
	assert.Equal(t, "movie_camera,fire", gotHeader.Get("Tags"))
	assert.Equal(t, "Bearer tk", gotHeader.Get("Authorization"))

	title, err := new(mime.WordDecoder).DecodeHeader(gotHeader.Get("Title"))
	require.NoError(t, err)
	assert.Equal(t, "猫眼热度榜排行", title)
}

func TestSendNotificationPriorityWins(t *testing.T) {
	var prio string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prio = r.Header.Get("Priority")
	}))
	defer srv.Close()

	s, err := New(Config{Server: srv.URL, Topic: "heat", Priority: 2}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), transport.Notification{Title: "ascii", Text: "x", Priority: 5}))
	assert.Equal(t, "5", prio)
}

func TestSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := New(Config{Server: srv.URL, Topic: "heat"}, logx.Nop())
	require.NoError(t, err)
	err = s.Send(context.Background(), transport.Notification{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "topic reserved")
}

func TestNewDefaults(t *testing.T) {
	s, err := New(Config{Topic: "/heat/"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultServer+"/heat", s.endpoint)
	assert.Equal(t, "ntfy", s.Name())

	_, err = New(Config{}, logx.Nop())
	assert.Error(t, err)
}
