package ntfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

const DefaultServer = "https://ntfy.sh"

// Config configures the ntfy sink.
type Config struct {
	Server   string
	Topic    string
	Token    string // optional access token
	Priority int    // 1..5, 0 means server default (3)
	Tags     []string
	Timeout  time.Duration
}

// Sink publishes notifications to an ntfy topic over plain HTTP.
type Sink struct {
	cfg      Config
	endpoint string
	client   *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	topic := strings.Trim(strings.TrimSpace(cfg.Topic), "/")
	if topic == "" {
		return nil, errors.New("ntfy topic is empty")
	}
	server := strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	if server == "" {
		server = DefaultServer
	}
	if _, err := url.ParseRequestURI(server); err != nil {
		return nil, fmt.Errorf("ntfy server: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		cfg:      cfg,
		endpoint: server + "/" + url.PathEscape(topic),
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}, nil
}

func (s *Sink) Name() string { return "ntfy" }

func (s *Sink) Send(ctx context.Context, n transport.Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(n.Text))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if n.Title != "" {
		req.Header.Set("Title", encodeHeader(n.Title))
	}
	if tags := s.tags(n); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if p := s.priority(n); p > 0 {
		req.Header.Set("Priority", strconv.Itoa(p))
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	s.log.Debug("ntfy message sent", logx.String("source", n.Source))
	return nil
}

// priority prefers the notification's own priority when it fits ntfy's 1..5 scale.
func (s *Sink) priority(n transport.Notification) int {
	if n.Priority >= 1 && n.Priority <= 5 {
		return n.Priority
	}
	return s.cfg.Priority
}

func (s *Sink) tags(n transport.Notification) []string {
	out := make([]string, 0, len(s.cfg.Tags)+len(n.Tags))
	seen := map[string]bool{}
	for _, t := range append(append([]string(nil), s.cfg.Tags...), n.Tags...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// encodeHeader RFC 2047-encodes non-ASCII values, which ntfy decodes.
func encodeHeader(v string) string {
	for i := 0; i < len(v); i++ {
		if v[i] >= 0x80 {
			return mime.BEncoding.Encode("utf-8", v)
		}
	}
	return v
}
