package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

// Config configures the Telegram sink.
type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (self-hosted bot API servers, tests).
	APIURL  string
	Timeout time.Duration
}

// Sink delivers notifications as plain text messages to one chat (and
// optionally one forum topic).
type Sink struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Offline skips the getMe round trip; the sink never polls for updates.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sink{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sink) Name() string { return "telegram" }

// Send posts "title\n\ntext", split into several messages when it exceeds the
// Telegram limit.
func (s *Sink) Send(ctx context.Context, n transport.Notification) error {
	text := compose(n)
	if text == "" {
		return nil
	}
	chat := &tele.Chat{ID: s.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              s.cfg.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	s.log.Debug("telegram message sent", logx.Int64("chat_id", s.cfg.ChatID), logx.String("source", n.Source))
	return nil
}

func compose(n transport.Notification) string {
	title := strings.TrimSpace(n.Title)
	text := strings.TrimSpace(n.Text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	default:
		return title + "\n\n" + text
	}
}

const textLimit = 4000

// splitText splits long messages into chunks, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			// Avoid extremely small chunks.
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
