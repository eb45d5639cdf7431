package notifier

import (
	"context"

	"heatrank/internal/transport"
	logx "heatrank/pkg/logx"
)

// LogSink writes notifications to the structured log. The host uses it when
// no remote transport is configured so notifications are never lost silently.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, n transport.Notification) error {
	s.Log.Info("notification",
		logx.String("source", n.Source),
		logx.String("title", n.Title),
		logx.String("text", n.Text),
		logx.Int("priority", n.Priority),
	)
	return nil
}
