package pluginkit

import (
	"context"

	core "heatrank/internal/plugin"
	"heatrank/internal/transport"
)

// NotifyHelper is a small wrapper around core.NotifierPort that stamps the
// plugin name as the notification source.
type NotifyHelper struct {
	pluginName string
	svc        core.NotifierPort
}

func NewNotifyHelper(pluginName string, deps core.Deps) *NotifyHelper {
	return &NotifyHelper{pluginName: pluginName, svc: deps.Notifier}
}

// Available reports whether the host provided a notifier.
func (h *NotifyHelper) Available() bool { return h != nil && h.svc != nil }

// Send queues a titled notification.
func (h *NotifyHelper) Send(ctx context.Context, title, text string) error {
	return h.Notify(ctx, transport.Notification{Title: title, Text: text})
}

// Notify queues n with Source defaulted to the plugin name.
func (h *NotifyHelper) Notify(ctx context.Context, n transport.Notification) error {
	if !h.Available() {
		return core.ErrNotifierUnavailable
	}
	if n.Source == "" {
		n.Source = h.pluginName
	}
	return h.svc.Notify(ctx, n)
}
