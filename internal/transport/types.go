package transport

import "context"

// Notification is a message a plugin hands to the host notifier.
// Delivery (chat, push, log) is up to the configured sinks.
type Notification struct {
	Source   string // plugin name
	Title    string
	Text     string
	Priority int // 0 low.. 10 high
	Tags     []string
}

// Sink delivers a notification over one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
