// Package notifier provides the host's async notification pipeline.
//
// Plugins hand a transport.Notification to Notify; the service queues it,
// drops duplicates inside the dedup window, and fans it out to every
// configured transport.Sink (Telegram, ntfy, log) under a shared rate limit.
// Failed deliveries are retried with jittered exponential backoff and every
// attempt is audited in storage when a store is configured.
//
// Notify never blocks on delivery: a full queue yields ErrQueueFull.
package notifier
