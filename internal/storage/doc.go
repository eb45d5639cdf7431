// Package storage provides the host's persistence layer.
//
// It currently supports:
//   - Notification delivery audit appends
//   - Optional notifier dedup state (to survive restarts)
//   - Registered plugin config pages
package storage
