package plugin

import "time"

// Status is the operational state of one registered plugin.
type Status struct {
	Name      string
	Enabled   bool
	Running   bool
	StartedAt time.Time
	LastError string
}
