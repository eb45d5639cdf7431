package heatrank

import (
	"strconv"
	"strings"
)

// Payload is the notification built from one poll.
type Payload struct {
	Title string
	Body  string
}

// formatPayload renders entries in received order, one "N. Name (heat)" line
// each. An entry without heat renders as "N. Name". maxEntries <= 0 keeps all.
func formatPayload(title string, entries []RankEntry, maxEntries int) Payload {
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(e.Rank))
		b.WriteString(". ")
		b.WriteString(e.Name)
		if e.Heat != "" {
			b.WriteString(" (")
			b.WriteString(e.Heat)
			b.WriteString(")")
		}
	}
	return Payload{Title: title, Body: b.String()}
}
