package logx

import "fmt"

// CronLogger adapts Logger to robfig/cron's Logger interface.
//
// cron passes alternating key/value pairs; they are flattened into fields.
// Info is mapped to Debug because cron is chatty (every wake-up is logged).
type CronLogger struct {
	Log Logger
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.Log.Debug(msg, kvFields(keysAndValues)...)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append([]Field{Err(err)}, kvFields(keysAndValues)...)
	c.Log.Error(msg, fields...)
}

func kvFields(kv []interface{}) []Field {
	out := make([]Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		k := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			out = append(out, String(k, "(MISSING)"))
			break
		}
		out = append(out, Any(k, kv[i+1]))
	}
	return out
}
