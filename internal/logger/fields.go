package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use these consistently so log lines can be queried
// across the server, client and CLI.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeySessionID = "session_id"
	KeyCommand   = "command"
	KeyPhase     = "phase"
	KeyClientIP  = "client_ip"
	KeyUsername  = "username"
	KeyAddress   = "address"

	KeyPath    = "path"
	KeyPattern = "pattern"
	KeyMode    = "mode"
	KeySize    = "size"
	KeyCount   = "count"

	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyActive     = "active"
	KeyWorkers    = "workers"
)

func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }
func Command(c string) slog.Attr { return slog.String(KeyCommand, c) }
func Phase(p string) slog.Attr { return slog.String(KeyPhase, p) }
func ClientIP(ip string) slog.Attr { return slog.String(KeyClientIP, ip) }
func Username(u string) slog.Attr { return slog.String(KeyUsername, u) }
func Address(a string) slog.Attr { return slog.String(KeyAddress, a) }
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }
func Pattern(p string) slog.Attr { return slog.String(KeyPattern, p) }
func Mode(m string) slog.Attr { return slog.String(KeyMode, m) }
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }
func Count(n int) slog.Attr { return slog.Int(KeyCount, n) }
func BytesRead(n int) slog.Attr { return slog.Int(KeyBytesRead, n) }
func BytesWritten(n int) slog.Attr { return slog.Int(KeyBytesWritten, n) }
func Active(n int) slog.Attr { return slog.Int(KeyActive, n) }
func Workers(n int) slog.Attr { return slog.Int(KeyWorkers, n) }

// DurationMs records d in fractional milliseconds.
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}

// Err returns an error attribute, or an empty attribute for a nil error so it
// is dropped by the handlers.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
