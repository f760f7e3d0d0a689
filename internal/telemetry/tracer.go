package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. Generic keys follow OpenTelemetry semantic conventions;
// protocol keys use the "remoteio." prefix.
const (
	AttrClientAddr = "client.address"
	AttrUsername   = "user.name"

	AttrSessionID = "remoteio.session_id"
	AttrCommand   = "remoteio.command"
	AttrPhase     = "remoteio.phase"
	AttrPath      = "remoteio.path"
	AttrPattern   = "remoteio.pattern"
	AttrListMode  = "remoteio.list_mode"
	AttrSize      = "remoteio.size"
	AttrCount     = "remoteio.count"
	AttrFound     = "remoteio.found"
	AttrKeyBits   = "remoteio.key_bits"
)

// Span names.
const (
	// SpanSession covers one connection from accept to close.
	SpanSession = "remoteio.session"

	// SpanHandshake covers greeting, key upgrade and authentication.
	SpanHandshake = "remoteio.handshake"

	// Per-command spans are named "remoteio.<OPCODE>".
	spanCommandPrefix = "remoteio."
)

func ClientAddr(addr string) attribute.KeyValue { return attribute.String(AttrClientAddr, addr) }
func Username(name string) attribute.KeyValue { return attribute.String(AttrUsername, name) }
func SessionID(id string) attribute.KeyValue { return attribute.String(AttrSessionID, id) }
func Command(cmd string) attribute.KeyValue { return attribute.String(AttrCommand, cmd) }
func Phase(p string) attribute.KeyValue { return attribute.String(AttrPhase, p) }
func Path(p string) attribute.KeyValue { return attribute.String(AttrPath, p) }
func Pattern(p string) attribute.KeyValue { return attribute.String(AttrPattern, p) }
func ListMode(m string) attribute.KeyValue { return attribute.String(AttrListMode, m) }
func Size(n int64) attribute.KeyValue { return attribute.Int64(AttrSize, n) }
func Count(n int) attribute.KeyValue { return attribute.Int(AttrCount, n) }
func Found(ok bool) attribute.KeyValue { return attribute.Bool(AttrFound, ok) }
func KeyBits(n int) attribute.KeyValue { return attribute.Int(AttrKeyBits, n) }

// StartSessionSpan starts the root span of a server connection.
func StartSessionSpan(ctx context.Context, sessionID, clientAddr string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanSession,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(SessionID(sessionID), ClientAddr(clientAddr)),
	)
}

// StartCommandSpan starts a child span for one command.
func StartCommandSpan(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, Command(command))
	return StartSpan(ctx, spanCommandPrefix+command, trace.WithAttributes(attrs...))
}
