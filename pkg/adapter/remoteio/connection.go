package remoteio

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/protocol/channel"
	"github.com/marmos91/remoteio/internal/protocol/handshake"
	"github.com/marmos91/remoteio/internal/telemetry"
	"github.com/marmos91/remoteio/pkg/metrics"
)

// connection is the per-session record: the channel, the immutable server
// configuration and the collaborators every command needs.
type connection struct {
	id      string
	raw     net.Conn
	ch      *channel.Conn
	config  *Config
	storage *Storage
	metrics metrics.RemoteIOMetrics
}

func newConnection(a *Adapter, raw net.Conn) *connection {
	return &connection{
		id:      uuid.NewString(),
		raw:     raw,
		ch:      channel.New(raw, channel.RoleServer, channel.Options{MaxFrameSize: a.config.MaxFrameSize}),
		config:  &a.config,
		storage: a.storage,
		metrics: a.metrics,
	}
}

// Serve runs the handshake and the command loop. Every failure ends here:
// it is logged and only this connection is closed.
func (c *connection) Serve(ctx context.Context) {
	clientAddr := c.raw.RemoteAddr().String()
	clientIP := clientAddr
	if host, _, err := net.SplitHostPort(clientAddr); err == nil {
		clientIP = host
	}

	ctx, span := telemetry.StartSessionSpan(ctx, c.id, clientAddr)
	defer span.End()

	lc := logger.NewLogContext(c.id, clientIP).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	defer c.handleConnectionClose(ctx)

	logger.DebugCtx(ctx, "New connection", logger.Address(clientAddr))

	username, err := c.authenticate(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		switch {
		case errors.Is(err, handshake.ErrNotAuthorized):
			logger.WarnCtx(ctx, "Authentication failed", logger.Username(username))
		case isDisconnect(err):
			logger.DebugCtx(ctx, "Connection closed during handshake", logger.Err(err))
		default:
			logger.WarnCtx(ctx, "Handshake failed", logger.Err(err))
		}
		return
	}

	ctx = logger.WithContext(ctx, lc.WithUsername(username))
	telemetry.SetAttributes(ctx, telemetry.Username(username))
	logger.InfoCtx(ctx, "Client authenticated")

	d := &dispatcher{ch: c.ch, storage: c.storage, metrics: c.metrics}
	if err := d.serve(ctx); err != nil {
		if isDisconnect(err) || ctx.Err() != nil {
			logger.DebugCtx(ctx, "Connection ended", logger.Err(err))
			return
		}
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Connection aborted", logger.Err(err))
		return
	}
	telemetry.SetStatus(ctx, codes.Ok, "")
	logger.DebugCtx(ctx, "Client closed session")
}

// authenticate runs the server half of the handshake inside its own span and
// records the outcome of a completed credential check.
func (c *connection) authenticate(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHandshake)
	defer span.End()
	span.SetAttributes(telemetry.KeyBits(c.config.KeySizeBits))

	username, err := handshake.Server(ctx, c.ch, c.config.Identity, c.config.KeySizeBits, c.config.AuthTimeout)
	switch {
	case err == nil:
		c.metrics.RecordAuthAttempt(true)
	case errors.Is(err, handshake.ErrNotAuthorized):
		c.metrics.RecordAuthAttempt(false)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return username, err
}

// handleConnectionClose recovers a panicking session and closes the socket.
func (c *connection) handleConnectionClose(ctx context.Context) {
	if r := recover(); r != nil {
		logger.ErrorCtx(ctx, "Panic in connection handler",
			"panic", r,
			"stack", string(debug.Stack()))
	}
	_ = c.ch.Close()
}

// isDisconnect reports errors caused by the peer going away or the server
// interrupting reads during shutdown.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
