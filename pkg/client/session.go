// Package client is the RemoteIO client.
//
//	s := client.New("files.example.com", 9090)
//	if err := s.Start(ctx, "admin", "secret", 2048); err != nil {
//		return err
//	}
//	defer s.Close()
//	data, err := s.ReadFile(ctx, "/etc/motd")
//
// A Session is safe for concurrent use; calls are serialized because the
// protocol carries one exchange at a time.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/remoteio/internal/bytesize"
	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/protocol/channel"
	"github.com/marmos91/remoteio/internal/protocol/handshake"
	"github.com/marmos91/remoteio/internal/protocol/wire"
)

// DefaultDialTimeout bounds the TCP connect when no option overrides it.
const DefaultDialTimeout = 10 * time.Second

type state int

const (
	stateNew state = iota
	stateReady
	stateClosed
)

// Option configures a Session.
type Option func(*Session)

// WithDialTimeout sets the TCP connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) { s.dialTimeout = d }
}

// WithMaxFrameSize caps a single message, file contents included. It must
// match the server's limit for large files.
func WithMaxFrameSize(n bytesize.ByteSize) Option {
	return func(s *Session) { s.maxFrame = n }
}

// Session is one authenticated connection to a server.
type Session struct {
	host        string
	port        int
	dialTimeout time.Duration
	maxFrame    bytesize.ByteSize
	id          string

	mu    sync.Mutex
	state state
	raw   net.Conn
	ch    *channel.Conn
}

// New returns an unconnected session. Call Start to connect.
func New(host string, port int, opts ...Option) *Session {
	s := &Session{
		host:        host,
		port:        port,
		dialTimeout: DefaultDialTimeout,
		id:          uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the session in client logs.
func (s *Session) ID() string {
	return s.id
}

// Addr returns the server address.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start connects, upgrades the channel and authenticates. It may succeed at
// most once per Session.
func (s *Session) Start(ctx context.Context, username, password string, keyBits int) error {
	if err := validateArg("username", username); err != nil {
		return err
	}
	if err := validateArg("password", password); err != nil {
		return err
	}
	if keyBits < channel.MinKeyBits {
		return &ValidationError{Field: "key size", Value: strconv.Itoa(keyBits), Err: channel.ErrKeySize}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateReady:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrSessionClosed
	}

	dialer := net.Dialer{Timeout: s.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	s.raw = raw
	s.ch = channel.New(raw, channel.RoleClient, channel.Options{MaxFrameSize: s.maxFrame})

	lc := logger.NewLogContext(s.id, "").WithUsername(username)
	ctx = logger.WithContext(ctx, lc)

	err = s.withContext(ctx, func() error {
		return handshake.Client(ctx, s.ch, username, password, keyBits)
	})
	if err != nil {
		s.state = stateClosed
		_ = s.ch.Close()
		switch {
		case errors.Is(err, handshake.ErrNotAuthorized):
			logger.WarnCtx(ctx, "Server rejected credentials", logger.Address(s.Addr()))
			return &AuthError{Username: username}
		case errors.Is(err, handshake.ErrProtocolViolation):
			return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		case ctx.Err() != nil:
			return &TransportError{Op: "handshake", Err: ctx.Err()}
		default:
			return &TransportError{Op: "handshake", Err: err}
		}
	}

	s.state = stateReady
	logger.DebugCtx(ctx, "Session started", logger.Address(s.Addr()))
	return nil
}

// Close sends CLOSE when possible and closes the connection. The CLOSE send
// is best effort and never makes Close fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		s.state = stateClosed
		return nil
	}
	if s.state == stateReady {
		_ = s.ch.Send(wire.Encode(wire.Frame{Opcode: wire.OpClose}))
	}
	s.state = stateClosed
	err := s.ch.Close()
	s.ch = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// withContext runs fn with ctx cancellation interrupting blocking I/O.
func (s *Session) withContext(ctx context.Context, fn func() error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.raw.SetDeadline(time.Unix(1, 0))
	})
	err := fn()
	if !stop() {
		// The deadline fired; the stream position is unknown.
		if err == nil {
			err = ctx.Err()
		}
		return &TransportError{Op: "cancelled", Err: errors.Join(ctx.Err(), err)}
	}
	return err
}

// exchange runs one request/response under the session lock. Transport and
// protocol failures close the session.
func (s *Session) exchange(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateNew:
		return ErrNotStarted
	case stateClosed:
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.withContext(ctx, fn)
	if err != nil && IsFatal(err) {
		s.state = stateClosed
		_ = s.ch.Close()
		logger.Debug("Session broken", logger.SessionID(s.id), logger.Err(err))
	}
	return err
}

func (s *Session) send(op wire.Opcode, args ...string) error {
	f, err := wire.NewFrame(op, args...)
	if err != nil {
		return err
	}
	return s.sendRaw(wire.Encode(f))
}

func (s *Session) sendRaw(data []byte) error {
	if err := s.ch.Send(data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (s *Session) receive() (string, error) {
	msg, err := s.ch.Receive(0)
	if err != nil {
		return "", &TransportError{Op: "receive", Err: err}
	}
	return string(msg), nil
}

// receiveBytes reads a binary payload.
func (s *Session) receiveBytes() ([]byte, error) {
	msg, err := s.ch.Receive(0)
	if err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}
	return msg, nil
}

// expectEnd reads the terminal frame of an exchange.
func (s *Session) expectEnd() error {
	reply, err := s.receive()
	if err != nil {
		return err
	}
	return endOrError(reply)
}

func endOrError(reply string) error {
	switch {
	case reply == wire.End:
		return nil
	case wire.IsError(reply):
		return newOperationError(reply)
	default:
		return violation(reply)
	}
}

func violation(reply string) error {
	const limit = 64
	if len(reply) > limit {
		reply = reply[:limit] + "..."
	}
	return fmt.Errorf("%w: unexpected reply %q", ErrProtocolViolation, reply)
}

func validateArg(field, value string) error {
	if err := wire.ValidateArg(value); err != nil {
		return &ValidationError{Field: field, Value: value, Err: err}
	}
	return nil
}

// ReadFile returns the contents of path. A missing file yields nil data and a
// nil error.
func (s *Session) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := validateArg("path", path); err != nil {
		return nil, err
	}

	var data []byte
	err := s.exchange(ctx, func() error {
		if err := s.send(wire.OpReadFile, path); err != nil {
			return err
		}
		reply, err := s.receive()
		if err != nil {
			return err
		}
		switch {
		case reply == wire.Found:
			payload, err := s.receiveBytes()
			if err != nil {
				return err
			}
			if err := s.expectEnd(); err != nil {
				return err
			}
			data = payload
			if data == nil {
				data = []byte{}
			}
			return nil
		case reply == wire.NotFound:
			return s.expectEnd()
		case wire.IsError(reply):
			return newOperationError(reply)
		default:
			return violation(reply)
		}
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile creates or replaces path with data.
func (s *Session) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := validateArg("path", path); err != nil {
		return err
	}
	return s.exchange(ctx, func() error {
		if err := s.send(wire.OpWriteFile, path); err != nil {
			return err
		}
		if err := s.sendRaw(data); err != nil {
			return err
		}
		return s.expectEnd()
	})
}

// DeleteFile removes path. A missing file is not an error.
func (s *Session) DeleteFile(ctx context.Context, path string) error {
	return s.simple(ctx, wire.OpDeleteFile, path)
}

// CreateDirectory creates path and any missing parents.
func (s *Session) CreateDirectory(ctx context.Context, path string) error {
	return s.simple(ctx, wire.OpCreateDirectory, path)
}

// DeleteDirectory removes path recursively. A missing directory is not an
// error.
func (s *Session) DeleteDirectory(ctx context.Context, path string) error {
	return s.simple(ctx, wire.OpDeleteDirectory, path)
}

func (s *Session) simple(ctx context.Context, op wire.Opcode, path string) error {
	if err := validateArg("path", path); err != nil {
		return err
	}
	return s.exchange(ctx, func() error {
		if err := s.send(op, path); err != nil {
			return err
		}
		return s.expectEnd()
	})
}

// FileExists reports whether path is a regular file.
func (s *Session) FileExists(ctx context.Context, path string) (bool, error) {
	return s.probe(ctx, wire.OpFileExists, path)
}

// DirectoryExists reports whether path is a directory.
func (s *Session) DirectoryExists(ctx context.Context, path string) (bool, error) {
	return s.probe(ctx, wire.OpDirectoryExists, path)
}

func (s *Session) probe(ctx context.Context, op wire.Opcode, path string) (bool, error) {
	if err := validateArg("path", path); err != nil {
		return false, err
	}

	var found bool
	err := s.exchange(ctx, func() error {
		if err := s.send(op, path); err != nil {
			return err
		}
		reply, err := s.receive()
		if err != nil {
			return err
		}
		switch {
		case reply == wire.Found:
			found = true
		case reply == wire.NotFound:
			found = false
		case wire.IsError(reply):
			return newOperationError(reply)
		default:
			return violation(reply)
		}
		return s.expectEnd()
	})
	return found, err
}

// GetFiles lists the files under path, relative to it. An empty pattern
// matches everything. With onlyCurrent the listing is not recursive.
func (s *Session) GetFiles(ctx context.Context, path, pattern string, onlyCurrent bool) ([]string, error) {
	if err := validateArg("path", path); err != nil {
		return nil, err
	}
	if err := validateArg("search pattern", pattern); err != nil {
		return nil, err
	}
	mode := wire.ModeWithSub
	if onlyCurrent {
		mode = wire.ModeCurrent
	}

	var files []string
	err := s.exchange(ctx, func() error {
		if err := s.send(wire.OpGetFiles, path, pattern, string(mode)); err != nil {
			return err
		}
		reply, err := s.receive()
		if err != nil {
			return err
		}
		if wire.IsError(reply) {
			return newOperationError(reply)
		}
		var listing []string
		if err := json.Unmarshal([]byte(reply), &listing); err != nil {
			return violation(reply)
		}
		if err := s.expectEnd(); err != nil {
			return err
		}
		files = listing
		if files == nil {
			files = []string{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListFiles lists the immediate files of path.
func (s *Session) ListFiles(ctx context.Context, path string) ([]string, error) {
	return s.GetFiles(ctx, path, "", true)
}

// GetFileSize returns the length of a regular file.
func (s *Session) GetFileSize(ctx context.Context, path string) (int64, error) {
	if err := validateArg("path", path); err != nil {
		return 0, err
	}

	var size int64
	err := s.exchange(ctx, func() error {
		if err := s.send(wire.OpGetFileSize, path); err != nil {
			return err
		}
		reply, err := s.receive()
		if err != nil {
			return err
		}
		if wire.IsError(reply) {
			return newOperationError(reply)
		}
		n, err := strconv.ParseInt(reply, 10, 64)
		if err != nil {
			return violation(reply)
		}
		if err := s.expectEnd(); err != nil {
			return err
		}
		size = n
		return nil
	})
	return size, err
}
