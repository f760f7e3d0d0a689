// Package remoteio serves the RemoteIO file protocol over TCP.
//
// Each accepted connection is greeted with HI, upgraded to an encrypted
// channel, authenticated against a single static identity and then enters a
// command loop that reads and writes the server's filesystem on behalf of the
// client. Connections are served by a fixed number of workers; extra
// connections are accepted and wait for a free worker.
package remoteio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/marmos91/remoteio/internal/bytesize"
	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/protocol/channel"
	"github.com/marmos91/remoteio/internal/protocol/handshake"
	"github.com/marmos91/remoteio/internal/protocol/wire"
	"github.com/marmos91/remoteio/pkg/adapter"
	"github.com/marmos91/remoteio/pkg/metrics"
)

const protocolName = "RemoteIO"

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultPort        = 9090
	DefaultKeySizeBits = 2048
	DefaultAuthTimeout = time.Second
)

// Config is the immutable server configuration.
type Config struct {
	// Identity is the only credential pair accepted.
	Identity handshake.Identity

	// KeySizeBits is the RSA modulus size used in the key upgrade. Both peers
	// must use the same value.
	KeySizeBits int

	// WorkerCount bounds the sessions served at once. Defaults to NumCPU.
	WorkerCount int

	// Port is the TCP port. 0 selects DefaultPort; use ServeListener for an
	// ephemeral port.
	Port        int
	BindAddress string

	// AuthTimeout bounds the wait for the client's credentials. Negative
	// waits forever.
	AuthTimeout time.Duration

	// MaxFrameSize caps a single channel message, file contents included.
	MaxFrameSize bytesize.ByteSize

	ShutdownTimeout    time.Duration
	MetricsLogInterval time.Duration

	// Root confines every client path beneath a directory. Empty serves the
	// whole host filesystem relative to the working directory.
	Root string
}

func (c *Config) applyDefaults() {
	if c.KeySizeBits == 0 {
		c.KeySizeBits = DefaultKeySizeBits
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.AuthTimeout == 0:
		c.AuthTimeout = DefaultAuthTimeout
	case c.AuthTimeout < 0:
		c.AuthTimeout = 0
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = channel.DefaultMaxFrameSize
	}
}

// Adapter is the RemoteIO server. It implements adapter.Adapter.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	storage *Storage
	metrics metrics.RemoteIOMetrics
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds a server on the host filesystem (confined to cfg.Root when set).
// A nil m disables metrics.
func New(cfg Config, m metrics.RemoteIOMetrics) (*Adapter, error) {
	storage, err := NewStorage(cfg.Root)
	if err != nil {
		return nil, err
	}
	return NewWithStorage(cfg, storage, m)
}

// NewWithStorage builds a server on an explicit storage.
func NewWithStorage(cfg Config, storage *Storage, m metrics.RemoteIOMetrics) (*Adapter, error) {
	cfg.applyDefaults()
	if cfg.KeySizeBits < channel.MinKeyBits {
		return nil, fmt.Errorf("key size %d: %w", cfg.KeySizeBits, channel.ErrKeySize)
	}
	if err := wire.ValidateArg(cfg.Identity.Username); err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	if err := wire.ValidateArg(cfg.Identity.Password); err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	if m == nil {
		m = metrics.NewNoopRemoteIOMetrics()
	}

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		BindAddress:        cfg.BindAddress,
		Port:               cfg.Port,
		Workers:            cfg.WorkerCount,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.MetricsLogInterval,
	}, protocolName)
	base.Metrics = m

	return &Adapter{
		BaseAdapter: base,
		config:      cfg,
		storage:     storage,
		metrics:     m,
	}, nil
}

// Serve listens on the configured address and serves until ctx is cancelled
// or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	logger.Info("Starting RemoteIO server",
		logger.Workers(a.config.WorkerCount),
		"key_size", a.config.KeySizeBits,
		"auth_timeout", a.config.AuthTimeout,
		"root", a.config.Root)
	return a.ServeWithFactory(ctx, a)
}

// ServeListener serves on an existing listener.
func (a *Adapter) ServeListener(ctx context.Context, ln net.Listener) error {
	return a.BaseAdapter.ServeListener(ctx, ln, a)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return newConnection(a, conn)
}

// MapError exposes command failures as protocol errors.
func (a *Adapter) MapError(err error) adapter.ProtocolError {
	var opErr *wire.OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	return nil
}

// Storage returns the filesystem served by the adapter.
func (a *Adapter) Storage() *Storage {
	return a.storage
}
