package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/workerpool"
)

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is finished or ctx is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory builds a protocol-specific handler for an accepted
// connection.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds the listener and lifecycle settings shared by adapters.
type BaseConfig struct {
	// BindAddress is the IP to bind. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. 0 picks a free port.
	Port int

	// Workers is the number of connections served at once. Connections
	// accepted beyond it wait for a free worker; they are never refused.
	Workers int

	// ShutdownTimeout bounds how long Stop waits for connections in service.
	ShutdownTimeout time.Duration

	// MetricsLogInterval enables a periodic connection count log line.
	MetricsLogInterval time.Duration
}

// MetricsRecorder receives connection lifecycle events. A nil recorder
// disables collection.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
	SetPendingConnections(count int32)
}

// BaseAdapter owns the TCP listener, the worker pool and shutdown.
//
// The accept loop never blocks on the pool: every accepted connection is
// handed to the pool immediately and waits there for a worker. At most
// Config.Workers connections are in service at any time.
type BaseAdapter struct {
	Config       BaseConfig
	protocolName string

	// Metrics is optional.
	Metrics MetricsRecorder

	listener   net.Listener
	listenerMu sync.RWMutex

	pool *workerpool.Pool

	shutdownOnce sync.Once

	// Shutdown is closed when shutdown starts.
	Shutdown chan struct{}

	// ConnCount is the number of connections being served by a worker.
	ConnCount atomic.Int32

	// ShutdownCtx is cancelled during shutdown; handlers receive it.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	// ActiveConnections maps remote address to net.Conn for every accepted
	// connection, waiting or in service.
	ActiveConnections sync.Map

	// ListenerReady is closed once the listener is bound.
	ListenerReady chan struct{}
}

// NewBaseAdapter creates a stopped adapter. Call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	shutdownCtx, cancelRequests := context.WithCancel(context.Background())
	pool := workerpool.New(config.Workers)
	logger.Debug(protocol+" worker pool", logger.Workers(pool.Size()))

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		pool:           pool,
		Shutdown:       make(chan struct{}),
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// ServeWithFactory binds the listener and runs the accept loop until ctx is
// cancelled or Stop is called. It returns nil on a graceful shutdown.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	addr := net.JoinHostPort(b.Config.BindAddress, fmt.Sprint(b.Config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, addr, err)
	}
	return b.ServeListener(ctx, listener, factory)
}

// ServeListener is ServeWithFactory on an existing listener.
func (b *BaseAdapter) ServeListener(ctx context.Context, listener net.Listener, factory ConnectionFactory) error {
	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening",
		logger.Address(listener.Addr().String()), logger.Workers(b.pool.Size()))

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", logger.Err(ctx.Err()))
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	var backoff time.Duration
	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				b.initiateShutdown()
				return b.gracefulShutdown()
			}
			// Transient failures such as EMFILE: back off instead of spinning.
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			logger.Warn("Error accepting "+b.protocolName+" connection", logger.Err(err))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.Err(err))
			}
		}

		b.dispatch(factory, tcpConn)
	}
}

// dispatch hands an accepted connection to the worker pool.
func (b *BaseAdapter) dispatch(factory ConnectionFactory, tcpConn net.Conn) {
	addr := tcpConn.RemoteAddr().String()
	b.ActiveConnections.Store(addr, tcpConn)
	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
	}

	release := func() {
		b.ActiveConnections.Delete(addr)
		if b.Metrics != nil {
			b.Metrics.RecordConnectionClosed()
		}
		b.publishGauges()
	}
	drop := func() {
		_ = tcpConn.Close()
		release()
		logger.Debug(b.protocolName+" connection dropped before service", logger.Address(addr))
	}

	handler := factory.NewConnection(tcpConn)
	err := b.pool.Submit(b.ShutdownCtx, func(ctx context.Context) {
		active := b.ConnCount.Add(1)
		b.publishGauges()
		logger.Debug(b.protocolName+" connection in service", logger.Address(addr), logger.Active(int(active)))

		defer func() {
			b.ConnCount.Add(-1)
			release()
			logger.Debug(b.protocolName+" connection closed", logger.Address(addr), logger.Active(int(b.ConnCount.Load())))
		}()
		handler.Serve(ctx)
	}, drop)
	if err != nil {
		drop()
		return
	}
	b.publishGauges()
}

func (b *BaseAdapter) publishGauges() {
	if b.Metrics == nil {
		return
	}
	b.Metrics.SetActiveConnections(b.ConnCount.Load())
	b.Metrics.SetPendingConnections(int32(b.pool.Waiting()))
}

// initiateShutdown stops the accept loop, unblocks reads on every connection
// and cancels ShutdownCtx. Safe to call more than once.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.Err(err))
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads puts a short deadline on every tracked connection.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline", logger.Address(key.(string)), logger.Err(err))
			}
		}
		return true
	})
}

// gracefulShutdown waits up to ShutdownTimeout for connections in service,
// then force-closes whatever remains.
func (b *BaseAdapter) gracefulShutdown() error {
	timeout := b.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		logger.Active(int(b.ConnCount.Load())), "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := b.pool.Shutdown(ctx); err != nil {
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded - forcing closure",
			logger.Active(int(remaining)), "timeout", timeout)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}

	logger.Info(b.protocolName + " graceful shutdown complete: all connections closed")
	return nil
}

func (b *BaseAdapter) forceCloseConnections() {
	closed := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.Address(key.(string)), logger.Err(err))
			return true
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})
	if closed > 0 {
		logger.Info("Force-closed "+b.protocolName+" connections", logger.Count(closed))
	}
}

// Stop starts shutdown and waits for connections in service to finish or for
// ctx to expire, whichever comes first. Safe to call concurrently with
// ServeWithFactory and more than once.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()
	if ctx == nil {
		return b.gracefulShutdown()
	}

	if err := b.pool.Shutdown(ctx); err != nil {
		logger.Warn(b.protocolName+" shutdown context cancelled",
			logger.Active(int(b.ConnCount.Load())), logger.Err(err))
		b.forceCloseConnections()
		return err
	}
	return nil
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Shutdown:
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics",
				"active_connections", b.ConnCount.Load(),
				"pending_connections", b.pool.Waiting())
		}
	}
}

// GetActiveConnections returns the number of connections in service.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetPendingConnections returns the number of accepted connections waiting
// for a worker.
func (b *BaseAdapter) GetPendingConnections() int {
	return b.pool.Waiting()
}

// GetListenerAddr blocks until the listener is bound and returns its address.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the protocol name used in logs.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}

// MapError is the default mapping; adapters override it.
func (b *BaseAdapter) MapError(_ error) ProtocolError {
	return nil
}
