package remoteio

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remoteio/internal/protocol/channel"
	"github.com/marmos91/remoteio/internal/protocol/handshake"
	"github.com/marmos91/remoteio/internal/protocol/wire"
)

const testKeyBits = 1024

var testIdentity = handshake.Identity{Username: "admin", Password: "secret"}

type testServer struct {
	adapter *Adapter
	addr    string
	root    string
	done    chan error
}

func startServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	cfg := Config{
		Identity:        testIdentity,
		KeySizeBits:     testKeyBits,
		WorkerCount:     4,
		Root:            t.TempDir(),
		ShutdownTimeout: 2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(cfg, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{adapter: a, addr: ln.Addr().String(), root: cfg.Root, done: make(chan error, 1)}
	go func() { s.done <- a.ServeListener(context.Background(), ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return s
}

// dial opens a plaintext channel without running the handshake.
func (s *testServer) dial(t *testing.T) *channel.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	ch := channel.New(raw, channel.RoleClient, channel.Options{})
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func (s *testServer) login(t *testing.T) *channel.Conn {
	t.Helper()
	ch := s.dial(t)
	require.NoError(t, handshake.Client(context.Background(), ch, testIdentity.Username, testIdentity.Password, testKeyBits))
	return ch
}

func send(t *testing.T, ch *channel.Conn, op wire.Opcode, args ...string) {
	t.Helper()
	f, err := wire.NewFrame(op, args...)
	require.NoError(t, err)
	require.NoError(t, ch.Send(wire.Encode(f)))
}

func recv(t *testing.T, ch *channel.Conn) string {
	t.Helper()
	msg, err := ch.Receive(5 * time.Second)
	require.NoError(t, err)
	return string(msg)
}

func TestServerRoundTrip(t *testing.T) {
	s := startServer(t, nil)
	ch := s.login(t)

	p := filepath.Join(s.root, "nested")
	send(t, ch, wire.OpCreateDirectory, "/nested")
	assert.Equal(t, wire.End, recv(t, ch))

	send(t, ch, wire.OpWriteFile, "/nested/file.bin")
	require.NoError(t, ch.Send([]byte("contents")))
	assert.Equal(t, wire.End, recv(t, ch))

	data, err := os.ReadFile(filepath.Join(p, "file.bin"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	send(t, ch, wire.OpReadFile, "/nested/file.bin")
	assert.Equal(t, wire.Found, recv(t, ch))
	assert.Equal(t, "contents", recv(t, ch))
	assert.Equal(t, wire.End, recv(t, ch))

	send(t, ch, wire.OpClose)
	_, err = ch.Receive(5 * time.Second)
	assert.Error(t, err, "server closes the connection after CLOSE")
}

func TestServerRejectsWrongCredentials(t *testing.T) {
	s := startServer(t, nil)

	for _, creds := range [][2]string{{"admin", "wrong"}, {"other", "secret"}} {
		ch := s.dial(t)
		err := handshake.Client(context.Background(), ch, creds[0], creds[1], testKeyBits)
		require.ErrorIs(t, err, handshake.ErrNotAuthorized)

		// The session is over: commands are never served.
		_ = ch.Send([]byte("FILE_EXISTS </x>"))
		_, err = ch.Receive(5 * time.Second)
		assert.Error(t, err)
	}
}

func TestServerAuthTimeout(t *testing.T) {
	s := startServer(t, func(c *Config) { c.AuthTimeout = time.Second })
	ch := s.dial(t)

	assert.Equal(t, wire.Hi, recv(t, ch))
	require.NoError(t, ch.Upgrade(testKeyBits))

	// No credentials: the server gives up and closes without a reply.
	_, err := ch.Receive(5 * time.Second)
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should close before the client deadline")
	}
}

func TestServerSilentClientReleasesWorker(t *testing.T) {
	s := startServer(t, func(c *Config) {
		c.WorkerCount = 1
		c.AuthTimeout = time.Second
	})

	// Take the only worker, read the greeting and never answer.
	silent := s.dial(t)
	assert.Equal(t, wire.Hi, recv(t, silent))

	done := make(chan error, 1)
	go func() {
		raw, err := net.Dial("tcp", s.addr)
		if err != nil {
			done <- err
			return
		}
		ch := channel.New(raw, channel.RoleClient, channel.Options{})
		defer ch.Close()
		done <- handshake.Client(context.Background(), ch, testIdentity.Username, testIdentity.Password, testKeyBits)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("second client still waiting: the silent client kept the only worker")
	}

	_, err := silent.Receive(time.Second)
	assert.Error(t, err, "silent client should have been disconnected")
}

func TestServerErrorDoesNotEndSession(t *testing.T) {
	s := startServer(t, nil)
	ch := s.login(t)

	send(t, ch, wire.OpGetFileSize, "/missing")
	reply := recv(t, ch)
	assert.True(t, wire.IsError(reply), reply)

	send(t, ch, wire.OpDirectoryExists, "/")
	assert.Equal(t, wire.Found, recv(t, ch))
	assert.Equal(t, wire.End, recv(t, ch))
}

func TestServerWorkerBound(t *testing.T) {
	s := startServer(t, func(c *Config) { c.WorkerCount = 1 })

	first := s.login(t)
	require.Eventually(t, func() bool { return s.adapter.GetActiveConnections() == 1 }, 5*time.Second, 10*time.Millisecond)

	// The second connection is accepted but not greeted while the only
	// worker is busy.
	second := s.dial(t)
	require.Eventually(t, func() bool { return s.adapter.GetPendingConnections() == 1 }, 5*time.Second, 10*time.Millisecond)
	_, err := second.Receive(300 * time.Millisecond)
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a read timeout, got %v", err)
	assert.EqualValues(t, 1, s.adapter.GetActiveConnections())

	send(t, first, wire.OpClose)

	assert.Equal(t, wire.Hi, recv(t, second))
	require.NoError(t, second.Upgrade(testKeyBits))
	send(t, second, wire.OpHi, testIdentity.Username, testIdentity.Password)
	assert.Equal(t, wire.OK, recv(t, second))
}

func TestServerStop(t *testing.T) {
	s := startServer(t, nil)
	ch := s.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.adapter.Stop(ctx))

	select {
	case err := <-s.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	// The idle session was interrupted and closed.
	_, err := ch.Receive(3 * time.Second)
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", s.addr, time.Second)
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Identity: testIdentity, KeySizeBits: 512}, nil)
	assert.ErrorIs(t, err, channel.ErrKeySize)

	_, err = New(Config{Identity: handshake.Identity{Username: "a<b", Password: "p"}}, nil)
	assert.ErrorIs(t, err, wire.ErrReservedCharacter)

	_, err = New(Config{Identity: testIdentity, Root: filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := NewWithStorage(Config{Identity: testIdentity}, NewStorageFs(nil), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, a.Port())
	assert.Equal(t, DefaultKeySizeBits, a.config.KeySizeBits)
	assert.Equal(t, DefaultAuthTimeout, a.config.AuthTimeout)
	assert.Equal(t, channel.DefaultMaxFrameSize, a.config.MaxFrameSize)
	assert.Positive(t, a.config.WorkerCount)
	assert.Equal(t, "RemoteIO", a.Protocol())
}

func TestMapError(t *testing.T) {
	a, err := NewWithStorage(Config{Identity: testIdentity}, NewStorageFs(nil), nil)
	require.NoError(t, err)

	opErr := &wire.OperationError{Command: wire.OpReadFile, Phase: wire.PhaseGetFile, Err: errors.New("boom")}
	mapped := a.MapError(opErr)
	require.NotNil(t, mapped)
	assert.Equal(t, "READ_FILE.GetFile", mapped.Code())
	assert.Equal(t, "boom", mapped.Message())

	assert.Nil(t, a.MapError(errors.New("other")))
}
