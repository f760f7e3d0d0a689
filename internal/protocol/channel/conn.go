// Package channel provides the secure duplex transport used by RemoteIO.
//
// Messages are framed with a 4-byte big-endian length header. After Upgrade
// every payload is sealed with ChaCha20-Poly1305 using per-direction keys
// negotiated by an RSA + ML-KEM-768 hybrid exchange (see upgrade.go).
package channel

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/remoteio/internal/bytesize"
	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultMaxFrameSize bounds a single message. File contents travel as one
// message, so this is also the largest transferable file.
const DefaultMaxFrameSize = 64 * bytesize.MiB

const frameHeaderSize = 4

var (
	// ErrFrameTooLarge is returned when a peer announces a message above the limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrAlreadyUpgraded is returned by a second call to Upgrade.
	ErrAlreadyUpgraded = errors.New("channel already upgraded")

	// ErrDecrypt is returned when a sealed message fails authentication.
	ErrDecrypt = errors.New("message authentication failed")
)

// Role selects which side of the key exchange a Conn plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Options tunes a Conn.
type Options struct {
	// MaxFrameSize is the largest message accepted or sent. 0 means DefaultMaxFrameSize.
	MaxFrameSize bytesize.ByteSize
}

// Conn is a length-framed duplex channel over a net.Conn.
//
// Send and Receive may be used concurrently with each other, but each is
// serialized against itself.
type Conn struct {
	raw      net.Conn
	role     Role
	maxFrame uint32

	sendMu sync.Mutex
	send   *sealer

	recvMu sync.Mutex
	recv   *sealer
}

// sealer holds one direction's AEAD and its nonce counter.
type sealer struct {
	aead    cipher.AEAD
	counter uint64
}

func newSealer(key []byte) (*sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) nextNonce() []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], s.counter)
	s.counter++
	return nonce
}

// New wraps raw as a plaintext channel. Call Upgrade to encrypt it.
func New(raw net.Conn, role Role, opts Options) *Conn {
	maxFrame := opts.MaxFrameSize
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Conn{
		raw:      raw,
		role:     role,
		maxFrame: uint32(min(maxFrame.Uint64(), uint64(^uint32(0)))),
	}
}

// Send writes one message.
func (c *Conn) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	payload := data
	if c.send != nil {
		payload = c.send.aead.Seal(nil, c.send.nextNonce(), data, nil)
	}
	return c.writeFrame(payload)
}

// SendString writes a text message.
func (c *Conn) SendString(s string) error {
	return c.Send([]byte(s))
}

// Receive reads one message. A positive timeout bounds the wait; zero blocks
// until a message arrives or the connection fails.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() { _ = c.raw.SetReadDeadline(time.Time{}) }()
	}

	payload, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	if c.recv == nil {
		return payload, nil
	}

	plain, err := c.recv.aead.Open(payload[:0], c.recv.nextNonce(), payload, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// ReceiveString reads a text message.
func (c *Conn) ReceiveString(timeout time.Duration) (string, error) {
	b, err := c.Receive(timeout)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Upgraded reports whether the channel is encrypted.
func (c *Conn) Upgraded() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send != nil
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

func (c *Conn) writeFrame(payload []byte) error {
	if uint64(len(payload)) > uint64(c.maxFrame) {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), c.maxFrame)
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	// net.Buffers issues a single writev where supported.
	bufs := net.Buffers{header[:], payload}
	if _, err := bufs.WriteTo(c.raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Conn) readFrame() ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(c.raw, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > c.maxFrame {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, c.maxFrame)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.raw, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
