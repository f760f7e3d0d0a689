// Package handshake drives the RemoteIO greeting and credential exchange.
//
//	SERVER: HI
//	        <key upgrade>
//	CLIENT: HI <username> <password>
//	SERVER: OK | NOT_AUTHORIZED
//
// Both sides run the same sequence; Server and Client are its two halves.
package handshake

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/remoteio/internal/protocol/channel"
	"github.com/marmos91/remoteio/internal/protocol/wire"
)

var (
	// ErrNotAuthorized is returned when the credentials do not match.
	ErrNotAuthorized = errors.New(wire.NotAuthorized)

	// ErrProtocolViolation is returned when the peer sends content that does
	// not fit the handshake.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Identity is the single username/password pair a server accepts.
type Identity struct {
	Username string
	Password string
}

// Matches compares a credential pair against the identity byte for byte.
func (id Identity) Matches(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(id.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(id.Password), []byte(password)) == 1
	return userOK && passOK
}

// Transport is the subset of *channel.Conn the handshake needs.
type Transport interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	UpgradeTimeout(keyBits int, timeout time.Duration) error
}

var _ Transport = (*channel.Conn)(nil)

// Server runs the server half. It returns the username on success.
//
// authTimeout bounds every wait for the client after the greeting, through
// the key upgrade and the credentials frame. Zero waits indefinitely. On
// ErrNotAuthorized
// the NOT_AUTHORIZED literal has already been sent; the caller closes the
// connection in every error case.
func Server(ctx context.Context, conn Transport, id Identity, keyBits int, authTimeout time.Duration) (string, error) {
	if err := conn.Send([]byte(wire.Hi)); err != nil {
		return "", fmt.Errorf("send greeting: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := conn.UpgradeTimeout(keyBits, authTimeout); err != nil {
		return "", fmt.Errorf("key upgrade: %w", err)
	}

	msg, err := conn.Receive(authTimeout)
	if err != nil {
		return "", fmt.Errorf("receive credentials: %w", err)
	}

	frame, err := wire.Decode(string(msg))
	if err != nil || frame.Opcode != wire.OpHi {
		return "", fmt.Errorf("%w: expected credentials", ErrProtocolViolation)
	}
	username, err := frame.Arg(0)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	password, err := frame.Arg(1)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	if !id.Matches(username, password) {
		if err := conn.Send([]byte(wire.NotAuthorized)); err != nil {
			return username, fmt.Errorf("send rejection: %w", err)
		}
		return username, ErrNotAuthorized
	}

	if err := conn.Send([]byte(wire.OK)); err != nil {
		return username, fmt.Errorf("send acceptance: %w", err)
	}
	return username, nil
}

// Client runs the client half.
func Client(ctx context.Context, conn Transport, username, password string, keyBits int) error {
	frame, err := wire.NewFrame(wire.OpHi, username, password)
	if err != nil {
		return err
	}

	greeting, err := conn.Receive(0)
	if err != nil {
		return fmt.Errorf("receive greeting: %w", err)
	}
	if string(greeting) != wire.Hi {
		return fmt.Errorf("%w: unexpected greeting %q", ErrProtocolViolation, truncate(greeting))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := conn.UpgradeTimeout(keyBits, 0); err != nil {
		return fmt.Errorf("key upgrade: %w", err)
	}
	if err := conn.Send(wire.Encode(frame)); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}

	reply, err := conn.Receive(0)
	if err != nil {
		return fmt.Errorf("receive auth reply: %w", err)
	}
	switch string(reply) {
	case wire.OK:
		return nil
	case wire.NotAuthorized:
		return ErrNotAuthorized
	default:
		return fmt.Errorf("%w: unexpected auth reply %q", ErrProtocolViolation, truncate(reply))
	}
}

func truncate(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
