package client

import (
	"errors"
	"fmt"

	"github.com/marmos91/remoteio/internal/protocol/wire"
)

var (
	// ErrProtocolViolation is returned when the server sends something the
	// protocol does not allow at that point. The session cannot be used
	// afterwards.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotAuthorized matches every *AuthError.
	ErrNotAuthorized = errors.New(wire.NotAuthorized)

	// ErrSessionClosed is returned by calls on a session that was closed or
	// broken by an earlier transport or protocol failure.
	ErrSessionClosed = errors.New("session is closed")

	// ErrNotStarted is returned by calls made before Start succeeded.
	ErrNotStarted = errors.New("session not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")
)

// ValidationError is a bad argument rejected before anything is sent.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AuthError reports rejected credentials.
type AuthError struct {
	Username string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s - Not authorized! (user %q)", wire.NotAuthorized, e.Username)
}

func (e *AuthError) Unwrap() error {
	return ErrNotAuthorized
}

// OperationError is a command the server refused. The session stays usable.
type OperationError struct {
	// Text is the raw error frame as sent by the server.
	Text string

	// Command and Phase are parsed from the frame's tag, e.g. "READ_FILE"
	// and "GetFile". They are empty when the tag is malformed.
	Command string
	Phase   string
}

func newOperationError(text string) *OperationError {
	cmd, phase, _ := wire.ParseErrorTag(text)
	return &OperationError{Text: text, Command: cmd, Phase: phase}
}

func (e *OperationError) Error() string {
	return e.Text
}

// TransportError wraps an I/O failure. The session cannot be used
// afterwards.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err leaves the session unusable.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrSessionClosed)
}
