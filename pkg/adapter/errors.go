package adapter

// ProtocolError is an error that can be reported to a client on the wire.
//
// Code identifies where the failure happened in protocol terms (for RemoteIO
// "<COMMAND>.<Phase>", e.g. "READ_FILE.GetFile"), Message is the text sent to
// the client, and Unwrap exposes the underlying domain error for errors.Is.
type ProtocolError interface {
	error
	Code() string
	Message() string
	Unwrap() error
}
