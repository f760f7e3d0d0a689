package wire

import (
	"fmt"
	"strings"
)

// Phase names the step of a command that failed.
type Phase string

const (
	PhaseGetPath             Phase = "GetPath"
	PhaseGetFile             Phase = "GetFile"
	PhaseWriteFile           Phase = "WriteFile"
	PhaseCreateDirectory     Phase = "CreateDirectory"
	PhaseDeleteDirectory     Phase = "DeleteDirectory"
	PhaseDeleteFile          Phase = "DeleteFile"
	PhaseExists              Phase = "Exists"
	PhaseGetSearchPattern    Phase = "GetSearchPattern"
	PhaseGetCurrentOrWithSub Phase = "GetCurrentOrWithSub"
	PhaseGetList             Phase = "GetList"
	PhaseGetFileInfo         Phase = "GetFileInfo"
	PhaseGetCommand          Phase = "GetCommand"
)

// OperationError is a single command failure. It is sent to the peer as an
// error frame and never terminates the session.
type OperationError struct {
	Command Opcode
	Phase   Phase
	Err     error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Code(), e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Code returns the `COMMAND.Phase` tag carried by the error frame.
func (e *OperationError) Code() string {
	return e.Command.String() + "." + string(e.Phase)
}

// Message returns the diagnostic text.
func (e *OperationError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Frame renders the error as `ERROR <CMD.Phase> "text"` with inner quotes
// escaped.
func (e *OperationError) Frame() []byte {
	text := strings.ReplaceAll(e.Message(), `"`, `\"`)
	return []byte(fmt.Sprintf(`%s <%s> "%s"`, Error, e.Code(), text))
}

// ErrorFrame is a shorthand for building and rendering an OperationError.
func ErrorFrame(cmd Opcode, phase Phase, err error) []byte {
	return (&OperationError{Command: cmd, Phase: phase, Err: err}).Frame()
}

// IsError reports whether a server message is an error frame.
func IsError(text string) bool {
	return strings.HasPrefix(text, Error)
}

// ParseErrorTag extracts the command and phase from an error frame. ok is
// false when the text is not a well formed error frame.
func ParseErrorTag(text string) (command string, phase string, ok bool) {
	if !IsError(text) {
		return "", "", false
	}
	f, _ := Decode(text)
	tag, err := f.Arg(0)
	if err != nil {
		return "", "", false
	}
	command, phase, found := strings.Cut(tag, ".")
	if !found {
		return tag, "", true
	}
	return command, phase, true
}
