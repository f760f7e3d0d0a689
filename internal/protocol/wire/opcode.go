// Package wire implements the RemoteIO text frame grammar.
//
// A frame is an opcode literal followed by zero or more bracketed arguments:
//
//	OPCODE <arg1> <arg2> ...
//
// Frames travel as single messages on a length-framed channel (see package
// channel). Binary payloads such as file contents are never inlined; they are
// sent as a separate message right after the frame that announces them.
//
// The grammar has no escaping. An argument cannot contain '<' or '>' and
// NewFrame rejects such values.
package wire

import "strings"

// Opcode identifies a client command.
type Opcode int

const (
	OpUnknown Opcode = iota
	OpHi
	OpReadFile
	OpWriteFile
	OpDeleteFile
	OpCreateDirectory
	OpDeleteDirectory
	OpFileExists
	OpDirectoryExists
	OpGetFiles
	OpGetFileSize
	OpClose
)

// Server to client literals.
const (
	Hi            = "HI"
	NotAuthorized = "NOT_AUTHORIZED"
	OK            = "OK"
	NotFound      = "NOT_FOUND"
	Found         = "FOUND"
	End           = "END"
	Error         = "ERROR"
)

var opcodeNames = map[Opcode]string{
	OpUnknown:         "UNKNOWN",
	OpHi:              "HI",
	OpReadFile:        "READ_FILE",
	OpWriteFile:       "WRITE_FILE",
	OpDeleteFile:      "DELETE_FILE",
	OpCreateDirectory: "CREATE_DIRECTORY",
	OpDeleteDirectory: "DELETE_DIRECTORY",
	OpFileExists:      "FILE_EXISTS",
	OpDirectoryExists: "DIRECTORY_EXISTS",
	OpGetFiles:        "GET_FILES",
	OpGetFileSize:     "GET_FILE_SIZE",
	OpClose:           "CLOSE",
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		if op != OpUnknown {
			m[name] = op
		}
	}
	return m
}()

// String returns the wire literal of the opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return opcodeNames[OpUnknown]
}

// ParseOpcode decodes the leading literal of a frame. It returns OpUnknown
// when the text does not start with a known command.
func ParseOpcode(text string) Opcode {
	token := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		token = text[:i]
	}
	if op, ok := opcodeByName[token]; ok {
		return op
	}
	return OpUnknown
}

// ListMode selects the GET_FILES enumeration depth.
type ListMode string

const (
	// ModeCurrent lists the immediate children of the root.
	ModeCurrent ListMode = "current"
	// ModeWithSub lists the whole subtree.
	ModeWithSub ListMode = "with_sub"
)

// ParseListMode parses a mode argument case-insensitively.
func ParseListMode(s string) (ListMode, bool) {
	switch ListMode(strings.ToLower(s)) {
	case ModeCurrent:
		return ModeCurrent, true
	case ModeWithSub:
		return ModeWithSub, true
	default:
		return "", false
	}
}
