package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReservedCharacter is returned when an argument contains '<' or '>'.
	ErrReservedCharacter = errors.New("argument contains reserved character '<' or '>'")

	// ErrMalformedFrame is returned when a bracketed argument is missing or unterminated.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is one opcode plus its ordered arguments.
type Frame struct {
	Opcode Opcode
	Args   []string
}

// NewFrame builds a frame, rejecting arguments that would break the grammar.
func NewFrame(op Opcode, args ...string) (Frame, error) {
	for _, a := range args {
		if err := ValidateArg(a); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Opcode: op, Args: args}, nil
}

// ValidateArg reports whether s can be carried as a bracketed argument.
func ValidateArg(s string) error {
	if strings.ContainsAny(s, "<>") {
		return ErrReservedCharacter
	}
	return nil
}

// Encode renders the frame as `OPCODE <a> <b>`.
func Encode(f Frame) []byte {
	var b strings.Builder
	b.WriteString(f.Opcode.String())
	for _, a := range f.Args {
		b.WriteString(" <")
		b.WriteString(a)
		b.WriteByte('>')
	}
	return []byte(b.String())
}

// Decode parses a text frame. Arguments are recovered positionally by
// splitting on '<' and then on '>'. When a group is unterminated, Decode
// returns the arguments parsed so far together with ErrMalformedFrame, so
// callers can still report which argument was missing.
func Decode(text string) (Frame, error) {
	f := Frame{Opcode: ParseOpcode(text)}

	parts := strings.Split(text, "<")
	for _, part := range parts[1:] {
		end := strings.IndexByte(part, '>')
		if end < 0 {
			return f, fmt.Errorf("%w: unterminated argument %d", ErrMalformedFrame, len(f.Args))
		}
		f.Args = append(f.Args, part[:end])
	}
	return f, nil
}

// Arg returns the i-th argument or ErrMalformedFrame when it is absent.
func (f Frame) Arg(i int) (string, error) {
	if i < 0 || i >= len(f.Args) {
		return "", fmt.Errorf("%w: %s expects argument %d", ErrMalformedFrame, f.Opcode, i)
	}
	return f.Args[i], nil
}
