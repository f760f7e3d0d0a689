// Package bytesize parses and prints human-readable byte quantities such as
// "64Mi" or "10MB" used by the configuration file.
package bytesize

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes.
//
// Accepted inputs:
//   - plain numbers: 1024
//   - binary units (x1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - decimal units (x1000): K/KB, M/MB, G/GB, T/TB
//   - bytes: B
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// ErrOverflow is returned when a value does not fit in 64 bits.
var ErrOverflow = errors.New("byte size overflows uint64")

var pattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// binarySuffixes is ordered largest first for MarshalText.
var binarySuffixes = []struct {
	unit   ByteSize
	suffix string
}{
	{TiB, "Ti"},
	{GiB, "Gi"},
	{MiB, "Mi"},
	{KiB, "Ki"},
}

// Parse converts a human-readable size.
func Parse(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, errors.New("empty byte size")
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	unit, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", m[1], err)
		}
		v := f * float64(unit)
		if v >= math.MaxUint64 {
			return 0, ErrOverflow
		}
		return ByteSize(v), nil
	}

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", m[1], err)
	}
	hi, lo := bits.Mul64(n, uint64(unit))
	if hi != 0 {
		return 0, ErrOverflow
	}
	return ByteSize(lo), nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) ByteSize {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalText lets ByteSize be decoded by mapstructure, yaml and json.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText emits the shortest exact form: "64Mi" rather than "67108864".
func (b ByteSize) MarshalText() ([]byte, error) {
	for _, s := range binarySuffixes {
		if b >= s.unit && b%s.unit == 0 {
			return []byte(strconv.FormatUint(uint64(b/s.unit), 10) + s.suffix), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(b), 10)), nil
}

// String is an approximate, human-oriented rendering.
func (b ByteSize) String() string {
	for _, s := range binarySuffixes {
		if b >= s.unit {
			return fmt.Sprintf("%.2f%sB", float64(b)/float64(s.unit), s.suffix)
		}
	}
	return fmt.Sprintf("%dB", uint64(b))
}

func (b ByteSize) Uint64() uint64 { return uint64(b) }

// Int64 converts, saturating at math.MaxInt64.
func (b ByteSize) Int64() int64 {
	if b > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}
