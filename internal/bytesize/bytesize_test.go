package bytesize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1024B", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"64Mi", 64 * MiB},
		{"64mib", 64 * MiB},
		{"1Gi", GiB},
		{"2Ti", 2 * TiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"1g", GB},
		{"1TB", TB},
		{"  1 Gi  ", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"0.5Gi", GiB / 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "-1Mi", "1XB", "1.2.3", "Gi"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestParseOverflow(t *testing.T) {
	_, err := Parse("99999999999Ti")
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Parse("99999999999.5Ti")
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMustParsePanics(t *testing.T) {
	assert.Equal(t, 8*KiB, MustParse("8Ki"))
	assert.Panics(t, func() { MustParse("nope") })
}

func TestMarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{100, "100"},
		{KiB, "1Ki"},
		{1536, "1536"},
		{64 * MiB, "64Mi"},
		{3 * GiB, "3Gi"},
		{TiB, "1Ti"},
		{1000, "1000"},
	}
	for _, tt := range tests {
		got, err := tt.in.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestTextRoundTripThroughEncoders(t *testing.T) {
	type limits struct {
		MaxFrame ByteSize `json:"max_frame" yaml:"max_frame"`
	}

	out, err := yaml.Marshal(limits{MaxFrame: 64 * MiB})
	require.NoError(t, err)
	assert.Equal(t, "max_frame: 64Mi\n", string(out))

	var fromYAML limits
	require.NoError(t, yaml.Unmarshal([]byte("max_frame: 1Gi\n"), &fromYAML))
	assert.Equal(t, GiB, fromYAML.MaxFrame)

	var fromJSON limits
	require.NoError(t, json.Unmarshal([]byte(`{"max_frame":"512Ki"}`), &fromJSON))
	assert.Equal(t, 512*KiB, fromJSON.MaxFrame)
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.50KiB", ByteSize(1536).String())
	assert.Equal(t, "64.00MiB", (64 * MiB).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}

func TestInt64Saturates(t *testing.T) {
	assert.Equal(t, int64(1024), KiB.Int64())
	assert.Equal(t, int64(math.MaxInt64), ByteSize(math.MaxUint64).Int64())
	assert.Equal(t, uint64(1024), KiB.Uint64())
}
