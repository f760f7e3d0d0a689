package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Name", "Type", "Size")
	assert.Equal(t, []string{"Name", "Type", "Size"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("a.txt", "file", "12")
	table.AddRow("docs", "dir", "-")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"a.txt", "file", "12"}, rows[0])
	assert.Equal(t, []string{"docs", "dir", "-"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Size")
	table.AddRow("a.txt", "12")
	table.AddRow("b.bin", "4096")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, table))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "SIZE")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "4096")
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KeyValues(&buf, [][2]string{
		{"Server", "localhost:9090"},
		{"Workers", "4"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Server")
	assert.Contains(t, out, "localhost:9090")
	assert.Contains(t, out, "Workers")
}
