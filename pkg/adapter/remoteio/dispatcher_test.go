package remoteio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remoteio/internal/protocol/wire"
	"github.com/marmos91/remoteio/pkg/metrics"
)

// scriptedTransport replays queued client messages and records replies.
type scriptedTransport struct {
	inbound [][]byte
	sent    []string
	sendErr error
}

func (s *scriptedTransport) Send(data []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(data))
	return nil
}

func (s *scriptedTransport) Receive(time.Duration) ([]byte, error) {
	if len(s.inbound) == 0 {
		return nil, io.EOF
	}
	msg := s.inbound[0]
	s.inbound = s.inbound[1:]
	return msg, nil
}

func newTestDispatcher(t *testing.T, msgs ...string) (*dispatcher, *scriptedTransport) {
	t.Helper()
	tr := &scriptedTransport{}
	for _, m := range msgs {
		tr.inbound = append(tr.inbound, []byte(m))
	}
	return &dispatcher{
		ch:      tr,
		storage: NewStorageFs(afero.NewMemMapFs()),
		metrics: metrics.NewNoopRemoteIOMetrics(),
	}, tr
}

// run serves until CLOSE and returns the replies.
func run(t *testing.T, d *dispatcher, tr *scriptedTransport) []string {
	t.Helper()
	require.NoError(t, d.serve(context.Background()))
	return tr.sent
}

func TestDispatchCloseSendsNothing(t *testing.T) {
	d, tr := newTestDispatcher(t, "CLOSE")
	assert.Empty(t, run(t, d, tr))
}

func TestDispatchReceiveFailureEndsLoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	err := d.serve(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestDispatchCancelledContext(t *testing.T) {
	d, _ := newTestDispatcher(t, "CLOSE")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.serve(ctx), context.Canceled)
}

func TestDispatchWriteThenRead(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"CREATE_DIRECTORY </dir>",
		"FILE_EXISTS </dir/f>",
		"WRITE_FILE </dir/f>", "payload",
		"FILE_EXISTS </dir/f>",
		"READ_FILE </dir/f>",
		"GET_FILE_SIZE </dir/f>",
		"CLOSE",
	)

	assert.Equal(t, []string{
		"END",
		"NOT_FOUND", "END",
		"END",
		"FOUND", "END",
		"FOUND", "payload", "END",
		"7", "END",
	}, run(t, d, tr))
}

func TestDispatchReadMissing(t *testing.T) {
	d, tr := newTestDispatcher(t, "READ_FILE </missing>", "CLOSE")
	assert.Equal(t, []string{"NOT_FOUND", "END"}, run(t, d, tr))
}

func TestDispatchDirectoryCommands(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"DIRECTORY_EXISTS </d>",
		"CREATE_DIRECTORY </d/s>",
		"CREATE_DIRECTORY </d/s>",
		"DIRECTORY_EXISTS </d/s>",
		"DELETE_DIRECTORY </d>",
		"DELETE_DIRECTORY </d>",
		"DIRECTORY_EXISTS </d/s>",
		"DELETE_FILE </missing>",
		"CLOSE",
	)

	assert.Equal(t, []string{
		"NOT_FOUND", "END",
		"END",
		"END",
		"FOUND", "END",
		"END",
		"END",
		"NOT_FOUND", "END",
		"END",
	}, run(t, d, tr))
}

func TestDispatchGetFiles(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"CREATE_DIRECTORY </D/S>",
		"WRITE_FILE </D/a>", "a",
		"WRITE_FILE </D/S/b>", "b",
		"GET_FILES </D> <> <with_sub>",
		"GET_FILES </D> <> <CURRENT>",
		"GET_FILES </missing> <*> <current>",
		"CLOSE",
	)
	sent := run(t, d, tr)
	require.Len(t, sent, 9)

	var all, current, missing []string
	require.NoError(t, json.Unmarshal([]byte(sent[3]), &all))
	assert.Equal(t, "END", sent[4])
	require.NoError(t, json.Unmarshal([]byte(sent[5]), &current))
	require.NoError(t, json.Unmarshal([]byte(sent[7]), &missing))

	assert.ElementsMatch(t, []string{"a", "S/b"}, all)
	assert.Equal(t, []string{"a"}, current)
	assert.Equal(t, "[]", sent[7])
	assert.Empty(t, missing)
}

func TestDispatchErrorFrames(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []string
		wantTag string
	}{
		{"read without path", []string{"READ_FILE"}, "READ_FILE.GetPath"},
		{"unterminated path", []string{"DELETE_FILE </x"}, "DELETE_FILE.GetPath"},
		{"write without path", []string{"WRITE_FILE", "data"}, "WRITE_FILE.GetPath"},
		{"write to missing dir", []string{"WRITE_FILE </no/such/dir/f>", "data"}, "WRITE_FILE.WriteFile"},
		{"size of missing file", []string{"GET_FILE_SIZE </none>"}, "GET_FILE_SIZE.GetFileInfo"},
		{"size of directory", []string{"CREATE_DIRECTORY </d>", "GET_FILE_SIZE </d>"}, "GET_FILE_SIZE.GetFileInfo"},
		{"files without pattern", []string{"GET_FILES </d>"}, "GET_FILES.GetSearchPattern"},
		{"files without mode", []string{"GET_FILES </d> <*>"}, "GET_FILES.GetCurrentOrWithSub"},
		{"files bad mode", []string{"GET_FILES </d> <*> <deep>"}, "GET_FILES.GetCurrentOrWithSub"},
		{"files bad pattern", []string{"GET_FILES </d> <[> <current>"}, "GET_FILES.GetList"},
		{"unknown command", []string{"RENAME </a> </b>"}, "UNKNOWN.GetCommand"},
		{"handshake greeting", []string{"HI <u> <p>"}, "UNKNOWN.GetCommand"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := append(tt.msgs, "CLOSE")
			d, tr := newTestDispatcher(t, msgs...)
			// The host filesystem refuses writes below a missing directory.
			storage, err := NewStorage(t.TempDir())
			require.NoError(t, err)
			d.storage = storage

			sent := run(t, d, tr)
			require.NotEmpty(t, sent)

			last := sent[len(sent)-1]
			require.True(t, wire.IsError(last), "last reply %q", last)
			assert.True(t, strings.HasPrefix(last, "ERROR <"+tt.wantTag+"> \""), last)
		})
	}
}

func TestDispatchWriteFileConsumesPayloadOnPathError(t *testing.T) {
	// Path error on WRITE_FILE must not treat the payload as the next command.
	d, tr := newTestDispatcher(t, "WRITE_FILE", "FILE_EXISTS </x>", "DIRECTORY_EXISTS </>", "CLOSE")
	sent := run(t, d, tr)

	require.Len(t, sent, 3)
	assert.True(t, strings.HasPrefix(sent[0], "ERROR <WRITE_FILE.GetPath>"))
	assert.Equal(t, []string{"FOUND", "END"}, sent[1:])
}

func TestDispatchErrorContainment(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"GET_FILE_SIZE </none>",
		"WRITE_FILE </ok>", "x",
		"GET_FILE_SIZE </ok>",
		"CLOSE",
	)
	sent := run(t, d, tr)

	require.Len(t, sent, 4)
	assert.True(t, wire.IsError(sent[0]))
	assert.Equal(t, []string{"END", "1", "END"}, sent[1:])
}

func TestDispatchBadModeText(t *testing.T) {
	d, tr := newTestDispatcher(t, "GET_FILES </> <> <deep>", "CLOSE")
	sent := run(t, d, tr)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], `<GET_FILES.GetCurrentOrWithSub>`)
	assert.Contains(t, sent[0], `invalid list mode \"deep\": want \"current\" or \"with_sub\"`)
}

// statFailFs fails every Stat, as an unreadable parent directory would.
type statFailFs struct {
	afero.Fs
}

func (f statFailFs) Stat(name string) (fs.FileInfo, error) {
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrPermission}
}

func TestDispatchExistsStorageFailure(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"FILE_EXISTS </x>",
		"DIRECTORY_EXISTS </x>",
		"FILE_EXISTS",
		"CLOSE",
	)
	d.storage = NewStorageFs(statFailFs{Fs: afero.NewMemMapFs()})
	sent := run(t, d, tr)

	require.Len(t, sent, 3)
	assert.True(t, strings.HasPrefix(sent[0], "ERROR <FILE_EXISTS.Exists>"), sent[0])
	assert.True(t, strings.HasPrefix(sent[1], "ERROR <DIRECTORY_EXISTS.Exists>"), sent[1])
	// A malformed request keeps the argument phase.
	assert.True(t, strings.HasPrefix(sent[2], "ERROR <FILE_EXISTS.GetPath>"), sent[2])
}

func TestDispatchSendFailureAborts(t *testing.T) {
	d, tr := newTestDispatcher(t, "READ_FILE </x>", "CLOSE")
	tr.sendErr = errors.New("broken pipe")

	err := d.serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Len(t, tr.inbound, 1, "loop stops before the next command")
}

type countingMetrics struct {
	metrics.RemoteIOMetrics
	commands map[string]int
	bytes    map[string]int
}

func (c *countingMetrics) RecordCommand(command, status string, _ time.Duration) {
	c.commands[command+"/"+status]++
}

func (c *countingMetrics) RecordBytesTransferred(direction string, n int) {
	c.bytes[direction] += n
}

func TestDispatchRecordsMetrics(t *testing.T) {
	d, tr := newTestDispatcher(t,
		"WRITE_FILE </f>", "abc",
		"READ_FILE </f>",
		"GET_FILE_SIZE </none>",
		"CLOSE",
	)
	m := &countingMetrics{
		RemoteIOMetrics: metrics.NewNoopRemoteIOMetrics(),
		commands:        map[string]int{},
		bytes:           map[string]int{},
	}
	d.metrics = m
	run(t, d, tr)

	assert.Equal(t, 1, m.commands["WRITE_FILE/ok"])
	assert.Equal(t, 1, m.commands["READ_FILE/ok"])
	assert.Equal(t, 1, m.commands["GET_FILE_SIZE/error"])
	assert.Equal(t, 3, m.bytes[metrics.DirectionWrite])
	assert.Equal(t, 3, m.bytes[metrics.DirectionRead])
}
