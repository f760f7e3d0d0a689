package remoteio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/remoteio/internal/logger"
	"github.com/marmos91/remoteio/internal/protocol/wire"
	"github.com/marmos91/remoteio/internal/telemetry"
	"github.com/marmos91/remoteio/pkg/metrics"
)

// transport is the part of *channel.Conn the command loop uses.
type transport interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// errClosed ends the command loop after CLOSE.
var errClosed = errors.New("session closed by client")

// dispatcher runs the authenticated command loop of one connection.
//
// Every command ends with exactly one terminal frame, END or an error frame,
// except CLOSE which gets no reply. A handler returns *wire.OperationError
// for a failed command; the error frame is sent and the loop continues. Any
// other error is a channel failure and ends the loop.
type dispatcher struct {
	ch      transport
	storage *Storage
	metrics metrics.RemoteIOMetrics
}

// serve processes commands until CLOSE (nil), a channel failure or ctx
// cancellation.
func (d *dispatcher) serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := d.ch.Receive(0)
		if err != nil {
			return fmt.Errorf("receive command: %w", err)
		}

		err = d.dispatch(ctx, string(msg))
		if errors.Is(err, errClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// dispatch handles one command frame.
func (d *dispatcher) dispatch(ctx context.Context, text string) error {
	frame, decodeErr := wire.Decode(text)
	op := frame.Opcode
	if op == wire.OpClose {
		logger.DebugCtx(ctx, "CLOSE received")
		return errClosed
	}

	lc := logger.FromContext(ctx)
	if lc != nil {
		ctx = logger.WithContext(ctx, lc.WithCommand(op.String()))
	}
	ctx, span := telemetry.StartCommandSpan(ctx, op.String())
	defer span.End()

	start := time.Now()
	err := d.handle(ctx, op, frame, decodeErr)
	elapsed := time.Since(start)

	var opErr *wire.OperationError
	switch {
	case err == nil:
		d.metrics.RecordCommand(op.String(), metrics.StatusOK, elapsed)
		logger.DebugCtx(ctx, "Command complete", logger.DurationMs(elapsed))
		return nil
	case errors.As(err, &opErr):
		d.metrics.RecordCommand(op.String(), metrics.StatusError, elapsed)
		span.RecordError(opErr.Err)
		span.SetStatus(codes.Error, opErr.Code())
		span.SetAttributes(telemetry.Phase(string(opErr.Phase)))
		logger.DebugCtx(ctx, "Command failed",
			logger.Phase(string(opErr.Phase)), logger.Err(opErr.Err), logger.DurationMs(elapsed))
		if sendErr := d.ch.Send(opErr.Frame()); sendErr != nil {
			return fmt.Errorf("send error frame: %w", sendErr)
		}
		return nil
	default:
		d.metrics.RecordCommand(op.String(), metrics.StatusError, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

func (d *dispatcher) handle(ctx context.Context, op wire.Opcode, frame wire.Frame, decodeErr error) error {
	switch op {
	case wire.OpReadFile:
		return d.readFile(ctx, frame)
	case wire.OpWriteFile:
		return d.writeFile(ctx, frame)
	case wire.OpDeleteFile:
		return d.deleteFile(ctx, frame)
	case wire.OpCreateDirectory:
		return d.createDirectory(ctx, frame)
	case wire.OpDeleteDirectory:
		return d.deleteDirectory(ctx, frame)
	case wire.OpFileExists:
		return d.fileExists(ctx, frame)
	case wire.OpDirectoryExists:
		return d.directoryExists(ctx, frame)
	case wire.OpGetFiles:
		return d.getFiles(ctx, frame)
	case wire.OpGetFileSize:
		return d.getFileSize(ctx, frame)
	case wire.OpHi, wire.OpUnknown, wire.OpClose:
		// HI is only valid during the handshake.
		err := errors.New("unknown command")
		if decodeErr != nil {
			err = decodeErr
		}
		return opError(wire.OpUnknown, wire.PhaseGetCommand, err)
	default:
		return opError(wire.OpUnknown, wire.PhaseGetCommand, fmt.Errorf("unhandled opcode %d", op))
	}
}

func opError(op wire.Opcode, phase wire.Phase, err error) *wire.OperationError {
	return &wire.OperationError{Command: op, Phase: phase, Err: err}
}

func (d *dispatcher) path(ctx context.Context, op wire.Opcode, frame wire.Frame) (string, error) {
	p, err := frame.Arg(0)
	if err != nil {
		return "", opError(op, wire.PhaseGetPath, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Path(p))
	return p, nil
}

func (d *dispatcher) end() error {
	return d.ch.Send([]byte(wire.End))
}

// sendFound answers an existence probe.
func (d *dispatcher) sendFound(found bool) error {
	reply := wire.NotFound
	if found {
		reply = wire.Found
	}
	if err := d.ch.Send([]byte(reply)); err != nil {
		return err
	}
	return d.end()
}

// READ_FILE <path> -> FOUND, <bytes>, END | NOT_FOUND, END
func (d *dispatcher) readFile(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpReadFile, frame)
	if err != nil {
		return err
	}

	data, found, err := d.storage.ReadFile(p)
	if err != nil {
		return opError(wire.OpReadFile, wire.PhaseGetFile, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Found(found))
	if !found {
		if err := d.ch.Send([]byte(wire.NotFound)); err != nil {
			return err
		}
		return d.end()
	}

	if err := d.ch.Send([]byte(wire.Found)); err != nil {
		return err
	}
	if err := d.ch.Send(data); err != nil {
		return err
	}
	d.metrics.RecordBytesTransferred(metrics.DirectionRead, len(data))
	telemetry.SetAttributes(ctx, telemetry.Size(int64(len(data))))
	logger.DebugCtx(ctx, "File read", logger.Path(p), logger.BytesRead(len(data)))
	return d.end()
}

// WRITE_FILE <path>, <bytes> -> END
//
// The payload is consumed before the path is checked so a malformed request
// leaves the stream aligned.
func (d *dispatcher) writeFile(ctx context.Context, frame wire.Frame) error {
	data, err := d.ch.Receive(0)
	if err != nil {
		return fmt.Errorf("receive file contents: %w", err)
	}

	p, err := d.path(ctx, wire.OpWriteFile, frame)
	if err != nil {
		return err
	}
	if err := d.storage.WriteFile(p, data); err != nil {
		return opError(wire.OpWriteFile, wire.PhaseWriteFile, err)
	}
	d.metrics.RecordBytesTransferred(metrics.DirectionWrite, len(data))
	telemetry.SetAttributes(ctx, telemetry.Size(int64(len(data))))
	logger.DebugCtx(ctx, "File written", logger.Path(p), logger.BytesWritten(len(data)))
	return d.end()
}

// DELETE_FILE <path> -> END
func (d *dispatcher) deleteFile(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpDeleteFile, frame)
	if err != nil {
		return err
	}
	if err := d.storage.DeleteFile(p); err != nil {
		return opError(wire.OpDeleteFile, wire.PhaseDeleteFile, err)
	}
	return d.end()
}

// CREATE_DIRECTORY <path> -> END
func (d *dispatcher) createDirectory(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpCreateDirectory, frame)
	if err != nil {
		return err
	}
	if err := d.storage.CreateDirectory(p); err != nil {
		return opError(wire.OpCreateDirectory, wire.PhaseCreateDirectory, err)
	}
	return d.end()
}

// DELETE_DIRECTORY <path> -> END
func (d *dispatcher) deleteDirectory(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpDeleteDirectory, frame)
	if err != nil {
		return err
	}
	if err := d.storage.DeleteDirectory(p); err != nil {
		return opError(wire.OpDeleteDirectory, wire.PhaseDeleteDirectory, err)
	}
	return d.end()
}

// FILE_EXISTS <path> -> FOUND | NOT_FOUND, END
func (d *dispatcher) fileExists(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpFileExists, frame)
	if err != nil {
		return err
	}
	found, err := d.storage.FileExists(p)
	if err != nil {
		return opError(wire.OpFileExists, wire.PhaseExists, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Found(found))
	return d.sendFound(found)
}

// DIRECTORY_EXISTS <path> -> FOUND | NOT_FOUND, END
func (d *dispatcher) directoryExists(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpDirectoryExists, frame)
	if err != nil {
		return err
	}
	found, err := d.storage.DirectoryExists(p)
	if err != nil {
		return opError(wire.OpDirectoryExists, wire.PhaseExists, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Found(found))
	return d.sendFound(found)
}

// GET_FILES <path> <pattern> <current|with_sub> -> <json array>, END
func (d *dispatcher) getFiles(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpGetFiles, frame)
	if err != nil {
		return err
	}
	pattern, err := frame.Arg(1)
	if err != nil {
		return opError(wire.OpGetFiles, wire.PhaseGetSearchPattern, err)
	}
	rawMode, err := frame.Arg(2)
	if err != nil {
		return opError(wire.OpGetFiles, wire.PhaseGetCurrentOrWithSub, err)
	}
	mode, ok := wire.ParseListMode(rawMode)
	if !ok {
		return opError(wire.OpGetFiles, wire.PhaseGetCurrentOrWithSub,
			fmt.Errorf("invalid list mode %q: want %q or %q", rawMode, wire.ModeCurrent, wire.ModeWithSub))
	}
	telemetry.SetAttributes(ctx, telemetry.Pattern(pattern), telemetry.ListMode(string(mode)))

	files, err := d.storage.ListFiles(p, pattern, mode == wire.ModeWithSub)
	if err != nil {
		return opError(wire.OpGetFiles, wire.PhaseGetList, err)
	}
	listing, err := json.Marshal(files)
	if err != nil {
		return opError(wire.OpGetFiles, wire.PhaseGetList, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Count(len(files)))
	logger.DebugCtx(ctx, "Files listed",
		logger.Path(p), logger.Pattern(pattern), logger.Mode(string(mode)), logger.Count(len(files)))

	if err := d.ch.Send(listing); err != nil {
		return err
	}
	return d.end()
}

// GET_FILE_SIZE <path> -> <decimal length>, END
func (d *dispatcher) getFileSize(ctx context.Context, frame wire.Frame) error {
	p, err := d.path(ctx, wire.OpGetFileSize, frame)
	if err != nil {
		return err
	}
	size, err := d.storage.FileSize(p)
	if err != nil {
		return opError(wire.OpGetFileSize, wire.PhaseGetFileInfo, err)
	}
	telemetry.SetAttributes(ctx, telemetry.Size(size))
	if err := d.ch.Send([]byte(strconv.FormatInt(size, 10))); err != nil {
		return err
	}
	return d.end()
}
