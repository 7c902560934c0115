// Package stream reads vehicle-position payloads from an append-only log.
package stream

import (
	"context"
	"errors"
	"fmt"
)

// Cursor is a read position in a Log. Only the Log that issued it can
// interpret it.
type Cursor uint64

type Record struct {
	Sequence uint64
	Data     []byte
}

// Batch is the result of one Fetch. Next is the cursor for the following
// call. Skipped counts positions between the cursor and the first returned
// record that the log passed over without reading.
type Batch struct {
	Records []Record
	Skipped int
	Next    Cursor
}

// Log is an append-only sequence of opaque records.
type Log interface {
	// LatestCursor returns a cursor positioned after the newest record.
	LatestCursor(ctx context.Context) (Cursor, error)
	// Fetch returns records at and after c, oldest first. A log may return
	// only the newest record of its window and report the rest as Skipped.
	// It fails with ErrCursorExpired when c points at data the log no longer
	// retains.
	Fetch(ctx context.Context, c Cursor) (Batch, error)
}

var ErrCursorExpired = errors.New("stream: cursor expired")

// DecodeError reports a record whose payload is not a readable feed.
type DecodeError struct {
	Sequence uint64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record %d: %v", e.Sequence, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FaultKind names the class of a stream error for logs and metrics.
func FaultKind(err error) string {
	var de *DecodeError
	switch {
	case errors.Is(err, ErrCursorExpired):
		return "expired"
	case errors.As(err, &de):
		return "decode"
	default:
		return "fetch"
	}
}
