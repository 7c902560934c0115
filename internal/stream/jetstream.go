package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultBatchLimit = 100

// messageSource is the part of jetstream.Stream the log reads through.
type messageSource interface {
	Info(ctx context.Context, opts ...jetstream.StreamInfoOpt) (*jetstream.StreamInfo, error)
	GetMsg(ctx context.Context, seq uint64, opts ...jetstream.GetMsgOpt) (*jetstream.RawStreamMsg, error)
}

// JetStreamLog reads a JetStream stream by sequence number. It keeps no
// consumer state on the server; the cursor is the next sequence to read.
// Fetch reads only the newest message of each window.
type JetStreamLog struct {
	src   messageSource
	limit int
}

// NewJetStreamLog binds to an existing stream on nc.
func NewJetStreamLog(ctx context.Context, nc *nats.Conn, streamName string, batchLimit int) (*JetStreamLog, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	s, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", streamName, err)
	}
	return newJetStreamLog(s, batchLimit), nil
}

func newJetStreamLog(src messageSource, batchLimit int) *JetStreamLog {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &JetStreamLog{src: src, limit: batchLimit}
}

func (l *JetStreamLog) LatestCursor(ctx context.Context) (Cursor, error) {
	info, err := l.src.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream info: %w", err)
	}
	return Cursor(info.State.LastSeq + 1), nil
}

func (l *JetStreamLog) Fetch(ctx context.Context, c Cursor) (Batch, error) {
	info, err := l.src.Info(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("stream info: %w", err)
	}
	from, to, err := fetchWindow(uint64(c), info.State.FirstSeq, info.State.LastSeq, l.limit)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{Next: c}
	if to < from {
		return batch, nil
	}
	batch.Next = Cursor(to + 1)
	// Only the newest payload is of use; walk back past deleted sequences.
	for seq := to; seq >= from; seq-- {
		msg, err := l.src.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return Batch{}, fmt.Errorf("get msg %d: %w", seq, err)
		}
		batch.Records = []Record{{Sequence: msg.Sequence, Data: msg.Data}}
		batch.Skipped = int(seq - from)
		break
	}
	return batch, nil
}

// fetchWindow returns the inclusive sequence range to read for cursor next,
// given the retained range [first, last]. An empty window has to < from.
// A cursor past last+1 means the stream was recreated and is also expired.
func fetchWindow(next, first, last uint64, limit int) (from, to uint64, err error) {
	if next == 0 || next < first || next > last+1 {
		return 0, 0, ErrCursorExpired
	}
	if next > last {
		return next, next - 1, nil
	}
	to = next + uint64(limit) - 1
	if to > last {
		to = last
	}
	return next, to, nil
}
