// Package consumer tails the position log and keeps the snapshot current.
//
// The consumer is a small state machine. Without a cursor it asks the log
// for the latest position; with one it fetches the next batch, decodes only
// the newest record and replaces the snapshot. Any stream fault drops the
// cursor, so records written while it is being reacquired are skipped.
package consumer

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gtfs-reconciler/internal/gtfs"
	"gtfs-reconciler/internal/snapshot"
	"gtfs-reconciler/internal/stream"
)

type State int

const (
	NeedCursor State = iota
	Polling
	Processing
)

func (s State) String() string {
	switch s {
	case NeedCursor:
		return "NEED_CURSOR"
	case Polling:
		return "POLLING"
	case Processing:
		return "PROCESSING"
	}
	return "UNKNOWN"
}

const (
	DefaultPollInterval = time.Second
	DefaultFaultBackoff = 5 * time.Second
)

type Reconciler interface {
	ReconcileAll(reports []gtfs.PositionReport, now time.Time) []gtfs.VehicleRecord
}

// SnapshotSink receives every snapshot after it has been stored.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap *snapshot.Snapshot) error
}

type Metrics interface {
	PollOutcome(outcome string)
	StreamFault(kind string)
	RecordsAdd(n int)
	StepObserve(d time.Duration)
	ReconcileObserve(d time.Duration)
	Polled(at time.Time)
	SnapshotReplaced(generatedAt time.Time, vehicles []gtfs.VehicleRecord)
}

type Options struct {
	PollInterval time.Duration
	FaultBackoff time.Duration
	// Decode turns a record payload into reports. Defaults to stream.DecodeFeed.
	Decode  func([]byte) ([]gtfs.PositionReport, error)
	Now     func() time.Time
	Metrics Metrics
	Sinks   []SnapshotSink
}

type Consumer struct {
	log   stream.Log
	rec   Reconciler
	store *snapshot.Store
	opts  Options

	tracer trace.Tracer

	// loop state, owned by the goroutine calling Step
	state  State
	cursor stream.Cursor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(l stream.Log, rec Reconciler, store *snapshot.Store, opts Options) *Consumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.FaultBackoff <= 0 {
		opts.FaultBackoff = DefaultFaultBackoff
	}
	if opts.Decode == nil {
		opts.Decode = stream.DecodeFeed
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Consumer{
		log:    l,
		rec:    rec,
		store:  store,
		opts:   opts,
		tracer: otel.Tracer("gtfs-reconciler/consumer"),
		state:  NeedCursor,
	}
}

// State reports the current state. It is only meaningful between Steps.
func (c *Consumer) State() State { return c.state }

// Step runs one iteration and returns how long to wait before the next.
func (c *Consumer) Step(ctx context.Context) time.Duration {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "consumer.step", trace.WithAttributes(
		attribute.String("consumer.state", c.state.String()),
	))
	defer func() {
		polled := c.opts.Now()
		c.store.Touch(polled)
		if m := c.opts.Metrics; m != nil {
			m.Polled(polled)
			m.StepObserve(time.Since(start))
		}
		span.End()
	}()

	if c.state == NeedCursor {
		cur, err := c.log.LatestCursor(ctx)
		if err != nil {
			return c.fault(ctx, span, err)
		}
		c.cursor = cur
		c.state = Polling
		span.SetAttributes(attribute.Int64("stream.cursor", int64(cur)))
		log.Printf("consumer cursor acquired at %d", cur)
		return 0
	}

	batch, err := c.log.Fetch(ctx, c.cursor)
	if err != nil {
		return c.fault(ctx, span, err)
	}
	c.cursor = batch.Next
	span.SetAttributes(attribute.Int("stream.records", len(batch.Records)))
	if len(batch.Records) == 0 {
		c.outcome("empty")
		return c.opts.PollInterval
	}
	if m := c.opts.Metrics; m != nil {
		m.RecordsAdd(len(batch.Records) + batch.Skipped)
	}

	c.state = Processing
	if err := c.process(ctx, batch.Records[len(batch.Records)-1]); err != nil {
		return c.fault(ctx, span, err)
	}
	c.state = Polling
	c.outcome("records")
	return c.opts.PollInterval
}

// process decodes the newest record of a batch and publishes the result.
// Older records are superseded and never read.
func (c *Consumer) process(ctx context.Context, rec stream.Record) error {
	reports, err := c.opts.Decode(rec.Data)
	if err != nil {
		return &stream.DecodeError{Sequence: rec.Sequence, Err: err}
	}

	now := c.opts.Now()
	start := time.Now()
	vehicles := c.rec.ReconcileAll(reports, now)
	if m := c.opts.Metrics; m != nil {
		m.ReconcileObserve(time.Since(start))
	}

	snap := c.store.Replace(vehicles, now, rec.Sequence)
	if m := c.opts.Metrics; m != nil {
		m.SnapshotReplaced(now, vehicles)
	}
	for _, sink := range c.opts.Sinks {
		if err := sink.PublishSnapshot(ctx, snap); err != nil {
			log.Printf("snapshot sink error: %v", err)
		}
	}
	return nil
}

func (c *Consumer) fault(ctx context.Context, span trace.Span, err error) time.Duration {
	c.state = NeedCursor
	c.cursor = 0
	if ctx.Err() != nil {
		return 0
	}
	kind := stream.FaultKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	log.Printf("stream fault (%s): %v; reacquiring cursor in %s", kind, err, c.opts.FaultBackoff)
	if m := c.opts.Metrics; m != nil {
		m.StreamFault(kind)
	}
	c.outcome("fault")
	return c.opts.FaultBackoff
}

func (c *Consumer) outcome(o string) {
	if m := c.opts.Metrics; m != nil {
		m.PollOutcome(o)
	}
}

// Run steps until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pause := c.Step(ctx)
			if ctx.Err() != nil {
				return
			}
			t.Reset(pause)
		}
	}
}

// Start runs the loop in a background goroutine. Calling Start on a running
// consumer does nothing.
func (c *Consumer) Start(parent context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current iteration to finish.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
