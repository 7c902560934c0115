package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-reconciler/internal/gtfs"
	"gtfs-reconciler/internal/snapshot"
	"gtfs-reconciler/internal/stream"
)

type fetchResult struct {
	batch stream.Batch
	err   error
}

// scriptedLog answers LatestCursor and Fetch from queues. When a queue is
// empty it reports an empty log.
type scriptedLog struct {
	mu        sync.Mutex
	latest    []stream.Cursor
	latestErr []error
	fetches   []fetchResult
	fetched   []stream.Cursor
}

func (l *scriptedLog) LatestCursor(ctx context.Context) (stream.Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.latestErr) > 0 {
		err := l.latestErr[0]
		l.latestErr = l.latestErr[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(l.latest) == 0 {
		return 1, nil
	}
	c := l.latest[0]
	l.latest = l.latest[1:]
	return c, nil
}

func (l *scriptedLog) Fetch(ctx context.Context, c stream.Cursor) (stream.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetched = append(l.fetched, c)
	if len(l.fetches) == 0 {
		return stream.Batch{Next: c}, nil
	}
	r := l.fetches[0]
	l.fetches = l.fetches[1:]
	return r.batch, r.err
}

// Payloads are comma separated vehicle ids; "!" is undecodable.
func decodeIDs(data []byte) ([]gtfs.PositionReport, error) {
	s := string(data)
	if s == "!" {
		return nil, errors.New("unexpected end of JSON input")
	}
	var out []gtfs.PositionReport
	for _, id := range strings.Split(s, ",") {
		out = append(out, gtfs.PositionReport{VehicleID: id})
	}
	return out, nil
}

type echoReconciler struct{}

func (echoReconciler) ReconcileAll(reports []gtfs.PositionReport, now time.Time) []gtfs.VehicleRecord {
	out := make([]gtfs.VehicleRecord, 0, len(reports))
	for _, r := range reports {
		out = append(out, gtfs.VehicleRecord{VehicleID: r.VehicleID, OnTimeStatus: gtfs.StatusOnTime})
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []*snapshot.Snapshot
	err   error
}

func (s *recordingSink) PublishSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func records(seqs []uint64, payloads ...string) []stream.Record {
	out := make([]stream.Record, len(payloads))
	for i, p := range payloads {
		out[i] = stream.Record{Sequence: seqs[i], Data: []byte(p)}
	}
	return out
}

func vehicleIDs(s *snapshot.Snapshot) []string {
	ids := make([]string, len(s.Vehicles))
	for i, v := range s.Vehicles {
		ids[i] = v.VehicleID
	}
	return ids
}

func newTestConsumer(l stream.Log, sinks ...SnapshotSink) (*Consumer, *snapshot.Store, *fakeClock) {
	store := snapshot.NewStore()
	clock := &fakeClock{t: time.Date(2025, 11, 29, 18, 0, 0, 0, time.UTC)}
	c := New(l, echoReconciler{}, store, Options{
		PollInterval: time.Second,
		FaultBackoff: 5 * time.Second,
		Decode:       decodeIDs,
		Now:          clock.Now,
		Sinks:        sinks,
	})
	return c, store, clock
}

func TestConsumer_RecoversFromExpiredCursor(t *testing.T) {
	ctx := context.Background()
	l := &scriptedLog{
		latest: []stream.Cursor{10, 40},
		fetches: []fetchResult{
			{batch: stream.Batch{Records: records([]uint64{10, 11}, "A,B", "C,D,E"), Next: 12}},
			{err: stream.ErrCursorExpired},
			{batch: stream.Batch{Records: records([]uint64{40}, "F"), Next: 41}},
		},
	}
	sink := &recordingSink{}
	c, store, _ := newTestConsumer(l, sink)

	assert.Equal(t, NeedCursor, c.State())
	assert.Equal(t, time.Duration(0), c.Step(ctx))
	assert.Equal(t, Polling, c.State())

	assert.Equal(t, time.Second, c.Step(ctx))
	snap := store.Current()
	assert.Equal(t, []string{"C", "D", "E"}, vehicleIDs(snap), "only the newest record is used")
	assert.Equal(t, uint64(11), snap.Sequence)
	firstGen := snap.GeneratedAt

	assert.Equal(t, 5*time.Second, c.Step(ctx))
	assert.Equal(t, NeedCursor, c.State())
	assert.Equal(t, firstGen, store.Current().GeneratedAt, "a fault keeps the previous snapshot")
	assert.True(t, store.Current().LastPolled.After(firstGen), "last_polled advances on faults")

	assert.Equal(t, time.Duration(0), c.Step(ctx))
	assert.Equal(t, time.Second, c.Step(ctx))
	snap = store.Current()
	assert.Equal(t, []string{"F"}, vehicleIDs(snap))
	assert.Equal(t, uint64(40), snap.Sequence)
	assert.True(t, snap.GeneratedAt.After(firstGen))

	assert.Equal(t, []stream.Cursor{10, 12, 40}, l.fetched)
	require.Len(t, sink.snaps, 2)
	// The store touches last_polled after the sinks run, so compare contents.
	assert.Equal(t, snap.Sequence, sink.snaps[1].Sequence)
	assert.Equal(t, snap.GeneratedAt, sink.snaps[1].GeneratedAt)
	assert.Equal(t, snap.Vehicles, sink.snaps[1].Vehicles)
	assert.Equal(t, uint64(11), sink.snaps[0].Sequence)
}

func TestConsumer_EmptyBatchKeepsPolling(t *testing.T) {
	ctx := context.Background()
	l := &scriptedLog{
		latest: []stream.Cursor{5},
		fetches: []fetchResult{
			{batch: stream.Batch{Next: 5}},
			{batch: stream.Batch{Next: 5}},
		},
	}
	c, store, _ := newTestConsumer(l)

	c.Step(ctx)
	before := store.Current().LastPolled
	assert.Equal(t, time.Second, c.Step(ctx))
	assert.Equal(t, Polling, c.State())
	assert.Equal(t, time.Second, c.Step(ctx))

	cur := store.Current()
	assert.True(t, cur.GeneratedAt.IsZero())
	assert.True(t, cur.LastPolled.After(before))
	assert.Equal(t, []stream.Cursor{5, 5}, l.fetched)
}

func TestConsumer_Faults(t *testing.T) {
	tests := []struct {
		name string
		log  *scriptedLog
		// steps to run before checking
		steps int
	}{
		{
			name:  "cursor acquisition fails",
			log:   &scriptedLog{latestErr: []error{errors.New("nats: timeout")}},
			steps: 1,
		},
		{
			name:  "fetch fails",
			log:   &scriptedLog{fetches: []fetchResult{{err: errors.New("nats: connection closed")}}},
			steps: 2,
		},
		{
			name: "decode fails",
			log: &scriptedLog{fetches: []fetchResult{
				{batch: stream.Batch{Records: records([]uint64{1, 2}, "A", "!"), Next: 3}},
			}},
			steps: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store, _ := newTestConsumer(tt.log)
			var pause time.Duration
			for i := 0; i < tt.steps; i++ {
				pause = c.Step(context.Background())
			}
			assert.Equal(t, 5*time.Second, pause)
			assert.Equal(t, NeedCursor, c.State())
			assert.Empty(t, store.Current().Vehicles)
			assert.False(t, store.Current().LastPolled.IsZero())

			// The next iteration reacquires a cursor.
			assert.Equal(t, time.Duration(0), c.Step(context.Background()))
			assert.Equal(t, Polling, c.State())
		})
	}
}

func TestConsumer_SinkErrorIsNotAFault(t *testing.T) {
	l := &scriptedLog{fetches: []fetchResult{
		{batch: stream.Batch{Records: records([]uint64{1}, "A"), Next: 2}},
	}}
	sink := &recordingSink{err: errors.New("nats: connection closed")}
	c, store, _ := newTestConsumer(l, sink)

	c.Step(context.Background())
	assert.Equal(t, time.Second, c.Step(context.Background()))
	assert.Equal(t, Polling, c.State())
	assert.Equal(t, []string{"A"}, vehicleIDs(store.Current()))
	assert.Len(t, sink.snaps, 1)
}

func TestConsumer_StartStop(t *testing.T) {
	l := &scriptedLog{fetches: []fetchResult{
		{err: errors.New("nats: timeout")},
		{batch: stream.Batch{Records: records([]uint64{7}, "A,B"), Next: 8}},
	}}
	store := snapshot.NewStore()
	c := New(l, echoReconciler{}, store, Options{
		PollInterval: time.Millisecond,
		FaultBackoff: time.Millisecond,
		Decode:       decodeIDs,
	})

	c.Start(context.Background())
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return store.Current().Sequence == 7
	}, 2*time.Second, time.Millisecond)
	c.Stop()
	c.Stop()

	assert.Equal(t, []string{"A", "B"}, vehicleIDs(store.Current()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NEED_CURSOR", NeedCursor.String())
	assert.Equal(t, "POLLING", Polling.String())
	assert.Equal(t, "PROCESSING", Processing.String())
}

type countingMetrics struct {
	records  int
	outcomes map[string]int
}

func (m *countingMetrics) PollOutcome(o string)                             { m.outcomes[o]++ }
func (m *countingMetrics) StreamFault(string)                               {}
func (m *countingMetrics) RecordsAdd(n int)                                 { m.records += n }
func (m *countingMetrics) StepObserve(time.Duration)                        {}
func (m *countingMetrics) ReconcileObserve(time.Duration)                   {}
func (m *countingMetrics) Polled(time.Time)                                 {}
func (m *countingMetrics) SnapshotReplaced(time.Time, []gtfs.VehicleRecord) {}

func TestConsumer_CountsSkippedRecords(t *testing.T) {
	l := &scriptedLog{fetches: []fetchResult{
		{batch: stream.Batch{Records: records([]uint64{20}, "A"), Skipped: 4, Next: 21}},
	}}
	m := &countingMetrics{outcomes: map[string]int{}}
	store := snapshot.NewStore()
	c := New(l, echoReconciler{}, store, Options{Decode: decodeIDs, Metrics: m})

	c.Step(context.Background())
	c.Step(context.Background())
	assert.Equal(t, 5, m.records)
	assert.Equal(t, map[string]int{"records": 1}, m.outcomes)
	assert.Equal(t, uint64(20), store.Current().Sequence)
}
