// Package snapshot holds the latest reconciled vehicle set.
//
// Store has one writer (the consumer) and any number of readers. Every
// change swaps a pointer to a new immutable Snapshot, so a reader sees either
// the previous or the next value in full.
package snapshot

import (
	"sync/atomic"
	"time"

	"gtfs-reconciler/internal/gtfs"
)

// Snapshot is immutable once stored. Vehicles must not be modified by readers.
type Snapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	LastPolled  time.Time            `json:"last_polled"`
	Sequence    uint64               `json:"sequence"`
	Vehicles    []gtfs.VehicleRecord `json:"vehicles"`
}

type Store struct {
	cur atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	s := &Store{}
	s.cur.Store(&Snapshot{Vehicles: []gtfs.VehicleRecord{}})
	return s
}

// Current returns the latest snapshot. It is never nil.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Replace publishes a new vehicle set. The slice is owned by the store
// afterwards.
func (s *Store) Replace(vehicles []gtfs.VehicleRecord, generatedAt time.Time, seq uint64) *Snapshot {
	if vehicles == nil {
		vehicles = []gtfs.VehicleRecord{}
	}
	next := &Snapshot{
		GeneratedAt: generatedAt,
		LastPolled:  generatedAt,
		Sequence:    seq,
		Vehicles:    vehicles,
	}
	s.cur.Store(next)
	return next
}

// Touch records a poll without changing the vehicle set.
func (s *Store) Touch(polledAt time.Time) {
	for {
		old := s.cur.Load()
		next := *old
		next.LastPolled = polledAt
		if s.cur.CompareAndSwap(old, &next) {
			return
		}
	}
}
