// Package schedule holds the static schedule indices used for reconciliation.
// A Repository is built once and is read-only afterwards, so it is safe for
// concurrent use without locking.
package schedule

import (
	"sort"

	"gtfs-reconciler/internal/gtfs"
)

type Repository struct {
	stops     map[string]gtfs.Stop
	trips     map[string]gtfs.Trip
	routes    map[string]gtfs.Route
	sequences map[string][]gtfs.StopTime
	visits    int
}

type Stats struct {
	Stops  int `json:"stops"`
	Trips  int `json:"trips"`
	Routes int `json:"routes"`
	Visits int `json:"stop_times"`
}

// FromFeed indexes a parsed feed. Later rows win on duplicate ids.
func FromFeed(feed *gtfs.Feed) *Repository {
	r := &Repository{
		stops:     make(map[string]gtfs.Stop, len(feed.Stops)),
		trips:     make(map[string]gtfs.Trip, len(feed.Trips)),
		routes:    make(map[string]gtfs.Route, len(feed.Routes)),
		sequences: make(map[string][]gtfs.StopTime),
		visits:    len(feed.StopTimes),
	}
	for _, s := range feed.Stops {
		r.stops[s.StopID] = s
	}
	for _, t := range feed.Trips {
		r.trips[t.TripID] = t
	}
	for _, rt := range feed.Routes {
		r.routes[rt.RouteID] = rt
	}
	for _, st := range feed.StopTimes {
		r.sequences[st.TripID] = append(r.sequences[st.TripID], st)
	}
	for _, seq := range r.sequences {
		sort.SliceStable(seq, func(i, j int) bool { return seq[i].StopSequence < seq[j].StopSequence })
	}
	return r
}

func (r *Repository) GetTrip(id string) (gtfs.Trip, bool) {
	t, ok := r.trips[id]
	return t, ok
}

func (r *Repository) GetRoute(id string) (gtfs.Route, bool) {
	rt, ok := r.routes[id]
	return rt, ok
}

func (r *Repository) GetStop(id string) (gtfs.Stop, bool) {
	s, ok := r.stops[id]
	return s, ok
}

// GetStopSequenceForTrip returns the trip's visits ordered by stop_sequence,
// or nil for an unknown trip. The returned slice is shared and must not be
// modified.
func (r *Repository) GetStopSequenceForTrip(tripID string) []gtfs.StopTime {
	return r.sequences[tripID]
}

func (r *Repository) Stats() Stats {
	return Stats{Stops: len(r.stops), Trips: len(r.trips), Routes: len(r.routes), Visits: r.visits}
}
