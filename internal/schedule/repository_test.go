package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-reconciler/internal/gtfs"
)

func testFeed() *gtfs.Feed {
	return &gtfs.Feed{
		Stops: []gtfs.Stop{
			{StopID: "S1", StopName: "First", StopLat: 40.0, StopLon: -111.0},
			{StopID: "S2", StopName: "Second", StopLat: 40.1, StopLon: -111.1},
		},
		Trips:  []gtfs.Trip{{TripID: "T1", RouteID: "R1", Headsign: "Downtown"}},
		Routes: []gtfs.Route{{RouteID: "R1", ShortName: "1"}},
		StopTimes: []gtfs.StopTime{
			{TripID: "T1", StopID: "S2", StopSequence: 20, ArrivalTime: "08:10:00"},
			{TripID: "T1", StopID: "S1", StopSequence: 3, ArrivalTime: "08:00:00"},
			{TripID: "T2", StopID: "S1", StopSequence: 1, ArrivalTime: "09:00:00"},
		},
	}
}

func TestRepositoryLookups(t *testing.T) {
	repo := FromFeed(testFeed())

	trip, ok := repo.GetTrip("T1")
	require.True(t, ok)
	assert.Equal(t, "Downtown", trip.Headsign)

	route, ok := repo.GetRoute("R1")
	require.True(t, ok)
	assert.Equal(t, "1", route.ShortName)

	stop, ok := repo.GetStop("S2")
	require.True(t, ok)
	assert.Equal(t, "Second", stop.StopName)

	_, ok = repo.GetTrip("nope")
	assert.False(t, ok)
	_, ok = repo.GetRoute("nope")
	assert.False(t, ok)
	_, ok = repo.GetStop("nope")
	assert.False(t, ok)

	assert.Equal(t, Stats{Stops: 2, Trips: 1, Routes: 1, Visits: 3}, repo.Stats())
}

func TestGetStopSequenceForTrip(t *testing.T) {
	repo := FromFeed(testFeed())

	seq := repo.GetStopSequenceForTrip("T1")
	require.Len(t, seq, 2)
	assert.Equal(t, 3, seq[0].StopSequence)
	assert.Equal(t, 20, seq[1].StopSequence)

	// Visits may reference trips missing from trips.txt.
	assert.Len(t, repo.GetStopSequenceForTrip("T2"), 1)

	assert.Empty(t, repo.GetStopSequenceForTrip("unknown"))
}
