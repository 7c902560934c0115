package gtfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string][]string) {
	t.Helper()
	for name, lines := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	}
}

func validFiles() map[string][]string {
	return map[string][]string{
		"stops.txt": {
			"\ufeffstop_id,stop_name,stop_lat,stop_lon,wheelchair_boarding",
			"S1,Central Station,40.7600,-111.8900,1",
			"S2,\"Main St & 25th\",41.2230,-111.9730,0",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign",
			"R1,WKD,T1,Ogden",
		},
		"routes.txt": {
			"route_id,route_short_name,route_long_name",
			"R1,612,Ogden Local",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"T1,25:10:00,25:10:00,S2,2",
			"T1,08:00:00,08:00:00,S1,1",
		},
	}
}

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, validFiles())

	feed, err := ReadDir(dir)
	require.NoError(t, err)

	require.Len(t, feed.Stops, 2)
	assert.Equal(t, Stop{StopID: "S2", StopName: "Main St & 25th", StopLat: 41.223, StopLon: -111.973}, feed.Stops[1])
	assert.Equal(t, []Trip{{TripID: "T1", RouteID: "R1", Headsign: "Ogden"}}, feed.Trips)
	assert.Equal(t, []Route{{RouteID: "R1", ShortName: "612"}}, feed.Routes)
	require.Len(t, feed.StopTimes, 2)
	assert.Equal(t, StopTime{TripID: "T1", StopID: "S2", StopSequence: 2, ArrivalTime: "25:10:00"}, feed.StopTimes[0])
}

func TestReadDir_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		lines   []string
		wantMsg string
	}{
		{
			name:    "missing column",
			file:    "trips.txt",
			lines:   []string{"trip_id,route_id", "T1,R1"},
			wantMsg: `trips.txt: missing column "trip_headsign"`,
		},
		{
			name:    "bad latitude",
			file:    "stops.txt",
			lines:   []string{"stop_id,stop_name,stop_lat,stop_lon", "S1,Central,north,-111.89"},
			wantMsg: `stops.txt:2: invalid stop_lat "north"`,
		},
		{
			name:    "bad sequence",
			file:    "stop_times.txt",
			lines:   []string{"trip_id,stop_id,stop_sequence,arrival_time", "T1,S1,first,08:00:00"},
			wantMsg: `stop_times.txt:2: invalid stop_sequence "first"`,
		},
		{
			name:    "empty identifier",
			file:    "routes.txt",
			lines:   []string{"route_id,route_short_name", ",612"},
			wantMsg: "routes.txt:2: empty route_id",
		},
		{
			name:    "empty file",
			file:    "stops.txt",
			lines:   nil,
			wantMsg: "stops.txt: empty file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files := validFiles()
			files[tt.file] = tt.lines
			writeFiles(t, dir, files)
			if tt.lines == nil {
				require.NoError(t, os.WriteFile(filepath.Join(dir, tt.file), nil, 0o644))
			}

			feed, err := ReadDir(dir)
			assert.Nil(t, feed)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantMsg, perr.Error())
		})
	}
}

func TestMissingFiles(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, RequiredFiles, MissingFiles(dir))

	files := validFiles()
	delete(files, "routes.txt")
	writeFiles(t, dir, files)
	assert.Equal(t, []string{"routes.txt"}, MissingFiles(dir))
}
