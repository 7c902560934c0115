package gtfs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RequiredFiles lists the static files a schedule directory must contain.
var RequiredFiles = []string{"stops.txt", "trips.txt", "routes.txt", "stop_times.txt"}

// ParseError reports a malformed static file.
type ParseError struct {
	File string
	Line int // 0 when the problem is with the header
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.File, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// MissingFiles returns the required files absent from dir.
func MissingFiles(dir string) []string {
	var missing []string
	for _, name := range RequiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// ReadDir parses the required static files found in dir.
func ReadDir(dir string) (*Feed, error) {
	feed := &Feed{}

	err := readTable(dir, "stops.txt", []string{"stop_id", "stop_name", "stop_lat", "stop_lon"}, func(row func(string) string, line int) error {
		lat, err := strconv.ParseFloat(row("stop_lat"), 64)
		if err != nil {
			return &ParseError{File: "stops.txt", Line: line, Msg: fmt.Sprintf("invalid stop_lat %q", row("stop_lat"))}
		}
		lon, err := strconv.ParseFloat(row("stop_lon"), 64)
		if err != nil {
			return &ParseError{File: "stops.txt", Line: line, Msg: fmt.Sprintf("invalid stop_lon %q", row("stop_lon"))}
		}
		feed.Stops = append(feed.Stops, Stop{StopID: row("stop_id"), StopName: row("stop_name"), StopLat: lat, StopLon: lon})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(dir, "trips.txt", []string{"trip_id", "route_id", "trip_headsign"}, func(row func(string) string, line int) error {
		feed.Trips = append(feed.Trips, Trip{TripID: row("trip_id"), RouteID: row("route_id"), Headsign: row("trip_headsign")})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(dir, "routes.txt", []string{"route_id", "route_short_name"}, func(row func(string) string, line int) error {
		feed.Routes = append(feed.Routes, Route{RouteID: row("route_id"), ShortName: row("route_short_name")})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = readTable(dir, "stop_times.txt", []string{"trip_id", "stop_id", "stop_sequence", "arrival_time"}, func(row func(string) string, line int) error {
		seq, err := strconv.Atoi(row("stop_sequence"))
		if err != nil {
			return &ParseError{File: "stop_times.txt", Line: line, Msg: fmt.Sprintf("invalid stop_sequence %q", row("stop_sequence"))}
		}
		feed.StopTimes = append(feed.StopTimes, StopTime{
			TripID:       row("trip_id"),
			StopID:       row("stop_id"),
			StopSequence: seq,
			ArrivalTime:  row("arrival_time"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return feed, nil
}

// readTable streams name row by row. The first column of cols is the row
// identifier and must be non-empty.
func readTable(dir, name string, cols []string, fn func(row func(string) string, line int) error) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &ParseError{File: name, Msg: "empty file"}
	}
	if err != nil {
		return &ParseError{File: name, Msg: err.Error()}
	}
	pos := make(map[string]int, len(cols))
	for _, col := range cols {
		pos[col] = -1
		for i, h := range head {
			h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
			if strings.EqualFold(h, col) {
				pos[col] = i
				break
			}
		}
		if pos[col] < 0 {
			return &ParseError{File: name, Msg: fmt.Sprintf("missing column %q", col)}
		}
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return &ParseError{File: name, Line: line, Msg: err.Error()}
		}
		row := func(col string) string {
			i := pos[col]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if row(cols[0]) == "" {
			return &ParseError{File: name, Line: line, Msg: fmt.Sprintf("empty %s", cols[0])}
		}
		if err := fn(row, line); err != nil {
			return err
		}
	}
}
