package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gtfs-reconciler/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchFeed reads the static schedule tables imported by postgis-gtfs-importer.
func FetchFeed(ctx context.Context, db *sql.DB) (*gtfs.Feed, error) {
	feed := &gtfs.Feed{}
	var err error
	if feed.Stops, err = fetchStops(ctx, db); err != nil {
		return nil, err
	}
	if feed.Trips, err = fetchTrips(ctx, db); err != nil {
		return nil, err
	}
	if feed.Routes, err = fetchRoutes(ctx, db); err != nil {
		return nil, err
	}
	if feed.StopTimes, err = fetchStopTimes(ctx, db); err != nil {
		return nil, err
	}
	return feed, nil
}

// stopsQuery prefers stop_lat/stop_lon, but supports the PostGIS stop_loc
// geography column as a fallback.
func stopsQuery(ctx context.Context, db *sql.DB) (string, error) {
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return "", fmt.Errorf("introspect stops columns: %w", err)
	}
	if latlonExists["stop_lat"] && latlonExists["stop_lon"] {
		return `SELECT stop_id, COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0)
             FROM stops`, nil
	}
	locExists, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
	if err != nil {
		return "", fmt.Errorf("introspect stops stop_loc: %w", err)
	}
	if !locExists["stop_loc"] {
		return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	return `SELECT stop_id, COALESCE(stop_name, ''),
                    COALESCE(ST_Y(stop_loc::geometry), 0),
                    COALESCE(ST_X(stop_loc::geometry), 0)
             FROM stops`, nil
}

func fetchStops(ctx context.Context, db *sql.DB) ([]gtfs.Stop, error) {
	q, err := stopsQuery(ctx, db)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []gtfs.Stop
	for rows.Next() {
		var s gtfs.Stop
		if err := rows.Scan(&s.StopID, &s.StopName, &s.StopLat, &s.StopLon); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func fetchTrips(ctx context.Context, db *sql.DB) ([]gtfs.Trip, error) {
	rows, err := db.QueryContext(ctx, `SELECT trip_id, route_id, COALESCE(trip_headsign, '') FROM trips`)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []gtfs.Trip
	for rows.Next() {
		var t gtfs.Trip
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.Headsign); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func fetchRoutes(ctx context.Context, db *sql.DB) ([]gtfs.Route, error) {
	rows, err := db.QueryContext(ctx, `SELECT route_id, COALESCE(route_short_name, '') FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []gtfs.Route
	for rows.Next() {
		var r gtfs.Route
		if err := rows.Scan(&r.RouteID, &r.ShortName); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// fetchStopTimes reads arrival_time as text. The importer stores it as an
// interval, so values past midnight come back as "25:10:00" and are kept
// verbatim for the reconciler to parse.
func fetchStopTimes(ctx context.Context, db *sql.DB) ([]gtfs.StopTime, error) {
	q := `SELECT trip_id, stop_id, stop_sequence, COALESCE(arrival_time::text, '')
          FROM stop_times
          ORDER BY trip_id, stop_sequence`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []gtfs.StopTime
	for rows.Next() {
		var st gtfs.StopTime
		if err := rows.Scan(&st.TripID, &st.StopID, &st.StopSequence, &st.ArrivalTime); err != nil {
			return nil, err
		}
		st.ArrivalTime = normalizeInterval(st.ArrivalTime)
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
