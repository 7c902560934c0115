package gtfs

import "time"

type Stop struct {
	StopID   string
	StopName string
	StopLat  float64
	StopLon  float64
}

type Trip struct {
	TripID   string
	RouteID  string
	Headsign string
}

type Route struct {
	RouteID   string
	ShortName string
}

// StopTime is one scheduled visit of a trip to a stop.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence int
	ArrivalTime  string // HH:MM:SS, hours may exceed 23
}

// Feed is the parsed static schedule before indexing.
type Feed struct {
	Stops     []Stop
	Trips     []Trip
	Routes    []Route
	StopTimes []StopTime
}

// PositionReport is one vehicle entity decoded from a real-time feed.
// Numeric fields are optional in the feed and stay nil when absent.
type PositionReport struct {
	VehicleID string
	TripID    string
	Latitude  *float64
	Longitude *float64
	Speed     *float64 // meters per second
	Bearing   *float64
	Timestamp *int64 // epoch seconds
}

type OnTimeStatus string

const (
	StatusOnTime  OnTimeStatus = "ON_TIME"
	StatusLate    OnTimeStatus = "LATE"
	StatusEarly   OnTimeStatus = "EARLY"
	StatusUnknown OnTimeStatus = "UNKNOWN"
)

// VehicleRecord is a position report enriched with schedule data.
type VehicleRecord struct {
	VehicleID        string       `json:"vehicle_id"`
	TripID           string       `json:"trip_id,omitempty"`
	RouteID          string       `json:"route_id,omitempty"`
	RouteShortName   string       `json:"route_short_name,omitempty"`
	Headsign         string       `json:"headsign,omitempty"`
	Lat              *float64     `json:"lat,omitempty"`
	Lon              *float64     `json:"lon,omitempty"`
	SpeedMps         *float64     `json:"speed_mps,omitempty"`
	Bearing          *float64     `json:"bearing,omitempty"`
	LastUpdate       *time.Time   `json:"last_update,omitempty"`
	NextStopID       string       `json:"next_stop_id,omitempty"`
	NextStopName     string       `json:"next_stop_name,omitempty"`
	ScheduledArrival *time.Time   `json:"scheduled_arrival,omitempty"`
	EstimatedArrival *time.Time   `json:"estimated_arrival,omitempty"`
	DelaySeconds     *int64       `json:"delay_seconds,omitempty"`
	OnTimeStatus     OnTimeStatus `json:"on_time_status,omitempty"`
}
