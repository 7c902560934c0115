// Package reconcile matches vehicle positions against the static schedule.
//
// A report is matched to the geographically nearest stop of its trip. The
// match ignores trip progress, so a vehicle still close to a stop it has
// already served is matched to that stop.
package reconcile

import (
	"math"
	"time"

	"gtfs-reconciler/internal/gtfs"
)

// Schedule is the read-only lookup surface of a loaded static schedule.
type Schedule interface {
	GetTrip(id string) (gtfs.Trip, bool)
	GetRoute(id string) (gtfs.Route, bool)
	GetStop(id string) (gtfs.Stop, bool)
	GetStopSequenceForTrip(tripID string) []gtfs.StopTime
}

const (
	lateAfter        = 300  // seconds
	earlyBefore      = -120 // seconds
	dayBoundaryGuard = 12 * time.Hour
	earthRadius      = 6371000.0 // meters
)

type Options struct {
	// ScheduleLocation is the civil time zone stop_times are expressed in.
	ScheduleLocation *time.Location
	// DisplayLocation is the zone reported instants are rendered in.
	DisplayLocation *time.Location
}

type Reconciler struct {
	sched   Schedule
	local   *time.Location
	display *time.Location
}

func New(sched Schedule, opts Options) *Reconciler {
	r := &Reconciler{sched: sched, local: opts.ScheduleLocation, display: opts.DisplayLocation}
	if r.local == nil {
		r.local = time.UTC
	}
	if r.display == nil {
		r.display = time.UTC
	}
	return r
}

// ReconcileAll reconciles reports in order.
func (r *Reconciler) ReconcileAll(reports []gtfs.PositionReport, now time.Time) []gtfs.VehicleRecord {
	out := make([]gtfs.VehicleRecord, 0, len(reports))
	for _, rep := range reports {
		out = append(out, r.Reconcile(rep, now))
	}
	return out
}

// Reconcile enriches one report. Missing reference data leaves the
// corresponding fields unset.
func (r *Reconciler) Reconcile(rep gtfs.PositionReport, now time.Time) gtfs.VehicleRecord {
	rec := gtfs.VehicleRecord{
		VehicleID: rep.VehicleID,
		TripID:    rep.TripID,
		Lat:       rep.Latitude,
		Lon:       rep.Longitude,
		SpeedMps:  rep.Speed,
		Bearing:   rep.Bearing,
	}
	if rep.Timestamp != nil {
		ts := time.Unix(*rep.Timestamp, 0).In(r.display)
		rec.LastUpdate = &ts
	}
	if rep.TripID == "" {
		return rec
	}

	if trip, ok := r.sched.GetTrip(rep.TripID); ok {
		rec.Headsign = trip.Headsign
		rec.RouteID = trip.RouteID
		if route, ok := r.sched.GetRoute(trip.RouteID); ok {
			rec.RouteShortName = route.ShortName
		}
	}

	if rep.Latitude == nil || rep.Longitude == nil {
		return rec
	}
	r.estimate(&rec, *rep.Latitude, *rep.Longitude, now)
	return rec
}

func (r *Reconciler) estimate(rec *gtfs.VehicleRecord, lat, lon float64, now time.Time) {
	visits := r.sched.GetStopSequenceForTrip(rec.TripID)
	if len(visits) == 0 {
		rec.OnTimeStatus = gtfs.StatusUnknown
		return
	}

	var (
		best     *gtfs.StopTime
		bestStop gtfs.Stop
		minDist  = math.Inf(1)
	)
	for i := range visits {
		stop, ok := r.sched.GetStop(visits[i].StopID)
		if !ok {
			continue
		}
		// Strictly less: on ties the earlier visit wins.
		if d := distanceMeters(lat, lon, stop.StopLat, stop.StopLon); d < minDist {
			minDist = d
			best = &visits[i]
			bestStop = stop
		}
	}
	if best == nil {
		return
	}
	rec.NextStopID = bestStop.StopID
	rec.NextStopName = bestStop.StopName

	scheduled, err := ScheduledInstant(best.ArrivalTime, now.In(r.local))
	if err != nil {
		rec.OnTimeStatus = gtfs.StatusUnknown
		return
	}
	delay := Delay(now, scheduled)
	rec.DelaySeconds = &delay
	rec.OnTimeStatus = Classify(delay)

	sched := scheduled.In(r.display)
	eta := scheduled.Add(time.Duration(delay) * time.Second).In(r.display)
	rec.ScheduledArrival = &sched
	rec.EstimatedArrival = &eta
}

// Delay returns now-scheduled in whole seconds, truncated toward zero.
// Differences beyond twelve hours are taken to be a service-day mismatch
// and reported as zero.
func Delay(now, scheduled time.Time) int64 {
	diff := now.Sub(scheduled)
	if diff > dayBoundaryGuard || diff < -dayBoundaryGuard {
		return 0
	}
	return int64(diff / time.Second)
}

func Classify(delay int64) gtfs.OnTimeStatus {
	switch {
	case delay > lateAfter:
		return gtfs.StatusLate
	case delay < earlyBefore:
		return gtfs.StatusEarly
	default:
		return gtfs.StatusOnTime
	}
}

func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
