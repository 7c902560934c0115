package stream

import (
	"bytes"
	"fmt"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"gtfs-reconciler/internal/gtfs"
)

var (
	jsonOpts   = protojson.UnmarshalOptions{DiscardUnknown: true, AllowPartial: true}
	binaryOpts = proto.UnmarshalOptions{DiscardUnknown: true, AllowPartial: true}
)

// DecodeFeed reads a GTFS-realtime FeedMessage in either its JSON form (as
// written by the ingest poller, with extra top-level keys ignored) or its
// binary protobuf form, and returns one report per vehicle entity.
func DecodeFeed(data []byte) ([]gtfs.PositionReport, error) {
	var feed gtfsrt.FeedMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		if err := jsonOpts.Unmarshal(trimmed, &feed); err != nil {
			return nil, fmt.Errorf("json feed: %w", err)
		}
	} else if err := binaryOpts.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("protobuf feed: %w", err)
	}
	return Reports(&feed), nil
}

// Reports maps vehicle entities to position reports, skipping entities
// without a vehicle payload.
func Reports(feed *gtfsrt.FeedMessage) []gtfs.PositionReport {
	out := make([]gtfs.PositionReport, 0, len(feed.GetEntity()))
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil {
			continue
		}
		rep := gtfs.PositionReport{
			VehicleID: vp.GetVehicle().GetId(),
			TripID:    vp.GetTrip().GetTripId(),
		}
		if rep.VehicleID == "" {
			rep.VehicleID = ent.GetId()
		}
		if pos := vp.GetPosition(); pos != nil {
			rep.Latitude = f64(pos.Latitude)
			rep.Longitude = f64(pos.Longitude)
			rep.Speed = f64(pos.Speed)
			rep.Bearing = f64(pos.Bearing)
		}
		if vp.Timestamp != nil {
			ts := int64(vp.GetTimestamp())
			rep.Timestamp = &ts
		}
		out = append(out, rep)
	}
	return out
}

func f64(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
