package fleet

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// VehiclePosition is the latest accepted GPS fix for one vehicle.
// At most one live record exists per VehicleID; a newer ObservedAt
// replaces the older record.
type VehiclePosition struct {
	VehicleID  string    `json:"vehicleId"`
	LineID     string    `json:"lineId"`
	TripID     string    `json:"tripId,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"`  // degrees, 0-360
	SpeedKph   *float64  `json:"speedKph,omitempty"` // nonnegative
	ObservedAt time.Time `json:"observedAt"`         // UTC time of the GPS fix
}

// Report is one raw ingest submission. Ranges are enforced by the
// ingest pipeline before a VehiclePosition is constructed from it.
type Report struct {
	VehicleID  string   `json:"vehicleId" validate:"required"`
	LineID     string   `json:"lineId" validate:"required"`
	TripID     string   `json:"tripId,omitempty"`
	Latitude   float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Heading    *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	SpeedKph   *float64 `json:"speedKph,omitempty" validate:"omitempty,gte=0"`
	ObservedAt string   `json:"observedAt,omitempty"` // RFC3339; empty means receipt time
}

// StopID is the composite stop key: primary stop number plus sub-number,
// rendered "12.3".
type StopID struct {
	Primary int `json:"primary"`
	Sub     int `json:"sub"`
}

var stopIDPattern = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// ParseStopID parses a "primary.sub" stop key.
func ParseStopID(s string) (StopID, error) {
	m := stopIDPattern.FindStringSubmatch(s)
	if m == nil {
		return StopID{}, &ValidationError{Field: "stopId", Detail: fmt.Sprintf("%q does not match 'primary.sub'", s)}
	}
	primary, _ := strconv.Atoi(m[1])
	sub, _ := strconv.Atoi(m[2])
	return StopID{Primary: primary, Sub: sub}, nil
}

func (id StopID) String() string { return fmt.Sprintf("%d.%d", id.Primary, id.Sub) }

// Less orders stop IDs by primary number, then sub-number.
func (id StopID) Less(other StopID) bool {
	if id.Primary != other.Primary {
		return id.Primary < other.Primary
	}
	return id.Sub < other.Sub
}

// Stop is one physical stop. Immutable after reference-data load.
type Stop struct {
	ID        StopID   `json:"stopId"`
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Lines     []string `json:"lines"` // line IDs serving the stop
}

// ServesLine reports whether lineID is in the stop's line set.
func (s Stop) ServesLine(lineID string) bool {
	for _, l := range s.Lines {
		if l == lineID {
			return true
		}
	}
	return false
}

// TripStop is one scheduled stop within a trip.
type TripStop struct {
	StopID             StopID `json:"stopId"`
	ScheduledOffsetSec int    `json:"scheduledOffsetSec"` // seconds after trip start
}

// Trip is one scheduled run: an ordered stop sequence with nominal timing.
// Immutable reference data.
type Trip struct {
	TripID string     `json:"tripId"`
	LineID string     `json:"lineId"`
	Stops  []TripStop `json:"stops"`
}

// StopIndexOf returns the position of stopID in the trip's stop sequence,
// or -1 when the trip does not serve the stop.
func (t Trip) StopIndexOf(stopID StopID) int {
	for i, ts := range t.Stops {
		if ts.StopID == stopID {
			return i
		}
	}
	return -1
}

// ExtrapolatedPosition is a dead-reckoned position derived from the last
// fix. Not persisted.
type ExtrapolatedPosition struct {
	VehicleID  string    `json:"vehicleId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Confidence float64   `json:"confidence"` // 1.0 fresh .. 0.0 at/beyond horizon
	AsOf       time.Time `json:"asOf"`
}

// CourseEstimate is one estimated upcoming arrival of a vehicle at a stop.
// Not persisted.
type CourseEstimate struct {
	VehicleID      string  `json:"vehicleId"`
	LineID         string  `json:"lineId"`
	StopID         StopID  `json:"stopId"`
	ETASeconds     int     `json:"etaSeconds"`
	DistanceMeters float64 `json:"distanceMeters"`
}
