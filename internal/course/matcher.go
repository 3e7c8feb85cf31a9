// Package course matches live vehicles to their upcoming stops and
// estimates arrival times.
package course

import (
	"log"
	"sort"
	"time"

	"transit-tracker/internal/extrapolate"
	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
	"transit-tracker/internal/stopindex"
)

// DefaultMinSpeedKph is the speed below which the distance/speed ETA is
// considered meaningless and the scheduled-offset fallback is used.
const DefaultMinSpeedKph = 3.0

// PositionSource is the slice of the position store the matcher reads.
type PositionSource interface {
	ByLine(lineID string) []fleet.VehiclePosition
}

// Matcher produces "next buses at a stop" estimates.
type Matcher struct {
	store       PositionSource
	index       *stopindex.Index
	engine      *extrapolate.Engine
	minSpeedKph float64
	now         func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMinSpeedKph overrides the minimum speed for distance-based ETAs.
func WithMinSpeedKph(kph float64) Option {
	return func(m *Matcher) { m.minSpeedKph = kph }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// New creates a Matcher over the given collaborators.
func New(store PositionSource, index *stopindex.Index, engine *extrapolate.Engine, opts ...Option) *Matcher {
	m := &Matcher{
		store:       store,
		index:       index,
		engine:      engine,
		minSpeedKph: DefaultMinSpeedKph,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CoursesForStop returns up to limit estimated arrivals at the stop,
// soonest first. A vehicle whose data cannot be evaluated is skipped
// and logged, never fatal to the query.
func (m *Matcher) CoursesForStop(stopID fleet.StopID, limit int) ([]fleet.CourseEstimate, error) {
	if limit <= 0 {
		return nil, fleet.ErrInvalidLimit
	}
	stop, ok := m.index.FindByID(stopID)
	if !ok {
		return nil, fleet.ErrStopNotFound
	}

	now := m.now()
	var estimates []fleet.CourseEstimate
	for _, line := range stop.Lines {
		for _, pos := range m.store.ByLine(line) {
			est, ok := m.estimateCourse(stop, pos, now)
			if !ok {
				continue
			}
			estimates = append(estimates, est)
		}
	}

	sort.Slice(estimates, func(i, j int) bool {
		if estimates[i].ETASeconds != estimates[j].ETASeconds {
			return estimates[i].ETASeconds < estimates[j].ETASeconds
		}
		return estimates[i].VehicleID < estimates[j].VehicleID
	})
	if limit < len(estimates) {
		estimates = estimates[:limit]
	}
	return estimates, nil
}

// estimateCourse evaluates one vehicle against the target stop. The
// second return value is false when the vehicle is excluded (already
// past the stop, or its data is unusable).
func (m *Matcher) estimateCourse(stop fleet.Stop, pos fleet.VehiclePosition, now time.Time) (fleet.CourseEstimate, bool) {
	proj := m.engine.Estimate(pos, now)
	distanceM := geo.DistanceMeters(proj.Latitude, proj.Longitude, stop.Latitude, stop.Longitude)

	trip, haveTrip := m.index.Trip(pos.TripID)
	targetIdx := -1
	progressIdx := -1
	if haveTrip {
		targetIdx = trip.StopIndexOf(stop.ID)
		if targetIdx < 0 {
			// trip does not serve this stop on the current run
			return fleet.CourseEstimate{}, false
		}
		progressIdx = m.progressIndex(trip, proj.Latitude, proj.Longitude)
		if progressIdx > targetIdx {
			// already past the stop on this trip cycle
			return fleet.CourseEstimate{}, false
		}
	}

	etaSec, ok := m.etaSeconds(pos, trip, haveTrip, progressIdx, targetIdx, distanceM)
	if !ok {
		log.Printf("course: skipping vehicle %s at stop %s: no usable ETA basis", pos.VehicleID, stop.ID)
		return fleet.CourseEstimate{}, false
	}

	return fleet.CourseEstimate{
		VehicleID:      pos.VehicleID,
		LineID:         pos.LineID,
		StopID:         stop.ID,
		ETASeconds:     etaSec,
		DistanceMeters: distanceM,
	}, true
}

// etaSeconds prefers distance over reported speed; below the minimum
// speed it falls back to the trip's scheduled offsets. The fallback is
// an approximation of remaining scheduled travel time, not a live ETA.
func (m *Matcher) etaSeconds(pos fleet.VehiclePosition, trip fleet.Trip, haveTrip bool, progressIdx, targetIdx int, distanceM float64) (int, bool) {
	if pos.SpeedKph != nil && *pos.SpeedKph > m.minSpeedKph {
		mps := *pos.SpeedKph * 1000 / 3600
		return int(distanceM/mps + 0.5), true
	}
	if haveTrip && progressIdx >= 0 && targetIdx >= 0 {
		remaining := trip.Stops[targetIdx].ScheduledOffsetSec - trip.Stops[progressIdx].ScheduledOffsetSec
		if remaining < 0 {
			remaining = 0
		}
		return remaining, true
	}
	return 0, false
}

// progressIndex locates the trip stop the vehicle is closest to,
// approximating how far along the stop sequence the run has come.
func (m *Matcher) progressIndex(trip fleet.Trip, lat, lon float64) int {
	best := -1
	bestDist := 0.0
	for i, ts := range trip.Stops {
		s, ok := m.index.FindByID(ts.StopID)
		if !ok {
			continue
		}
		d := geo.DistanceMeters(lat, lon, s.Latitude, s.Longitude)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
