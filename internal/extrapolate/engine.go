// Package extrapolate dead-reckons the current position of a vehicle
// from its last GPS fix. Projection follows the great-circle bearing of
// the reported heading; it does not snap to route geometry.
package extrapolate

import (
	"time"

	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
)

// DefaultHorizon is the default maximum fix age still worth projecting.
const DefaultHorizon = 120 * time.Second

// Engine computes estimated positions between fixes.
type Engine struct {
	horizon time.Duration
}

// New creates an engine with the given extrapolation horizon; a
// non-positive horizon falls back to DefaultHorizon.
func New(horizon time.Duration) *Engine {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Engine{horizon: horizon}
}

// Horizon returns the configured maximum extrapolation age.
func (e *Engine) Horizon() time.Duration { return e.horizon }

// Estimate projects pos forward to asOf. When heading or speed is
// missing, or the fix is older than the horizon, the last known
// coordinates are returned unchanged with Confidence 0 so the caller
// can surface staleness instead of fabricated motion. Confidence decays
// linearly from 1.0 at dt=0 to 0.0 at the horizon.
func (e *Engine) Estimate(pos fleet.VehiclePosition, asOf time.Time) fleet.ExtrapolatedPosition {
	est := fleet.ExtrapolatedPosition{
		VehicleID: pos.VehicleID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		AsOf:      asOf,
	}

	dt := asOf.Sub(pos.ObservedAt)
	if dt < 0 {
		dt = 0
	}
	if pos.Heading == nil || pos.SpeedKph == nil || dt > e.horizon {
		est.Confidence = 0
		return est
	}

	distanceM := *pos.SpeedKph * dt.Seconds() / 3600 * 1000
	est.Latitude, est.Longitude = geo.Destination(pos.Latitude, pos.Longitude, *pos.Heading, distanceM)
	est.Confidence = 1 - dt.Seconds()/e.horizon.Seconds()
	return est
}
