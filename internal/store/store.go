// Package store keeps the live view of the latest known position per
// vehicle: an in-memory map for reads, written through synchronously to
// a Persister so an acknowledged upsert or eviction survives a crash.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transit-tracker/internal/fleet"
)

// Persister is the durable side of the store. The Postgres
// implementation lives in this package; tests substitute their own.
type Persister interface {
	Upsert(ctx context.Context, pos fleet.VehiclePosition) error
	DeleteOlderThan(ctx context.Context, vehicleIDs []string, cutoff time.Time) error
	LoadAll(ctx context.Context) ([]fleet.VehiclePosition, error)
}

// Store holds the current position of every live vehicle.
type Store struct {
	persister Persister
	skew      time.Duration // tolerated future ObservedAt
	now       func() time.Time

	mu        sync.RWMutex
	positions map[string]fleet.VehiclePosition
}

// Option configures a Store.
type Option func(*Store)

// WithClockSkewTolerance sets how far in the future an ObservedAt may be
// before the report is rejected.
func WithClockSkewTolerance(d time.Duration) Option {
	return func(s *Store) { s.skew = d }
}

// WithNow overrides the wall clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store writing through to the given persister. A nil
// persister keeps the store memory-only.
func New(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		skew:      30 * time.Second,
		now:       time.Now,
		positions: make(map[string]fleet.VehiclePosition),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Warm loads the persisted positions into the memory view. Called once
// at startup, before any readers exist.
func (s *Store) Warm(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	positions, err := s.persister.LoadAll(ctx)
	if err != nil {
		return &fleet.DependencyError{Dependency: "position persistence", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		if prev, ok := s.positions[p.VehicleID]; ok && prev.ObservedAt.After(p.ObservedAt) {
			continue
		}
		s.positions[p.VehicleID] = p
	}
	return nil
}

// Upsert stores pos as the current position of its vehicle. A record
// with an older ObservedAt than the live one is dropped without error,
// so out-of-order delivery converges on the latest fix. The persister
// write completes before the memory view changes.
func (s *Store) Upsert(ctx context.Context, pos fleet.VehiclePosition) error {
	if err := s.validate(pos); err != nil {
		return err
	}
	pos.ObservedAt = pos.ObservedAt.UTC()

	if s.persister != nil {
		if err := s.persister.Upsert(ctx, pos); err != nil {
			return &fleet.DependencyError{Dependency: "position persistence", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.positions[pos.VehicleID]; ok && prev.ObservedAt.After(pos.ObservedAt) {
		return nil
	}
	s.positions[pos.VehicleID] = pos
	return nil
}

func (s *Store) validate(pos fleet.VehiclePosition) error {
	switch {
	case pos.VehicleID == "":
		return &fleet.ValidationError{Field: "vehicleId", Detail: "must not be empty"}
	case pos.Latitude < -90 || pos.Latitude > 90:
		return &fleet.ValidationError{Field: "latitude", Detail: fmt.Sprintf("%g out of range [-90, 90]", pos.Latitude)}
	case pos.Longitude < -180 || pos.Longitude > 180:
		return &fleet.ValidationError{Field: "longitude", Detail: fmt.Sprintf("%g out of range [-180, 180]", pos.Longitude)}
	case pos.ObservedAt.IsZero():
		return &fleet.ValidationError{Field: "observedAt", Detail: "must be set"}
	case pos.ObservedAt.After(s.now().Add(s.skew)):
		return &fleet.ValidationError{Field: "observedAt", Detail: "lies in the future beyond clock-skew tolerance"}
	}
	if pos.SpeedKph != nil && *pos.SpeedKph < 0 {
		return &fleet.ValidationError{Field: "speedKph", Detail: "must be nonnegative"}
	}
	return nil
}

// ByVehicle returns the live position of one vehicle.
func (s *Store) ByVehicle(vehicleID string) (fleet.VehiclePosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[vehicleID]
	return pos, ok
}

// ByLine returns a snapshot of the positions of all vehicles on the
// given line. An empty lineID matches every vehicle.
func (s *Store) ByLine(lineID string) []fleet.VehiclePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fleet.VehiclePosition, 0, len(s.positions))
	for _, pos := range s.positions {
		if lineID != "" && pos.LineID != lineID {
			continue
		}
		out = append(out, pos)
	}
	return out
}

// All returns a snapshot of every live position.
func (s *Store) All() []fleet.VehiclePosition {
	return s.ByLine("")
}

// Len returns the number of live vehicles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// EvictOlderThan removes every record whose ObservedAt lies strictly
// before cutoff and returns how many were removed. Victims are collected
// under the read lock and removed under a short write lock with a
// re-check, so a vehicle that reports mid-sweep survives and readers are
// never blocked for the duration of the persister call.
func (s *Store) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	victims := make([]string, 0)
	for id, pos := range s.positions {
		if pos.ObservedAt.Before(cutoff) {
			victims = append(victims, id)
		}
	}
	s.mu.RUnlock()

	if len(victims) == 0 {
		return 0, nil
	}

	if s.persister != nil {
		if err := s.persister.DeleteOlderThan(ctx, victims, cutoff); err != nil {
			return 0, &fleet.DependencyError{Dependency: "position persistence", Err: err}
		}
	}

	removed := 0
	s.mu.Lock()
	for _, id := range victims {
		if pos, ok := s.positions[id]; ok && pos.ObservedAt.Before(cutoff) {
			delete(s.positions, id)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}
