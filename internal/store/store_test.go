package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"transit-tracker/internal/fleet"
)

// fakePersister records calls and optionally fails them.
type fakePersister struct {
	upserts   []fleet.VehiclePosition
	deletes   [][]string
	loaded    []fleet.VehiclePosition
	upsertErr error
	deleteErr error
}

func (f *fakePersister) Upsert(_ context.Context, pos fleet.VehiclePosition) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, pos)
	return nil
}

func (f *fakePersister) DeleteOlderThan(_ context.Context, ids []string, _ time.Time) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, ids)
	return nil
}

func (f *fakePersister) LoadAll(_ context.Context) ([]fleet.VehiclePosition, error) {
	return f.loaded, nil
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
}

func position(vehicleID, lineID string, age time.Duration) fleet.VehiclePosition {
	return fleet.VehiclePosition{
		VehicleID:  vehicleID,
		LineID:     lineID,
		Latitude:   52.52,
		Longitude:  13.405,
		ObservedAt: fixedNow().Add(-age),
	}
}

func TestUpsertRoundTrip(t *testing.T) {
	fp := &fakePersister{}
	s := New(fp, WithNow(fixedNow))

	pos := position("bus-1", "10", time.Minute)
	if err := s.Upsert(context.Background(), pos); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, ok := s.ByVehicle("bus-1")
	if !ok {
		t.Fatalf("vehicle not found after upsert")
	}
	if got.LineID != "10" || !got.ObservedAt.Equal(pos.ObservedAt) {
		t.Errorf("stored position = %+v, want %+v", got, pos)
	}
	if len(fp.upserts) != 1 {
		t.Errorf("persister saw %d upserts, want 1", len(fp.upserts))
	}
}

func TestUpsertLastObservedWins(t *testing.T) {
	s := New(nil, WithNow(fixedNow))
	ctx := context.Background()

	newer := position("bus-1", "10", time.Minute)
	older := position("bus-1", "10", 5*time.Minute)

	// newer first, then the late-arriving older record
	if err := s.Upsert(ctx, newer); err != nil {
		t.Fatalf("upsert newer: %v", err)
	}
	if err := s.Upsert(ctx, older); err != nil {
		t.Fatalf("upsert older: %v", err)
	}

	got, _ := s.ByVehicle("bus-1")
	if !got.ObservedAt.Equal(newer.ObservedAt) {
		t.Errorf("out-of-order delivery overwrote the newer fix: have %v, want %v", got.ObservedAt, newer.ObservedAt)
	}

	// and the same pair in arrival order converges on the same state
	s2 := New(nil, WithNow(fixedNow))
	if err := s2.Upsert(ctx, older); err != nil {
		t.Fatalf("upsert older: %v", err)
	}
	if err := s2.Upsert(ctx, newer); err != nil {
		t.Fatalf("upsert newer: %v", err)
	}
	got2, _ := s2.ByVehicle("bus-1")
	if !got2.ObservedAt.Equal(got.ObservedAt) {
		t.Errorf("delivery order changed the converged state: %v vs %v", got2.ObservedAt, got.ObservedAt)
	}
}

func TestUpsertValidation(t *testing.T) {
	s := New(nil, WithNow(fixedNow), WithClockSkewTolerance(30*time.Second))
	ctx := context.Background()

	cases := []struct {
		name  string
		pos   fleet.VehiclePosition
		field string
	}{
		{"empty vehicle id", fleet.VehiclePosition{Latitude: 1, Longitude: 1, ObservedAt: fixedNow()}, "vehicleId"},
		{"latitude too high", position("b", "l", 0), "latitude"},
		{"longitude too low", position("b", "l", 0), "longitude"},
		{"zero observedAt", fleet.VehiclePosition{VehicleID: "b", Latitude: 1, Longitude: 1}, "observedAt"},
		{"future beyond skew", position("b", "l", -time.Minute), "observedAt"},
	}
	cases[1].pos.Latitude = 90.5
	cases[2].pos.Longitude = -180.5

	for _, tc := range cases {
		err := s.Upsert(ctx, tc.pos)
		if err == nil {
			t.Errorf("%s: upsert succeeded, want validation error", tc.name)
			continue
		}
		var verr *fleet.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: error %v is not a ValidationError", tc.name, err)
			continue
		}
		if verr.Field != tc.field {
			t.Errorf("%s: offending field %q, want %q", tc.name, verr.Field, tc.field)
		}
	}

	if s.Len() != 0 {
		t.Errorf("rejected reports leaked into the store: len = %d", s.Len())
	}
}

func TestUpsertWithinClockSkewAccepted(t *testing.T) {
	s := New(nil, WithNow(fixedNow), WithClockSkewTolerance(30*time.Second))
	pos := position("bus-1", "10", -20*time.Second) // 20 s in the future
	if err := s.Upsert(context.Background(), pos); err != nil {
		t.Fatalf("upsert within skew tolerance rejected: %v", err)
	}
}

func TestUpsertPersisterFailure(t *testing.T) {
	fp := &fakePersister{upsertErr: errors.New("connection reset")}
	s := New(fp, WithNow(fixedNow))

	err := s.Upsert(context.Background(), position("bus-1", "10", time.Minute))
	if err == nil {
		t.Fatalf("upsert succeeded despite persister failure")
	}
	var derr *fleet.DependencyError
	if !errors.As(err, &derr) {
		t.Errorf("error %v is not a DependencyError", err)
	}
	if s.Len() != 0 {
		t.Errorf("memory view changed before durability: len = %d", s.Len())
	}
}

func TestByLine(t *testing.T) {
	s := New(nil, WithNow(fixedNow))
	ctx := context.Background()
	for _, p := range []fleet.VehiclePosition{
		position("bus-1", "10", time.Minute),
		position("bus-2", "10", time.Minute),
		position("bus-3", "12", time.Minute),
	} {
		if err := s.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.VehicleID, err)
		}
	}

	if got := len(s.ByLine("10")); got != 2 {
		t.Errorf("ByLine(10) = %d positions, want 2", got)
	}
	if got := len(s.ByLine("99")); got != 0 {
		t.Errorf("ByLine(99) = %d positions, want 0", got)
	}
	if got := len(s.ByLine("")); got != 3 {
		t.Errorf("ByLine(\"\") = %d positions, want 3", got)
	}
	if got := len(s.All()); got != 3 {
		t.Errorf("All() = %d positions, want 3", got)
	}
}

func TestEvictOlderThanCutoff(t *testing.T) {
	fp := &fakePersister{}
	s := New(fp, WithNow(fixedNow))
	ctx := context.Background()

	// 61 minutes old goes, 59 minutes old stays
	stale := position("bus-stale", "10", 61*time.Minute)
	fresh := position("bus-fresh", "10", 59*time.Minute)
	for _, p := range []fleet.VehiclePosition{stale, fresh} {
		if err := s.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	cutoff := fixedNow().Add(-60 * time.Minute)
	removed, err := s.EvictOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := s.ByVehicle("bus-stale"); ok {
		t.Errorf("stale vehicle survived eviction")
	}
	if _, ok := s.ByVehicle("bus-fresh"); !ok {
		t.Errorf("fresh vehicle was evicted")
	}
	if len(fp.deletes) != 1 || len(fp.deletes[0]) != 1 || fp.deletes[0][0] != "bus-stale" {
		t.Errorf("persister deletes = %v, want [[bus-stale]]", fp.deletes)
	}
}

func TestEvictExactCutoffSurvives(t *testing.T) {
	s := New(nil, WithNow(fixedNow))
	ctx := context.Background()
	pos := position("bus-1", "10", 60*time.Minute)
	if err := s.Upsert(ctx, pos); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	removed, err := s.EvictOlderThan(ctx, pos.ObservedAt)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 0 {
		t.Errorf("record exactly at cutoff was evicted")
	}
}

func TestEvictNothingSkipsPersister(t *testing.T) {
	fp := &fakePersister{deleteErr: errors.New("must not be called")}
	s := New(fp, WithNow(fixedNow))

	removed, err := s.EvictOlderThan(context.Background(), fixedNow())
	if err != nil {
		t.Fatalf("evict on empty store: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d on empty store", removed)
	}
}

func TestEvictPersisterFailureKeepsMemory(t *testing.T) {
	fp := &fakePersister{deleteErr: errors.New("connection reset")}
	s := New(fp, WithNow(fixedNow))
	ctx := context.Background()
	if err := s.Upsert(ctx, position("bus-1", "10", 2*time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, err := s.EvictOlderThan(ctx, fixedNow().Add(-time.Hour))
	if err == nil {
		t.Fatalf("evict succeeded despite persister failure")
	}
	if _, ok := s.ByVehicle("bus-1"); !ok {
		t.Errorf("memory dropped the record although durable delete failed")
	}
}

func TestEvictRecheckSparesRefreshedVehicle(t *testing.T) {
	fp := &fakePersister{}
	s := New(fp, WithNow(fixedNow))
	ctx := context.Background()
	if err := s.Upsert(ctx, position("bus-1", "10", 2*time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// simulate a report arriving between victim collection and the write
	// lock by refreshing the vehicle from the persister callback
	refresher := &refreshingPersister{store: nil, fresh: position("bus-1", "10", time.Minute)}
	s2 := New(refresher, WithNow(fixedNow))
	refresher.store = s2
	if err := s2.Upsert(ctx, position("bus-1", "10", 2*time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	refresher.armed = true

	removed, err := s2.EvictOlderThan(ctx, fixedNow().Add(-time.Hour))
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, refreshed vehicle should survive", removed)
	}
	if got, ok := s2.ByVehicle("bus-1"); !ok || !got.ObservedAt.Equal(refresher.fresh.ObservedAt) {
		t.Errorf("refreshed position lost: %+v", got)
	}
}

// refreshingPersister upserts a fresh position into the store during
// DeleteOlderThan, racing the sweep the way a live report would.
type refreshingPersister struct {
	store *Store
	fresh fleet.VehiclePosition
	armed bool
}

func (r *refreshingPersister) Upsert(_ context.Context, _ fleet.VehiclePosition) error { return nil }

func (r *refreshingPersister) DeleteOlderThan(ctx context.Context, _ []string, _ time.Time) error {
	if r.armed {
		r.armed = false
		return r.store.Upsert(ctx, r.fresh)
	}
	return nil
}

func (r *refreshingPersister) LoadAll(_ context.Context) ([]fleet.VehiclePosition, error) {
	return nil, nil
}

func TestWarmLoadsPersistedPositions(t *testing.T) {
	fp := &fakePersister{loaded: []fleet.VehiclePosition{
		position("bus-1", "10", time.Minute),
		position("bus-2", "12", 2*time.Minute),
	}}
	s := New(fp, WithNow(fixedNow))
	if err := s.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("warmed store has %d vehicles, want 2", s.Len())
	}
}
