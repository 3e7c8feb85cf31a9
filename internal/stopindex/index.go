// Package stopindex answers spatial and topological queries over the
// immutable stop/trip reference graph. The index is built once at
// startup and never mutated, so reads need no locking.
package stopindex

import (
	"sort"

	"transit-tracker/internal/fleet"
	"transit-tracker/internal/geo"
)

// Index is the read-only spatial index over known stops.
type Index struct {
	stops       []fleet.Stop
	byID        map[fleet.StopID]int
	stopsByLine map[string][]int
	trips       map[string]fleet.Trip
	tripsByLine map[string][]string
}

// New builds the index from reference data. The input slices are copied;
// the caller may discard them afterwards.
func New(stops []fleet.Stop, trips []fleet.Trip) *Index {
	idx := &Index{
		stops:       make([]fleet.Stop, len(stops)),
		byID:        make(map[fleet.StopID]int, len(stops)),
		stopsByLine: make(map[string][]int),
		trips:       make(map[string]fleet.Trip, len(trips)),
		tripsByLine: make(map[string][]string),
	}
	copy(idx.stops, stops)
	sort.Slice(idx.stops, func(i, j int) bool { return idx.stops[i].ID.Less(idx.stops[j].ID) })
	for i, s := range idx.stops {
		idx.byID[s.ID] = i
		for _, line := range s.Lines {
			idx.stopsByLine[line] = append(idx.stopsByLine[line], i)
		}
	}
	for _, t := range trips {
		idx.trips[t.TripID] = t
		idx.tripsByLine[t.LineID] = append(idx.tripsByLine[t.LineID], t.TripID)
	}
	return idx
}

// FindByID resolves one stop by its composite key.
func (idx *Index) FindByID(id fleet.StopID) (fleet.Stop, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return fleet.Stop{}, false
	}
	return idx.stops[i], true
}

// StopsForLine returns the stops served by a line, ordered by stop ID.
// An empty lineID returns all stops.
func (idx *Index) StopsForLine(lineID string) []fleet.Stop {
	if lineID == "" {
		out := make([]fleet.Stop, len(idx.stops))
		copy(out, idx.stops)
		return out
	}
	indices := idx.stopsByLine[lineID]
	out := make([]fleet.Stop, 0, len(indices))
	for _, i := range indices {
		out = append(out, idx.stops[i])
	}
	return out
}

// NextStopsForTrip returns the trip's stops in scheduled order. Stops the
// reference data no longer knows are skipped.
func (idx *Index) NextStopsForTrip(tripID string) ([]fleet.Stop, error) {
	trip, ok := idx.trips[tripID]
	if !ok {
		return nil, fleet.ErrTripNotFound
	}
	out := make([]fleet.Stop, 0, len(trip.Stops))
	for _, ts := range trip.Stops {
		if s, ok := idx.FindByID(ts.StopID); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Trip returns the full trip record for tripID.
func (idx *Index) Trip(tripID string) (fleet.Trip, bool) {
	t, ok := idx.trips[tripID]
	return t, ok
}

// TripsForLine returns the IDs of all trips on a line.
func (idx *Index) TripsForLine(lineID string) []string {
	ids := idx.tripsByLine[lineID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// NearestStops returns up to limit stops ordered by great-circle
// distance from the given point, ties broken by stop ID so results are
// deterministic. A non-positive limit yields an empty slice.
func (idx *Index) NearestStops(lat, lon float64, limit int) []fleet.Stop {
	if limit <= 0 {
		return []fleet.Stop{}
	}
	type candidate struct {
		stop fleet.Stop
		dist float64
	}
	cands := make([]candidate, 0, len(idx.stops))
	for _, s := range idx.stops {
		cands = append(cands, candidate{stop: s, dist: geo.DistanceMeters(lat, lon, s.Latitude, s.Longitude)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].stop.ID.Less(cands[j].stop.ID)
	})
	if limit > len(cands) {
		limit = len(cands)
	}
	out := make([]fleet.Stop, 0, limit)
	for _, c := range cands[:limit] {
		out = append(out, c.stop)
	}
	return out
}
