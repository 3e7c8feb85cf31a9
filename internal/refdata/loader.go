// Package refdata loads the immutable stop and trip reference graph
// from an imported transit database. Loading happens once at startup;
// no queries in this package run during request handling.
package refdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"transit-tracker/internal/fleet"
)

// Graph is the fully built reference data handed to the stop index.
type Graph struct {
	Stops []fleet.Stop
	Trips []fleet.Trip
}

// Load reads stops and trips in one pass.
func Load(ctx context.Context, db *sql.DB) (*Graph, error) {
	stops, err := LoadStops(ctx, db)
	if err != nil {
		return nil, err
	}
	trips, err := LoadTrips(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Graph{Stops: stops, Trips: trips}, nil
}

// LoadStops reads the stop table together with the lines serving each
// stop. Supports both plain lat/lon columns and a PostGIS stop_loc
// geography column, whichever the importer produced.
func LoadStops(ctx context.Context, db *sql.DB) ([]fleet.Stop, error) {
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "latitude", "longitude")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	var q string
	if latlonExists["latitude"] && latlonExists["longitude"] {
		q = `SELECT s.primary_nr, s.sub_nr, s.name, s.latitude, s.longitude,
                    COALESCE(string_agg(DISTINCT ls.line_id, ',' ORDER BY ls.line_id), '')
             FROM stops s
             LEFT JOIN line_stops ls ON ls.primary_nr = s.primary_nr AND ls.sub_nr = s.sub_nr
             GROUP BY s.primary_nr, s.sub_nr, s.name, s.latitude, s.longitude
             ORDER BY s.primary_nr, s.sub_nr`
	} else {
		locExists, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect stops stop_loc: %w", err)
		}
		if !locExists["stop_loc"] {
			return nil, fmt.Errorf("stops table missing expected columns (latitude/longitude or stop_loc)")
		}
		q = `SELECT s.primary_nr, s.sub_nr, s.name,
                    COALESCE(ST_Y(s.stop_loc::geometry), 0),
                    COALESCE(ST_X(s.stop_loc::geometry), 0),
                    COALESCE(string_agg(DISTINCT ls.line_id, ',' ORDER BY ls.line_id), '')
             FROM stops s
             LEFT JOIN line_stops ls ON ls.primary_nr = s.primary_nr AND ls.sub_nr = s.sub_nr
             GROUP BY s.primary_nr, s.sub_nr, s.name, s.stop_loc
             ORDER BY s.primary_nr, s.sub_nr`
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	var stops []fleet.Stop
	for rows.Next() {
		var s fleet.Stop
		var lines string
		if err := rows.Scan(&s.ID.Primary, &s.ID.Sub, &s.Name, &s.Latitude, &s.Longitude, &lines); err != nil {
			return nil, err
		}
		if lines != "" {
			s.Lines = strings.Split(lines, ",")
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// LoadTrips reads every trip with its ordered stop sequence and
// scheduled offsets from trip start.
func LoadTrips(ctx context.Context, db *sql.DB) ([]fleet.Trip, error) {
	const q = `
SELECT t.trip_id, t.line_id, ts.primary_nr, ts.sub_nr, ts.scheduled_offset_sec
FROM trips t
JOIN trip_stops ts ON ts.trip_id = t.trip_id
ORDER BY t.trip_id, ts.stop_sequence`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []fleet.Trip
	var cur *fleet.Trip
	for rows.Next() {
		var tripID, lineID string
		var ts fleet.TripStop
		if err := rows.Scan(&tripID, &lineID, &ts.StopID.Primary, &ts.StopID.Sub, &ts.ScheduledOffsetSec); err != nil {
			return nil, err
		}
		if cur == nil || cur.TripID != tripID {
			trips = append(trips, fleet.Trip{TripID: tripID, LineID: lineID})
			cur = &trips[len(trips)-1]
		}
		cur.Stops = append(cur.Stops, ts)
	}
	return trips, rows.Err()
}

// hasColumns returns a map of requested column names to existence for
// the given table.
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
