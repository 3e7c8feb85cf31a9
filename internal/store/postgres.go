package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"transit-tracker/internal/fleet"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres via the pgx stdlib driver with pool limits
// suited to the ingest/query load.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Ping verifies the connection with a bounded timeout.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// PGPersister is the Postgres-backed Persister: one row per vehicle,
// keyed by vehicle_id.
type PGPersister struct {
	db        *sql.DB
	statement time.Duration // per-statement timeout
}

// NewPGPersister ensures the vehicle_positions table exists and returns
// the persister.
func NewPGPersister(ctx context.Context, db *sql.DB) (*PGPersister, error) {
	p := &PGPersister{db: db, statement: 5 * time.Second}
	const schema = `
CREATE TABLE IF NOT EXISTS vehicle_positions (
    vehicle_id  TEXT PRIMARY KEY,
    line_id     TEXT NOT NULL,
    trip_id     TEXT NOT NULL DEFAULT '',
    latitude    DOUBLE PRECISION NOT NULL,
    longitude   DOUBLE PRECISION NOT NULL,
    heading     DOUBLE PRECISION,
    speed_kph   DOUBLE PRECISION,
    observed_at TIMESTAMPTZ NOT NULL
)`
	ctx, cancel := context.WithTimeout(ctx, p.statement)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure vehicle_positions schema: %w", err)
	}
	return p, nil
}

// Upsert writes the position, letting the later observed_at win so
// out-of-order delivery cannot regress the persisted row.
func (p *PGPersister) Upsert(ctx context.Context, pos fleet.VehiclePosition) error {
	const q = `
INSERT INTO vehicle_positions
    (vehicle_id, line_id, trip_id, latitude, longitude, heading, speed_kph, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (vehicle_id) DO UPDATE SET
    line_id = EXCLUDED.line_id,
    trip_id = EXCLUDED.trip_id,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    heading = EXCLUDED.heading,
    speed_kph = EXCLUDED.speed_kph,
    observed_at = EXCLUDED.observed_at
WHERE vehicle_positions.observed_at <= EXCLUDED.observed_at`

	ctx, cancel := context.WithTimeout(ctx, p.statement)
	defer cancel()
	_, err := p.db.ExecContext(ctx, q,
		pos.VehicleID, pos.LineID, pos.TripID,
		pos.Latitude, pos.Longitude,
		nullableFloat(pos.Heading), nullableFloat(pos.SpeedKph),
		pos.ObservedAt)
	if err != nil {
		return fmt.Errorf("upsert position for %s: %w", pos.VehicleID, err)
	}
	return nil
}

// DeleteOlderThan removes the given vehicles' rows, but only while their
// persisted fix is still older than cutoff.
func (p *PGPersister) DeleteOlderThan(ctx context.Context, vehicleIDs []string, cutoff time.Time) error {
	const q = `DELETE FROM vehicle_positions WHERE vehicle_id = ANY($1) AND observed_at < $2`
	ctx, cancel := context.WithTimeout(ctx, p.statement)
	defer cancel()
	if _, err := p.db.ExecContext(ctx, q, vehicleIDs, cutoff); err != nil {
		return fmt.Errorf("delete stale positions: %w", err)
	}
	return nil
}

// LoadAll reads every persisted position, for warming the memory view
// at startup.
func (p *PGPersister) LoadAll(ctx context.Context) ([]fleet.VehiclePosition, error) {
	const q = `
SELECT vehicle_id, line_id, trip_id, latitude, longitude, heading, speed_kph, observed_at
FROM vehicle_positions`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []fleet.VehiclePosition
	for rows.Next() {
		var pos fleet.VehiclePosition
		var heading, speed sql.NullFloat64
		if err := rows.Scan(&pos.VehicleID, &pos.LineID, &pos.TripID,
			&pos.Latitude, &pos.Longitude, &heading, &speed, &pos.ObservedAt); err != nil {
			return nil, err
		}
		if heading.Valid {
			h := heading.Float64
			pos.Heading = &h
		}
		if speed.Valid {
			v := speed.Float64
			pos.SpeedKph = &v
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
