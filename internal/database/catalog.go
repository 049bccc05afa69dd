package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dennisukpong/transport-booking/internal/config"
	"github.com/dennisukpong/transport-booking/internal/models"
)

// DistinctOrigins returns the sorted set of route origins.
func (db *DB) DistinctOrigins(ctx context.Context, activeOnly bool) ([]string, error) {
	return db.queryStrings(ctx, `
		SELECT DISTINCT origin FROM routes
		WHERE (? = 0 OR is_active = 1)
		ORDER BY origin`,
		activeOnly,
	)
}

// DistinctDestinations returns the sorted destinations reachable from origin.
func (db *DB) DistinctDestinations(ctx context.Context, origin string, activeOnly bool) ([]string, error) {
	return db.queryStrings(ctx, `
		SELECT DISTINCT destination FROM routes
		WHERE origin = ? AND (? = 0 OR is_active = 1)
		ORDER BY destination`,
		origin, activeOnly,
	)
}

// FindRoute returns the route for an origin/destination pair.
func (db *DB) FindRoute(ctx context.Context, origin, destination string, activeOnly bool) (*models.Route, error) {
	var r models.Route
	err := db.QueryRowContext(ctx, `
		SELECT id, origin, destination, is_active FROM routes
		WHERE origin = ? AND destination = ? AND (? = 0 OR is_active = 1)`,
		origin, destination, activeOnly,
	).Scan(&r.ID, &r.Origin, &r.Destination, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s to %s: %w", origin, destination, models.ErrRouteNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SyncCatalog applies catalog.yaml to the database. Routes and vehicles are
// upserted and routes missing from the file are deactivated. Departures are
// inserted with a full seat count; existing departures keep their
// seats_remaining so a reload never hands back sold seats.
func (db *DB) SyncCatalog(ctx context.Context, cfg *config.CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("catalog config is nil")
	}

	now := time.Now().UTC()
	seen := make(map[int64]struct{}, len(cfg.Routes))

	for _, r := range cfg.Routes {
		_, err := db.ExecContext(ctx, `
			INSERT INTO routes (id, origin, destination, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				origin = excluded.origin,
				destination = excluded.destination,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			r.ID, r.Origin, r.Destination, r.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync route %d: %w", r.ID, err)
		}
		seen[r.ID] = struct{}{}
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM routes WHERE is_active = 1`)
	if err != nil {
		return err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := db.ExecContext(ctx, `UPDATE routes SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("deactivate route %d: %w", id, err)
		}
	}

	for _, v := range cfg.Vehicles {
		_, err := db.ExecContext(ctx, `
			INSERT INTO vehicles (id, label, capacity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				label = excluded.label,
				capacity = excluded.capacity,
				updated_at = excluded.updated_at`,
			v.ID, v.Label, v.Capacity, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync vehicle %d: %w", v.ID, err)
		}
	}

	for _, d := range cfg.Departures {
		_, err := db.ExecContext(ctx, `
			INSERT INTO departures (id, route_id, vehicle_id, departs_at, fare, seats_total, seats_remaining, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				departs_at = excluded.departs_at,
				fare = excluded.fare,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			d.ID, d.RouteID, d.VehicleID, d.DepartureTime(), d.Fare, d.Seats, d.Seats, d.Status, now, now,
		)
		if err != nil {
			return fmt.Errorf("sync departure %d: %w", d.ID, err)
		}
	}

	db.logger.Info().
		Int("routes", len(cfg.Routes)).
		Int("vehicles", len(cfg.Vehicles)).
		Int("departures", len(cfg.Departures)).
		Int("deactivated_routes", len(stale)).
		Msg("Catalog synced")
	return nil
}
