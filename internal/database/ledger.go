package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dennisukpong/transport-booking/internal/models"
)

const departureSelect = `
	SELECT d.id, d.route_id, d.vehicle_id, v.label, d.departs_at, d.fare,
		d.seats_total, d.seats_remaining, d.status
	FROM departures d
	JOIN vehicles v ON v.id = d.vehicle_id`

// ListAvailable returns scheduled departures on a route inside [from, to)
// that still have at least one seat, earliest first.
func (db *DB) ListAvailable(ctx context.Context, routeID int64, from, to time.Time) ([]models.Departure, error) {
	rows, err := db.QueryContext(ctx, departureSelect+`
		WHERE d.route_id = ?
			AND d.status = ?
			AND d.seats_remaining > 0
			AND d.departs_at >= ? AND d.departs_at < ?
		ORDER BY d.departs_at, d.id`,
		routeID, models.DepartureScheduled, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Departure
	for rows.Next() {
		d, err := scanDeparture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// GetDeparture re-reads a departure and its current seat count.
func (db *DB) GetDeparture(ctx context.Context, id int64) (*models.Departure, error) {
	d, err := scanDeparture(db.QueryRowContext(ctx, departureSelect+` WHERE d.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("departure %d: %w", id, models.ErrDepartureNotFound)
	}
	return d, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeparture(row rowScanner) (*models.Departure, error) {
	var d models.Departure
	if err := row.Scan(
		&d.ID, &d.RouteID, &d.VehicleID, &d.VehicleLabel, &d.DepartsAt, &d.Fare,
		&d.SeatsTotal, &d.SeatsRemaining, &d.Status,
	); err != nil {
		return nil, err
	}
	d.DepartsAt = d.DepartsAt.UTC()
	return &d, nil
}

// TryReserve takes count seats from a scheduled departure. The check and the
// decrement are one statement, so two callers can never both succeed against
// the same last seats.
func (db *DB) TryReserve(ctx context.Context, departureID int64, count int) error {
	if count <= 0 {
		return fmt.Errorf("invalid seat count %d", count)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE departures
		SET seats_remaining = seats_remaining - ?, updated_at = ?
		WHERE id = ? AND status = ? AND seats_remaining >= ?`,
		count, time.Now().UTC(), departureID, models.DepartureScheduled, count,
	)
	if err != nil {
		return fmt.Errorf("reserve seats: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = db.QueryRowContext(ctx, `SELECT status FROM departures WHERE id = ?`, departureID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("departure %d: %w", departureID, models.ErrDepartureNotFound)
	}
	if err != nil {
		return err
	}
	if status != models.DepartureScheduled {
		return fmt.Errorf("departure %d is %s: %w", departureID, status, models.ErrDepartureNotFound)
	}
	return fmt.Errorf("departure %d: %w", departureID, models.ErrInsufficientCapacity)
}

// Release gives back seats taken by TryReserve when the booking that needed
// them could not be written. It never raises the count above seats_total.
func (db *DB) Release(ctx context.Context, departureID int64, count int) error {
	if count <= 0 {
		return nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE departures
		SET seats_remaining = MIN(seats_total, seats_remaining + ?), updated_at = ?
		WHERE id = ?`,
		count, time.Now().UTC(), departureID,
	)
	if err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("departure %d: %w", departureID, models.ErrDepartureNotFound)
	}
	return nil
}
