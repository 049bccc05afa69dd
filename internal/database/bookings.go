package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dennisukpong/transport-booking/internal/models"
)

const bookingColumns = `b.id, b.reference, b.user_id, b.session_id, b.departure_id, b.passengers,
	b.total_amount, b.currency, b.status, b.payment_status, b.payment_reference,
	b.authorization_url, b.created_at, b.updated_at`

// CreateBooking inserts a booking. A clash on the reference is reported as
// models.ErrDuplicateReference so the caller can retry with a fresh one.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = models.BookingPending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentPending
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO bookings (reference, user_id, session_id, departure_id, passengers,
			total_amount, currency, status, payment_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Reference, b.UserID, b.SessionID, b.DepartureID, b.Passengers,
		b.TotalAmount, b.Currency, b.Status, b.PaymentStatus, b.CreatedAt.UTC(), b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", b.Reference, models.ErrDuplicateReference)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

// GetBookingByReference looks a booking up by its shareable reference.
func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings b WHERE b.reference = ?`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", reference, models.ErrBookingNotFound)
	}
	return b, err
}

// SetPaymentLink records the provider reference and checkout URL. The first
// link wins; later calls leave the stored one untouched and return it.
func (db *DB) SetPaymentLink(ctx context.Context, reference, paymentRef, url string) (*models.Booking, error) {
	_, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET payment_reference = ?, authorization_url = ?, updated_at = ?
		WHERE reference = ? AND (payment_reference IS NULL OR payment_reference = '')`,
		paymentRef, url, time.Now().UTC(), reference,
	)
	if err != nil {
		return nil, fmt.Errorf("set payment link: %w", err)
	}
	return db.GetBookingByReference(ctx, reference)
}

// MarkPaid flips a pending booking to paid and confirmed. changed is false
// when the booking had already been marked paid.
func (db *DB) MarkPaid(ctx context.Context, reference string) (b *models.Booking, changed bool, err error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET payment_status = ?, status = ?, updated_at = ?
		WHERE reference = ? AND payment_status = ?`,
		models.PaymentPaid, models.BookingConfirmed, time.Now().UTC(), reference, models.PaymentPending,
	)
	if err != nil {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	b, err = db.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	return b, n > 0, nil
}

// ListUserBookings returns the most recent bookings of a user with trip
// details, newest first.
func (db *DB) ListUserBookings(ctx context.Context, userID string, limit int) ([]models.BookingSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	return db.querySummaries(ctx, `
		WHERE b.user_id = ?
		ORDER BY b.created_at DESC, b.id DESC
		LIMIT ?`,
		userID, limit,
	)
}

// ListBookingsBetween returns bookings created in [from, to) for reporting.
func (db *DB) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.BookingSummary, error) {
	return db.querySummaries(ctx, `
		WHERE b.created_at >= ? AND b.created_at < ?
		ORDER BY b.created_at, b.id`,
		from.UTC(), to.UTC(),
	)
}

func (db *DB) querySummaries(ctx context.Context, where string, args ...interface{}) ([]models.BookingSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`, r.origin, r.destination, d.departs_at, v.label
		FROM bookings b
		JOIN departures d ON d.id = b.departure_id
		JOIN routes r ON r.id = d.route_id
		JOIN vehicles v ON v.id = d.vehicle_id
		`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BookingSummary
	for rows.Next() {
		var (
			s       models.BookingSummary
			payRef  sql.NullString
			authURL sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &s.Reference, &s.UserID, &s.SessionID, &s.DepartureID, &s.Passengers,
			&s.TotalAmount, &s.Currency, &s.Status, &s.PaymentStatus, &payRef,
			&authURL, &s.CreatedAt, &s.UpdatedAt,
			&s.Origin, &s.Destination, &s.DepartsAt, &s.VehicleLabel,
		); err != nil {
			return nil, err
		}
		s.PaymentReference = payRef.String
		s.AuthorizationURL = authURL.String
		s.DepartsAt = s.DepartsAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b       models.Booking
		payRef  sql.NullString
		authURL sql.NullString
	)
	if err := row.Scan(
		&b.ID, &b.Reference, &b.UserID, &b.SessionID, &b.DepartureID, &b.Passengers,
		&b.TotalAmount, &b.Currency, &b.Status, &b.PaymentStatus, &payRef,
		&authURL, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.PaymentReference = payRef.String
	b.AuthorizationURL = authURL.String
	return &b, nil
}
