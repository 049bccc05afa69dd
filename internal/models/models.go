package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Departure lifecycle statuses.
const (
	DepartureScheduled = "scheduled"
	DepartureDeparted  = "departed"
	DepartureCancelled = "cancelled"
)

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingFailed    = "failed"
)

// Payment statuses.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
)

var (
	ErrRouteNotFound        = errors.New("route not found")
	ErrDepartureNotFound    = errors.New("departure not found")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrDuplicateReference   = errors.New("duplicate booking reference")
)

// Route is a bookable origin/destination pair from the catalog.
type Route struct {
	ID          int64  `json:"id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	IsActive    bool   `json:"is_active"`
}

// Vehicle carries passengers on a departure.
type Vehicle struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
}

// Departure is one scheduled trip with a finite seat count.
type Departure struct {
	ID             int64     `json:"id"`
	RouteID        int64     `json:"route_id"`
	VehicleID      int64     `json:"vehicle_id"`
	VehicleLabel   string    `json:"vehicle_label"`
	DepartsAt      time.Time `json:"departs_at"`
	Fare           int64     `json:"fare"`
	SeatsTotal     int       `json:"seats_total"`
	SeatsRemaining int       `json:"seats_remaining"`
	Status         string    `json:"status"`
}

// Bookable reports whether the departure can still take n passengers.
func (d *Departure) Bookable(n int) bool {
	return d.Status == DepartureScheduled && n > 0 && d.SeatsRemaining >= n
}

// Booking is the durable record created once seats have been reserved.
type Booking struct {
	ID               int64     `json:"id"`
	Reference        string    `json:"reference"`
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	DepartureID      int64     `json:"departure_id"`
	Passengers       int       `json:"passengers"`
	TotalAmount      int64     `json:"total_amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	AuthorizationURL string    `json:"authorization_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PaymentIssued reports whether a payment link has already been obtained.
func (b *Booking) PaymentIssued() bool {
	return b.PaymentReference != ""
}

// IsPaid reports whether the provider confirmed the payment.
func (b *Booking) IsPaid() bool {
	return b.PaymentStatus == PaymentPaid
}

// NewReference generates a human-shareable booking code like TRP-20250611-3F9A1C0B.
func NewReference(now time.Time) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("TRP-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(id[:8]))
}

// BookingSummary is a booking joined with its trip details for display.
type BookingSummary struct {
	Booking
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	DepartsAt    time.Time `json:"departs_at"`
	VehicleLabel string    `json:"vehicle_label"`
}
