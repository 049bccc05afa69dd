// Package booking turns a reviewed itinerary into a booking record and a
// payment link.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/events"
	"github.com/dennisukpong/transport-booking/internal/metrics"
	"github.com/dennisukpong/transport-booking/internal/models"
	"github.com/dennisukpong/transport-booking/internal/payment"
)

var (
	// ErrPaymentSetup means the booking exists but no payment link could be
	// obtained. The caller may retry with RequestPayment.
	ErrPaymentSetup = errors.New("payment setup failed")
	// ErrFareChanged means the departure's fare differs from the quoted one.
	ErrFareChanged = errors.New("fare changed since quote")
	// ErrChargeMismatch means a charge does not pay the booking's total.
	ErrChargeMismatch = errors.New("charge does not match booking total")
)

const maxReferenceAttempts = 3

// Repository is the slice of the database the service needs.
type Repository interface {
	GetDeparture(ctx context.Context, id int64) (*models.Departure, error)
	TryReserve(ctx context.Context, departureID int64, count int) error
	Release(ctx context.Context, departureID int64, count int) error
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	SetPaymentLink(ctx context.Context, reference, paymentRef, url string) (*models.Booking, error)
	MarkPaid(ctx context.Context, reference string) (*models.Booking, bool, error)
	ListUserBookings(ctx context.Context, userID string, limit int) ([]models.BookingSummary, error)
}

// EventPublisher receives booking lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Config holds the payment parameters of a booking.
type Config struct {
	Currency            string
	CallbackURL         string
	CustomerEmailDomain string
	PaymentTimeout      time.Duration
}

// Request is a reviewed itinerary ready to be booked.
type Request struct {
	UserID      string
	SessionID   string
	DepartureID int64
	Passengers  int
	Fare        int64
	// Reference, when set, makes Confirm idempotent: a booking already
	// written under it for the same user is returned instead of a new one.
	Reference string
}

type Service struct {
	repo    Repository
	gateway payment.Gateway
	events  EventPublisher
	cfg     Config
	logger  *zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, gateway payment.Gateway, bus EventPublisher, cfg Config, logger *zerolog.Logger) *Service {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "NGN"
	}
	return &Service{
		repo:    repo,
		gateway: gateway,
		events:  bus,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Confirm reserves seats, writes the booking and asks for a payment link.
//
// Seats are taken with a single conditional decrement. If the booking row
// cannot be written the seats are given back. A payment failure keeps both
// the seats and the booking and is reported as ErrPaymentSetup together with
// the booking, so the caller can offer a retry.
func (s *Service) Confirm(ctx context.Context, req Request) (*models.Booking, error) {
	if req.Passengers <= 0 {
		return nil, fmt.Errorf("invalid passenger count %d", req.Passengers)
	}
	log := s.log(ctx).With().
		Str("user_id", req.UserID).
		Int64("departure_id", req.DepartureID).
		Int("passengers", req.Passengers).
		Logger()

	if req.Reference != "" {
		prev, err := s.repo.GetBookingByReference(ctx, req.Reference)
		switch {
		case err == nil && prev.UserID == req.UserID:
			log.Info().Str("reference", prev.Reference).Msg("Booking already confirmed")
			return s.issuePayment(ctx, prev)
		case err == nil:
			metrics.IncBookingAttempt("failed")
			return nil, fmt.Errorf("%s belongs to another user: %w", req.Reference, models.ErrDuplicateReference)
		case !errors.Is(err, models.ErrBookingNotFound):
			metrics.IncBookingAttempt("failed")
			return nil, err
		}
	}

	dep, err := s.repo.GetDeparture(ctx, req.DepartureID)
	if err != nil {
		metrics.IncBookingAttempt("failed")
		return nil, err
	}
	if req.Fare != 0 && dep.Fare != req.Fare {
		metrics.IncBookingAttempt("failed")
		return nil, fmt.Errorf("departure %d: quoted %d, now %d: %w", dep.ID, req.Fare, dep.Fare, ErrFareChanged)
	}
	if dep.Status != models.DepartureScheduled {
		metrics.IncBookingAttempt("failed")
		return nil, fmt.Errorf("departure %d is %s: %w", dep.ID, dep.Status, models.ErrDepartureNotFound)
	}
	if !dep.Bookable(req.Passengers) {
		metrics.IncBookingAttempt("sold_out")
		return nil, fmt.Errorf("departure %d has %d seats: %w", dep.ID, dep.SeatsRemaining, models.ErrInsufficientCapacity)
	}

	if err := s.repo.TryReserve(ctx, dep.ID, req.Passengers); err != nil {
		if errors.Is(err, models.ErrInsufficientCapacity) {
			metrics.IncBookingAttempt("sold_out")
		} else {
			metrics.IncBookingAttempt("failed")
		}
		return nil, err
	}
	metrics.AddSeatsReserved(req.Passengers)

	b, err := s.createBooking(ctx, req, dep)
	if err != nil {
		if relErr := s.repo.Release(context.WithoutCancel(ctx), dep.ID, req.Passengers); relErr != nil {
			log.Error().Err(relErr).Msg("Failed to release seats after booking insert failure")
		}
		metrics.IncBookingAttempt("failed")
		return nil, fmt.Errorf("create booking: %w", err)
	}
	metrics.IncBookingAttempt("success")
	log.Info().Str("reference", b.Reference).Int64("total", b.TotalAmount).Msg("Booking created")

	if err := s.events.PublishJSON(events.BookingCreated, b); err != nil {
		log.Warn().Err(err).Msg("Failed to publish booking event")
	}

	return s.issuePayment(ctx, b)
}

// createBooking writes the booking row. A caller-chosen reference is tried
// once; generated ones are retried on collision.
func (s *Service) createBooking(ctx context.Context, req Request, dep *models.Departure) (*models.Booking, error) {
	attempts := maxReferenceAttempts
	if req.Reference != "" {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ref := req.Reference
		if ref == "" {
			ref = models.NewReference(s.now())
		}
		b := &models.Booking{
			Reference:     ref,
			UserID:        req.UserID,
			SessionID:     req.SessionID,
			DepartureID:   dep.ID,
			Passengers:    req.Passengers,
			TotalAmount:   dep.Fare * int64(req.Passengers),
			Currency:      s.cfg.Currency,
			Status:        models.BookingPending,
			PaymentStatus: models.PaymentPending,
			CreatedAt:     s.now().UTC(),
		}
		err := s.repo.CreateBooking(ctx, b)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, models.ErrDuplicateReference) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// RequestPayment obtains the payment link for an existing booking. A link is
// requested from the provider at most once; later calls return the stored one.
func (s *Service) RequestPayment(ctx context.Context, reference string) (*models.Booking, error) {
	b, err := s.repo.GetBookingByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.issuePayment(ctx, b)
}

func (s *Service) issuePayment(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.PaymentIssued() || b.IsPaid() {
		return b, nil
	}
	log := s.log(ctx).With().Str("reference", b.Reference).Logger()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	resp, err := s.gateway.Initialize(callCtx, payment.InitRequest{
		Amount:      b.TotalAmount,
		Currency:    b.Currency,
		Reference:   b.Reference,
		Email:       payment.CustomerEmail(b.UserID, s.cfg.CustomerEmailDomain),
		CallbackURL: s.cfg.CallbackURL,
		Metadata: map[string]any{
			"user_id":      b.UserID,
			"departure_id": b.DepartureID,
			"passengers":   b.Passengers,
		},
	})
	if err != nil {
		metrics.IncPaymentLink("failed")
		log.Warn().Err(err).Msg("Payment link request failed")
		return b, fmt.Errorf("%w: %v", ErrPaymentSetup, err)
	}

	updated, err := s.repo.SetPaymentLink(ctx, b.Reference, resp.Reference, resp.AuthorizationURL)
	if err != nil {
		metrics.IncPaymentLink("failed")
		log.Error().Err(err).Msg("Failed to store payment link")
		return b, fmt.Errorf("%w: %v", ErrPaymentSetup, err)
	}
	metrics.IncPaymentLink("issued")
	log.Info().Msg("Payment link issued")

	if err := s.events.PublishJSON(events.PaymentLinkIssued, updated); err != nil {
		log.Warn().Err(err).Msg("Failed to publish payment link event")
	}
	return updated, nil
}

// ConfirmPayment marks the booking paid once the charge is found to cover
// its total in its currency. changed is false for repeats.
func (s *Service) ConfirmPayment(ctx context.Context, charge payment.Charge) (*models.Booking, bool, error) {
	b, err := s.repo.GetBookingByReference(ctx, charge.Reference)
	if err != nil {
		return nil, false, err
	}
	if !charge.Matches(b.TotalAmount, b.Currency) {
		s.log(ctx).Warn().
			Str("reference", charge.Reference).
			Int64("charged", charge.Amount).
			Str("charged_currency", charge.Currency).
			Int64("expected", payment.MinorUnits(b.TotalAmount)).
			Str("currency", b.Currency).
			Msg("Payment amount mismatch")
		return b, false, fmt.Errorf("%s: charged %d %s, expected %d %s: %w",
			charge.Reference, charge.Amount, charge.Currency, payment.MinorUnits(b.TotalAmount), b.Currency, ErrChargeMismatch)
	}

	b, changed, err := s.repo.MarkPaid(ctx, charge.Reference)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return b, false, nil
	}

	metrics.IncPaymentConfirmed()
	s.log(ctx).Info().Str("reference", charge.Reference).Str("user_id", b.UserID).Msg("Payment confirmed")
	if err := s.events.PublishJSON(events.PaymentConfirmed, b); err != nil {
		s.log(ctx).Warn().Err(err).Msg("Failed to publish payment event")
	}
	return b, true, nil
}

// UserBookings lists the latest bookings of a user.
func (s *Service) UserBookings(ctx context.Context, userID string, limit int) ([]models.BookingSummary, error) {
	return s.repo.ListUserBookings(ctx, userID, limit)
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.logger
}
