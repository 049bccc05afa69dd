// Package engine runs the per-user booking dialogue. Each inbound message is
// dispatched to the handler of the session's current step, which returns the
// next step, a session patch and the reply.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/booking"
	"github.com/dennisukpong/transport-booking/internal/metrics"
	"github.com/dennisukpong/transport-booking/internal/models"
	"github.com/dennisukpong/transport-booking/internal/payment"
	"github.com/dennisukpong/transport-booking/internal/reply"
	"github.com/dennisukpong/transport-booking/internal/session"
)

// Catalog is the read side of routes.
type Catalog interface {
	DistinctOrigins(ctx context.Context, activeOnly bool) ([]string, error)
	DistinctDestinations(ctx context.Context, origin string, activeOnly bool) ([]string, error)
	FindRoute(ctx context.Context, origin, destination string, activeOnly bool) (*models.Route, error)
}

// Ledger reads live departures and seat counts.
type Ledger interface {
	ListAvailable(ctx context.Context, routeID int64, from, to time.Time) ([]models.Departure, error)
	GetDeparture(ctx context.Context, id int64) (*models.Departure, error)
}

// Bookings creates bookings and payment links.
type Bookings interface {
	Confirm(ctx context.Context, req booking.Request) (*models.Booking, error)
	RequestPayment(ctx context.Context, reference string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, charge payment.Charge) (*models.Booking, bool, error)
	UserBookings(ctx context.Context, userID string, limit int) ([]models.BookingSummary, error)
}

// Config tunes dialogue limits.
type Config struct {
	Location       *time.Location
	MaxAdvanceDays int
	MaxPassengers  int
	BookingsShown  int
}

// Result is what a transport sends back for one message.
type Result struct {
	Reply string
	Step  session.Step
}

// Notification is an unsolicited message for a user.
type Notification struct {
	UserID string
	Text   string
}

// turn is one inbound message against the session it was received in.
type turn struct {
	sess  *session.Session
	input string
	lower string
}

// outcome is a handler's decision. A zero next keeps the current step.
type outcome struct {
	next  session.Step
	patch session.Patch
	reply string
	reset string // metrics reason when patch.Reset is set
}

type stepHandler interface {
	Handle(ctx context.Context, t *turn) (outcome, error)
}

type stepFunc func(ctx context.Context, t *turn) (outcome, error)

func (f stepFunc) Handle(ctx context.Context, t *turn) (outcome, error) { return f(ctx, t) }

// transitions lists the steps each step may move to besides staying put.
// A reset to welcome is always allowed.
var transitions = map[session.Step][]session.Step{
	session.StepWelcome:            {session.StepAskOrigin},
	session.StepMainMenu:           {session.StepAskOrigin},
	session.StepAskOrigin:          {session.StepAskDestination},
	session.StepAskDestination:     {session.StepAskDate},
	session.StepAskDate:            {session.StepAskDepartureChoice},
	session.StepAskDepartureChoice: {session.StepAskPassengers, session.StepAskDate},
	session.StepAskPassengers:      {session.StepReviewBooking},
	session.StepReviewBooking:      {session.StepAwaitingPayment},
	session.StepAwaitingPayment:    {session.StepMainMenu},
}

func canTransition(from, to session.Step) bool {
	if from == to || to == session.StepWelcome {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Engine struct {
	store    session.Store
	catalog  Catalog
	ledger   Ledger
	bookings Bookings
	reply    *reply.Formatter
	cfg      Config
	logger   *zerolog.Logger

	handlers map[session.Step]stepHandler
	locks    *keyedMutex
	now      func() time.Time
}

func New(store session.Store, catalog Catalog, ledger Ledger, bookings Bookings, f *reply.Formatter, cfg Config, logger *zerolog.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = 90
	}
	if cfg.MaxPassengers <= 0 {
		cfg.MaxPassengers = 10
	}
	if cfg.BookingsShown <= 0 {
		cfg.BookingsShown = 5
	}

	e := &Engine{
		store:    store,
		catalog:  catalog,
		ledger:   ledger,
		bookings: bookings,
		reply:    f,
		cfg:      cfg,
		logger:   logger,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
	e.handlers = map[session.Step]stepHandler{
		session.StepWelcome:            stepFunc(e.handleMenu),
		session.StepMainMenu:           stepFunc(e.handleMenu),
		session.StepAskOrigin:          stepFunc(e.handleOrigin),
		session.StepAskDestination:     stepFunc(e.handleDestination),
		session.StepAskDate:            stepFunc(e.handleDate),
		session.StepAskDepartureChoice: stepFunc(e.handleDepartureChoice),
		session.StepAskPassengers:      stepFunc(e.handlePassengers),
		session.StepReviewBooking:      stepFunc(e.handleReview),
		session.StepAwaitingPayment:    stepFunc(e.handleAwaitingPayment),
	}
	return e
}

// HandleMessage processes one inbound message for userID. Messages of the
// same user are handled one at a time. The returned Result always carries a
// reply, also when err is non-nil.
func (e *Engine) HandleMessage(ctx context.Context, userID, text string) (Result, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	l := e.logger.With().
		Str("request_id", uuid.NewString()).
		Str("user_id", userID).
		Logger()
	ctx = l.WithContext(ctx)

	sess, discarded, err := e.store.GetOrReset(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to load session")
		return Result{Reply: e.reply.Failure(), Step: session.StepWelcome}, err
	}

	var prefix string
	if discarded {
		metrics.IncSessionReset("inactivity")
		prefix = e.reply.SessionExpired() + "\n\n"
	}

	t := &turn{sess: sess, input: strings.TrimSpace(text)}
	t.lower = strings.ToLower(t.input)

	out, err := e.dispatch(ctx, t)
	if err != nil {
		l.Error().Err(err).Str("step", string(sess.Step)).Msg("Step handler failed")
		return Result{Reply: prefix + e.reply.Failure(), Step: sess.Step}, err
	}

	if out.next != "" && out.next != sess.Step {
		if !canTransition(sess.Step, out.next) {
			l.Error().Str("from", string(sess.Step)).Str("to", string(out.next)).Msg("Illegal transition")
			out = e.resetOutcome("illegal_transition", e.reply.StaleSelection())
		} else {
			next := out.next
			out.patch.Step = &next
		}
	}
	if out.patch.Reset && out.reset != "" {
		metrics.IncSessionReset(out.reset)
	}

	updated, err := e.store.Apply(ctx, userID, out.patch)
	if err != nil {
		l.Error().Err(err).Msg("Failed to save session")
		return Result{Reply: e.reply.Failure(), Step: sess.Step}, err
	}

	metrics.IncMessage(string(sess.Step))
	l.Debug().Str("from", string(sess.Step)).Str("to", string(updated.Step)).Msg("Message handled")
	return Result{Reply: prefix + out.reply, Step: updated.Step}, nil
}

// dispatch runs global commands, the consistency check and the step handler,
// mapping domain failures onto resets.
func (e *Engine) dispatch(ctx context.Context, t *turn) (outcome, error) {
	switch t.lower {
	case "menu", "hi", "start", "/start":
		return outcome{patch: session.Patch{Reset: true}, reply: e.reply.Welcome()}, nil
	case "reset", "cancel", "/cancel":
		return e.resetOutcome("command", e.reply.ResetDone()), nil
	}

	if err := t.sess.Validate(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Inconsistent session")
		return e.resetOutcome("inconsistent", e.reply.StaleSelection()), nil
	}

	h, ok := e.handlers[t.sess.Step]
	if !ok {
		return e.resetOutcome("inconsistent", e.reply.StaleSelection()), nil
	}

	out, err := h.Handle(ctx, t)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, models.ErrInsufficientCapacity):
		zerolog.Ctx(ctx).Info().Err(err).Msg("Capacity conflict")
		return e.resetOutcome("sold_out", e.reply.SoldOut()), nil
	case errors.Is(err, session.ErrInconsistent),
		errors.Is(err, models.ErrDepartureNotFound),
		errors.Is(err, models.ErrRouteNotFound),
		errors.Is(err, models.ErrBookingNotFound),
		errors.Is(err, booking.ErrFareChanged):
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Stale dialogue data")
		return e.resetOutcome("inconsistent", e.reply.StaleSelection()), nil
	default:
		return outcome{}, err
	}
}

func (e *Engine) resetOutcome(reason, text string) outcome {
	return outcome{patch: session.Patch{Reset: true}, reply: text, reset: reason}
}

// ConfirmPayment applies a provider confirmation. The owner's session leaves
// awaiting_payment for main_menu. ok is false when the booking was already
// paid, in which case nobody needs notifying again.
func (e *Engine) ConfirmPayment(ctx context.Context, charge payment.Charge) (n Notification, ok bool, err error) {
	reference := charge.Reference
	b, changed, err := e.bookings.ConfirmPayment(ctx, charge)
	if err != nil {
		return Notification{}, false, err
	}
	if !changed {
		return Notification{}, false, nil
	}

	unlock := e.locks.Lock(b.UserID)
	defer unlock()

	sess, err := e.store.Get(ctx, b.UserID)
	if err != nil {
		return Notification{}, false, fmt.Errorf("load session: %w", err)
	}
	if sess.Step == session.StepAwaitingPayment && sess.Context.Payment != nil && sess.Context.Payment.Reference == reference {
		next := session.StepMainMenu
		if _, err := e.store.Apply(ctx, b.UserID, session.Patch{Step: &next, ClearDraft: true}); err != nil {
			return Notification{}, false, fmt.Errorf("advance session: %w", err)
		}
	}

	return Notification{UserID: b.UserID, Text: e.reply.PaymentConfirmed(b)}, true, nil
}

// today is the reference day for date input.
func (e *Engine) today() time.Time {
	return startOfDay(e.now(), e.cfg.Location)
}
