package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/booking"
	"github.com/dennisukpong/transport-booking/internal/models"
	"github.com/dennisukpong/transport-booking/internal/reply"
	"github.com/dennisukpong/transport-booking/internal/session"
)

func stay(text string) outcome {
	return outcome{reply: text}
}

// handleMenu serves welcome and main_menu.
func (e *Engine) handleMenu(ctx context.Context, t *turn) (outcome, error) {
	switch t.lower {
	case "1", "book":
		origins, err := e.catalog.DistinctOrigins(ctx, true)
		if err != nil {
			return outcome{}, fmt.Errorf("list origins: %w", err)
		}
		if len(origins) == 0 {
			return stay(e.reply.NoOrigins()), nil
		}
		return outcome{
			next: session.StepAskOrigin,
			patch: session.Patch{
				ClearDraft: true,
				Context:    &session.Context{Choice: &session.ChoiceContext{Options: origins}},
			},
			reply: e.reply.AskOrigin(origins),
		}, nil

	case "2", "bookings", "my bookings":
		list, err := e.bookings.UserBookings(ctx, t.sess.ID, e.cfg.BookingsShown)
		if err != nil {
			return outcome{}, fmt.Errorf("list bookings: %w", err)
		}
		return stay(e.reply.Bookings(list)), nil

	case "3", "help", "support":
		return stay(e.reply.Help()), nil
	}

	if t.sess.Step == session.StepWelcome {
		return stay(e.reply.Welcome()), nil
	}
	return stay(e.reply.MenuRetry()), nil
}

func (e *Engine) handleOrigin(ctx context.Context, t *turn) (outcome, error) {
	options := t.sess.Context.Choice.Options
	origin, ok := resolveChoice(t.input, options)
	if !ok {
		return stay(e.reply.InvalidChoice(options)), nil
	}

	dests, err := e.catalog.DistinctDestinations(ctx, origin, true)
	if err != nil {
		return outcome{}, fmt.Errorf("list destinations: %w", err)
	}
	if len(dests) == 0 {
		return e.resetOutcome("dead_end", e.reply.NoDestinations(origin)), nil
	}

	return outcome{
		next: session.StepAskDestination,
		patch: session.Patch{
			Draft:   &session.DraftPatch{Origin: &origin},
			Context: &session.Context{Choice: &session.ChoiceContext{Options: dests}},
		},
		reply: e.reply.AskDestination(origin, dests),
	}, nil
}

func (e *Engine) handleDestination(_ context.Context, t *turn) (outcome, error) {
	options := t.sess.Context.Choice.Options
	dest, ok := resolveChoice(t.input, options)
	if !ok {
		return stay(e.reply.InvalidChoice(options)), nil
	}

	return outcome{
		next:  session.StepAskDate,
		patch: session.Patch{Draft: &session.DraftPatch{Destination: &dest}},
		reply: e.reply.AskDate(t.sess.Draft.Origin, dest),
	}, nil
}

func (e *Engine) handleDate(ctx context.Context, t *turn) (outcome, error) {
	today := e.today()
	date, err := parseTravelDate(t.input, today)
	switch {
	case errors.Is(err, ErrPastDate):
		return stay(e.reply.InvalidDate(reply.DatePast, e.cfg.MaxAdvanceDays)), nil
	case err != nil:
		return stay(e.reply.InvalidDate(reply.DateUnreadable, e.cfg.MaxAdvanceDays)), nil
	case date.After(today.AddDate(0, 0, e.cfg.MaxAdvanceDays)):
		return stay(e.reply.InvalidDate(reply.DateTooFar, e.cfg.MaxAdvanceDays)), nil
	}

	d := t.sess.Draft
	deps, err := e.departuresOn(ctx, d.Origin, d.Destination, date)
	if err != nil {
		return outcome{}, err
	}
	day := date.Format(dateLayout)
	if len(deps) == 0 {
		return stay(e.reply.NoDepartures(day)), nil
	}

	return outcome{
		next: session.StepAskDepartureChoice,
		patch: session.Patch{
			Draft:   &session.DraftPatch{TravelDate: &day},
			Context: &session.Context{Departures: &session.DeparturesContext{IDs: departureIDs(deps)}},
		},
		reply: e.reply.Departures("", d.Origin, d.Destination, day, deps),
	}, nil
}

// departuresOn lists bookable departures of a route on a calendar day in the
// operator's time zone, skipping those that already left.
func (e *Engine) departuresOn(ctx context.Context, origin, destination string, date time.Time) ([]models.Departure, error) {
	route, err := e.catalog.FindRoute(ctx, origin, destination, true)
	if err != nil {
		return nil, err
	}

	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, e.cfg.Location)
	to := from.AddDate(0, 0, 1)
	if now := e.now(); now.After(from) {
		from = now
	}
	if !from.Before(to) {
		return nil, nil
	}

	deps, err := e.ledger.ListAvailable(ctx, route.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list departures: %w", err)
	}
	return deps, nil
}

func departureIDs(deps []models.Departure) []int64 {
	ids := make([]int64, len(deps))
	for i, d := range deps {
		ids[i] = d.ID
	}
	return ids
}

func (e *Engine) handleDepartureChoice(ctx context.Context, t *turn) (outcome, error) {
	ids := t.sess.Context.Departures.IDs
	n, ok := parseIndex(t.input, len(ids))
	if !ok {
		return stay(e.reply.InvalidDeparture(len(ids))), nil
	}

	dep, err := e.ledger.GetDeparture(ctx, ids[n-1])
	if err != nil {
		return outcome{}, err
	}

	d := t.sess.Draft
	if !dep.Bookable(1) {
		date, err := time.Parse(dateLayout, d.TravelDate)
		if err != nil {
			return outcome{}, fmt.Errorf("%w: travel date %q", session.ErrInconsistent, d.TravelDate)
		}
		deps, err := e.departuresOn(ctx, d.Origin, d.Destination, date)
		if err != nil {
			return outcome{}, err
		}
		if len(deps) == 0 {
			return outcome{
				next:  session.StepAskDate,
				reply: e.reply.DepartureGone() + "\n\n" + e.reply.NoDepartures(d.TravelDate),
			}, nil
		}
		return outcome{
			patch: session.Patch{Context: &session.Context{Departures: &session.DeparturesContext{IDs: departureIDs(deps)}}},
			reply: e.reply.Departures(e.reply.DepartureGone(), d.Origin, d.Destination, d.TravelDate, deps),
		}, nil
	}

	return outcome{
		next: session.StepAskPassengers,
		patch: session.Patch{Draft: &session.DraftPatch{
			DepartureID: &dep.ID,
			Fare:        &dep.Fare,
		}},
		reply: e.reply.AskPassengers(dep, e.maxPassengers(dep)),
	}, nil
}

func (e *Engine) maxPassengers(dep *models.Departure) int {
	if dep.SeatsRemaining < e.cfg.MaxPassengers {
		return dep.SeatsRemaining
	}
	return e.cfg.MaxPassengers
}

func (e *Engine) handlePassengers(ctx context.Context, t *turn) (outcome, error) {
	d := t.sess.Draft
	dep, err := e.ledger.GetDeparture(ctx, d.DepartureID)
	if err != nil {
		return outcome{}, err
	}
	if dep.Status != models.DepartureScheduled {
		return outcome{}, fmt.Errorf("departure %d is %s: %w", dep.ID, dep.Status, models.ErrDepartureNotFound)
	}
	if dep.SeatsRemaining <= 0 {
		return outcome{}, fmt.Errorf("departure %d: %w", dep.ID, models.ErrInsufficientCapacity)
	}

	limit := e.maxPassengers(dep)
	n, err := strconv.Atoi(t.input)
	if err != nil || n <= 0 || n > limit {
		return stay(e.reply.InvalidPassengers(limit)), nil
	}

	total := dep.Fare * int64(n)
	ref := models.NewReference(e.now())
	return outcome{
		next: session.StepReviewBooking,
		patch: session.Patch{Draft: &session.DraftPatch{
			Fare:       &dep.Fare,
			Passengers: &n,
			Total:      &total,
			Reference:  &ref,
		}},
		reply: e.reply.Review(d.Origin, d.Destination, dep, n, total),
	}, nil
}

func (e *Engine) handleReview(ctx context.Context, t *turn) (outcome, error) {
	switch t.lower {
	case "no", "n":
		return e.resetOutcome("declined", e.reply.BookingAbandoned()), nil
	case "yes", "y", "confirm":
	default:
		return stay(e.reply.ReviewRetry()), nil
	}

	d := t.sess.Draft
	b, err := e.bookings.Confirm(ctx, booking.Request{
		UserID:      t.sess.ID,
		SessionID:   t.sess.ID,
		DepartureID: d.DepartureID,
		Passengers:  d.Passengers,
		Fare:        d.Fare,
		Reference:   d.Reference,
	})
	switch {
	case err == nil:
		return awaitPayment(b, e.reply.PaymentLink(b)), nil
	case errors.Is(err, booking.ErrPaymentSetup) && b != nil:
		return awaitPayment(b, e.reply.PaymentSetupFailed(b)), nil
	case errors.Is(err, models.ErrInsufficientCapacity),
		errors.Is(err, models.ErrDepartureNotFound),
		errors.Is(err, booking.ErrFareChanged):
		return outcome{}, err
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("Booking confirmation failed")
		return e.resetOutcome("booking_failed", e.reply.Failure()), nil
	}
}

func awaitPayment(b *models.Booking, text string) outcome {
	return outcome{
		next: session.StepAwaitingPayment,
		patch: session.Patch{
			ClearDraft: true,
			Context: &session.Context{Payment: &session.PaymentContext{
				Reference:        b.Reference,
				AuthorizationURL: b.AuthorizationURL,
			}},
		},
		reply: text,
	}
}

func (e *Engine) handleAwaitingPayment(ctx context.Context, t *turn) (outcome, error) {
	pc := t.sess.Context.Payment

	switch t.lower {
	case "pay":
		b, err := e.bookings.RequestPayment(ctx, pc.Reference)
		switch {
		case errors.Is(err, booking.ErrPaymentSetup) && b != nil:
			return stay(e.reply.PaymentSetupFailed(b)), nil
		case err != nil:
			return outcome{}, err
		case b.IsPaid():
			return outcome{
				next:  session.StepMainMenu,
				reply: e.reply.PaymentConfirmed(b),
			}, nil
		}
		return outcome{
			patch: session.Patch{Context: &session.Context{Payment: &session.PaymentContext{
				Reference:        b.Reference,
				AuthorizationURL: b.AuthorizationURL,
			}}},
			reply: e.reply.PaymentLink(b),
		}, nil

	case "help", "support":
		return stay(e.reply.Help()), nil
	}

	return stay(e.reply.AwaitingPayment(pc.Reference, pc.AuthorizationURL)), nil
}
