// Package reply renders the text the bot sends back. Output is plain text
// with *bold* markers and nothing downstream parses it.
package reply

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dennisukpong/transport-booking/internal/models"
)

// Formatter renders replies in the operator's currency and time zone.
type Formatter struct {
	loc      *time.Location
	currency string
	support  string
}

func NewFormatter(loc *time.Location, currency, support string) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	if currency == "" {
		currency = "NGN"
	}
	return &Formatter{loc: loc, currency: currency, support: support}
}

// Money formats a whole-unit amount, e.g. ₦20,000.
func (f *Formatter) Money(amount int64) string {
	return moneyIn(f.currency, amount)
}

func moneyIn(currency string, amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	switch strings.ToUpper(currency) {
	case "NGN":
		return sign + "₦" + b.String()
	case "USD":
		return sign + "$" + b.String()
	default:
		return sign + strings.ToUpper(currency) + " " + b.String()
	}
}

func (f *Formatter) clock(t time.Time) string {
	return t.In(f.loc).Format("15:04")
}

func (f *Formatter) day(t time.Time) string {
	return t.In(f.loc).Format("Mon 2 Jan 2006")
}

// travelDay renders a stored YYYY-MM-DD travel date.
func travelDay(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Mon 2 Jan 2006")
}

func numbered(b *strings.Builder, options []string) {
	for i, o := range options {
		fmt.Fprintf(b, "%d. %s\n", i+1, o)
	}
}

const menuBody = "1. Book a trip\n2. My bookings\n3. Help"

func (f *Formatter) Welcome() string {
	return "👋 Welcome! What would you like to do?\n\n" + menuBody
}

func (f *Formatter) Menu() string {
	return "What would you like to do next?\n\n" + menuBody
}

func (f *Formatter) MenuRetry() string {
	return "Sorry, I didn't get that. Reply with a number:\n\n" + menuBody
}

func (f *Formatter) ResetDone() string {
	return "🔄 Okay, I've cleared that. Let's start again.\n\n" + menuBody
}

func (f *Formatter) SessionExpired() string {
	return "⌛ Your previous booking timed out, so I've started a fresh one."
}

func (f *Formatter) Help() string {
	var b strings.Builder
	b.WriteString("ℹ️ *Help*\n")
	b.WriteString("Reply *menu* at any time to see the options, or *cancel* to start over.")
	if f.support != "" {
		fmt.Fprintf(&b, "\nNeed a person? Contact %s.", f.support)
	}
	return b.String()
}

func (f *Formatter) NoOrigins() string {
	return "😔 There are no trips available right now. Please check back later.\n\n" + menuBody
}

func (f *Formatter) AskOrigin(options []string) string {
	var b strings.Builder
	b.WriteString("🚌 Where are you travelling *from*?\n\n")
	numbered(&b, options)
	b.WriteString("\nReply with the number or the name.")
	return b.String()
}

func (f *Formatter) AskDestination(origin string, options []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From *%s*. Where are you going?\n\n", origin)
	numbered(&b, options)
	b.WriteString("\nReply with the number or the name.")
	return b.String()
}

func (f *Formatter) InvalidChoice(options []string) string {
	var b strings.Builder
	b.WriteString("I couldn't match that to an option. Please choose one of:\n\n")
	numbered(&b, options)
	return b.String()
}

func (f *Formatter) NoDestinations(origin string) string {
	return fmt.Sprintf("😔 There are no routes from *%s* at the moment.\n\n%s", origin, menuBody)
}

func (f *Formatter) AskDate(origin, destination string) string {
	return fmt.Sprintf("*%s → %s*. What date do you want to travel?\n"+
		"You can say *today*, *tomorrow*, *next friday* or a date like 2025-06-11.", origin, destination)
}

// DateProblem is why a travel date was rejected.
type DateProblem int

const (
	DateUnreadable DateProblem = iota
	DatePast
	DateTooFar
)

func (f *Formatter) InvalidDate(problem DateProblem, maxAdvanceDays int) string {
	switch problem {
	case DatePast:
		return "That date has already passed. Please pick today or a later date."
	case DateTooFar:
		return fmt.Sprintf("We only sell tickets up to %d days ahead. Please pick an earlier date.", maxAdvanceDays)
	default:
		return "I couldn't read that date. Try *tomorrow*, *next monday* or YYYY-MM-DD."
	}
}

func (f *Formatter) NoDepartures(date string) string {
	return fmt.Sprintf("😔 No departures with free seats on %s. Please try another date.", travelDay(date))
}

// Departures lists departures for selection. notice, if set, is shown first.
func (f *Formatter) Departures(notice, origin, destination, date string, deps []models.Departure) string {
	var b strings.Builder
	if notice != "" {
		b.WriteString(notice)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "🗓 *%s → %s*, %s\n\n", origin, destination, travelDay(date))
	for i, d := range deps {
		fmt.Fprintf(&b, "%d. %s %s · %s · %d seats left\n",
			i+1, f.clock(d.DepartsAt), d.VehicleLabel, f.Money(d.Fare), d.SeatsRemaining)
	}
	b.WriteString("\nReply with the number of the departure.")
	return b.String()
}

func (f *Formatter) InvalidDeparture(count int) string {
	if count == 1 {
		return "Please reply *1* to choose that departure."
	}
	return fmt.Sprintf("Please reply with a number from 1 to %d.", count)
}

func (f *Formatter) DepartureGone() string {
	return "That departure is no longer available. Here is the updated list."
}

func (f *Formatter) AskPassengers(d *models.Departure, max int) string {
	return fmt.Sprintf("%s departure at %s, %s per seat.\nHow many passengers? (1-%d)",
		d.VehicleLabel, f.clock(d.DepartsAt), f.Money(d.Fare), max)
}

func (f *Formatter) InvalidPassengers(max int) string {
	return fmt.Sprintf("Please reply with a whole number from 1 to %d.", max)
}

// Review summarizes the itinerary before the user commits.
func (f *Formatter) Review(origin, destination string, d *models.Departure, passengers int, total int64) string {
	var b strings.Builder
	b.WriteString("📝 *Please confirm your booking*\n\n")
	fmt.Fprintf(&b, "Route: %s → %s\n", origin, destination)
	fmt.Fprintf(&b, "Departure: %s at %s\n", f.day(d.DepartsAt), f.clock(d.DepartsAt))
	fmt.Fprintf(&b, "Vehicle: %s\n", d.VehicleLabel)
	fmt.Fprintf(&b, "Passengers: %d × %s\n", passengers, f.Money(d.Fare))
	fmt.Fprintf(&b, "*Total: %s*\n\n", f.Money(total))
	b.WriteString("Reply *yes* to book or *no* to cancel.")
	return b.String()
}

func (f *Formatter) ReviewRetry() string {
	return "Please reply *yes* to confirm or *no* to cancel."
}

func (f *Formatter) BookingAbandoned() string {
	return "No problem, nothing was booked.\n\n" + menuBody
}

func (f *Formatter) SoldOut() string {
	return "😔 Sorry, those seats were just taken by someone else. Nothing was charged. " +
		"Please start a new booking to see what's still available.\n\n" + menuBody
}

func (f *Formatter) StaleSelection() string {
	return "Some trip details changed while we were talking, so I've restarted your booking.\n\n" + menuBody
}

func (f *Formatter) Failure() string {
	return "⚠️ Something went wrong on our side and nothing was booked. Please try again in a moment.\n\n" + menuBody
}

// PaymentLink is sent once the booking exists and a link was issued.
func (f *Formatter) PaymentLink(b *models.Booking) string {
	return fmt.Sprintf("✅ Booking *%s* reserved: %d seat(s), %s.\n\nPay here to confirm:\n%s",
		b.Reference, b.Passengers, moneyIn(b.Currency, b.TotalAmount), b.AuthorizationURL)
}

func (f *Formatter) PaymentSetupFailed(b *models.Booking) string {
	return fmt.Sprintf("✅ Booking *%s* reserved: %d seat(s), %s.\n\n"+
		"⚠️ We couldn't create your payment link just now. Your seats are held. Reply *pay* to try again.",
		b.Reference, b.Passengers, moneyIn(b.Currency, b.TotalAmount))
}

// AwaitingPayment is the fixed reply while the provider has not confirmed.
func (f *Formatter) AwaitingPayment(reference, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ We're still waiting for payment for booking *%s*.\n", reference)
	if url != "" {
		fmt.Fprintf(&b, "Pay here: %s\n", url)
	} else {
		b.WriteString("Reply *pay* to get your payment link.\n")
	}
	b.WriteString("Reply *help* for support or *cancel* to start a new booking.")
	return b.String()
}

func (f *Formatter) PaymentConfirmed(b *models.Booking) string {
	return fmt.Sprintf("🎉 Payment received! Booking *%s* is confirmed. Have a safe trip.\n\n%s",
		b.Reference, menuBody)
}

// Bookings lists a user's recent bookings.
func (f *Formatter) Bookings(list []models.BookingSummary) string {
	if len(list) == 0 {
		return "You have no bookings yet.\n\n" + menuBody
	}
	var b strings.Builder
	b.WriteString("🎫 *Your bookings*\n\n")
	for _, s := range list {
		fmt.Fprintf(&b, "*%s* %s → %s\n%s %s · %d seat(s) · %s · %s\n\n",
			s.Reference, s.Origin, s.Destination,
			f.day(s.DepartsAt), f.clock(s.DepartsAt),
			s.Passengers, moneyIn(s.Currency, s.TotalAmount), statusLabel(&s.Booking))
	}
	b.WriteString(menuBody)
	return b.String()
}

func statusLabel(b *models.Booking) string {
	switch {
	case b.IsPaid():
		return "paid"
	case b.Status == models.BookingCancelled:
		return "cancelled"
	case b.Status == models.BookingFailed:
		return "failed"
	default:
		return "awaiting payment"
	}
}

func (f *Formatter) Throttled() string {
	return "You're sending messages too quickly. Please wait a moment."
}
