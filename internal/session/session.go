// Package session keeps each user's in-progress booking dialogue.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Step is the dialogue state of a session.
type Step string

const (
	StepWelcome            Step = "welcome"
	StepMainMenu           Step = "main_menu"
	StepAskOrigin          Step = "ask_origin"
	StepAskDestination     Step = "ask_destination"
	StepAskDate            Step = "ask_date"
	StepAskDepartureChoice Step = "ask_departure_choice"
	StepAskPassengers      Step = "ask_passengers"
	StepReviewBooking      Step = "review_booking"
	StepAwaitingPayment    Step = "awaiting_payment"
)

// Steps lists every known step in dialogue order.
var Steps = []Step{
	StepWelcome,
	StepAskOrigin,
	StepAskDestination,
	StepAskDate,
	StepAskDepartureChoice,
	StepAskPassengers,
	StepReviewBooking,
	StepAwaitingPayment,
	StepMainMenu,
}

// Valid reports whether s belongs to the closed set of steps.
func (s Step) Valid() bool {
	for _, known := range Steps {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultTimeout is the inactivity window after which a dialogue is discarded.
const DefaultTimeout = 2 * time.Hour

var (
	ErrInconsistent = errors.New("inconsistent session state")
	ErrConflict     = errors.New("session update conflict")
)

// Draft accumulates the booking across steps.
type Draft struct {
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	TravelDate  string `json:"travel_date,omitempty"` // YYYY-MM-DD
	DepartureID int64  `json:"departure_id,omitempty"`
	Fare        int64  `json:"fare,omitempty"`
	Passengers  int    `json:"passengers,omitempty"`
	Total       int64  `json:"total,omitempty"`
	// Reference is reserved for the booking when the itinerary is reviewed,
	// so a repeated confirmation finds the booking it already made.
	Reference string `json:"reference,omitempty"`
}

// DraftPatch updates only the non-nil fields of a Draft.
type DraftPatch struct {
	Origin      *string
	Destination *string
	TravelDate  *string
	DepartureID *int64
	Fare        *int64
	Passengers  *int
	Total       *int64
	Reference   *string
}

func (p *DraftPatch) applyTo(d *Draft) {
	if p.Origin != nil {
		d.Origin = *p.Origin
	}
	if p.Destination != nil {
		d.Destination = *p.Destination
	}
	if p.TravelDate != nil {
		d.TravelDate = *p.TravelDate
	}
	if p.DepartureID != nil {
		d.DepartureID = *p.DepartureID
	}
	if p.Fare != nil {
		d.Fare = *p.Fare
	}
	if p.Passengers != nil {
		d.Passengers = *p.Passengers
	}
	if p.Total != nil {
		d.Total = *p.Total
	}
	if p.Reference != nil {
		d.Reference = *p.Reference
	}
}

// ChoiceContext holds the ordered option list offered at ask_origin/ask_destination.
type ChoiceContext struct {
	Options []string `json:"options"`
}

// DeparturesContext holds the ordered departure IDs offered at ask_departure_choice.
type DeparturesContext struct {
	IDs []int64 `json:"ids"`
}

// PaymentContext identifies the booking a session is waiting on.
type PaymentContext struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
}

// Context is step-scoped scratch data. Only the member that belongs to the
// current step is expected to be set; Validate enforces that.
type Context struct {
	Choice     *ChoiceContext     `json:"choice,omitempty"`
	Departures *DeparturesContext `json:"departures,omitempty"`
	Payment    *PaymentContext    `json:"payment,omitempty"`
}

func (c *Context) merge(other *Context) {
	if other.Choice != nil {
		c.Choice = &ChoiceContext{Options: append([]string(nil), other.Choice.Options...)}
	}
	if other.Departures != nil {
		c.Departures = &DeparturesContext{IDs: append([]int64(nil), other.Departures.IDs...)}
	}
	if other.Payment != nil {
		p := *other.Payment
		c.Payment = &p
	}
}

// Session is a user's persisted dialogue.
type Session struct {
	ID           string    `json:"id"`
	Step         Step      `json:"step"`
	Draft        Draft     `json:"draft"`
	Context      Context   `json:"context"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// New returns a fresh session at the welcome step.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Step:         StepWelcome,
		LastActiveAt: now,
		CreatedAt:    now,
	}
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActiveAt) > timeout
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *Session) Clone() *Session {
	c := *s
	c.Context = Context{}
	c.Context.merge(&s.Context)
	return &c
}

// Validate checks that the draft and context hold everything the current
// step depends on.
func (s *Session) Validate() error {
	d := s.Draft
	missing := func(what string) error {
		return fmt.Errorf("%w: step %s without %s", ErrInconsistent, s.Step, what)
	}

	switch s.Step {
	case StepWelcome, StepMainMenu:
		return nil
	case StepAskOrigin:
		if s.Context.Choice == nil || len(s.Context.Choice.Options) == 0 {
			return missing("origin options")
		}
	case StepAskDestination:
		if d.Origin == "" {
			return missing("origin")
		}
		if s.Context.Choice == nil || len(s.Context.Choice.Options) == 0 {
			return missing("destination options")
		}
	case StepAskDate:
		if d.Origin == "" || d.Destination == "" {
			return missing("route")
		}
	case StepAskDepartureChoice:
		if d.Origin == "" || d.Destination == "" || d.TravelDate == "" {
			return missing("route and date")
		}
		if s.Context.Departures == nil || len(s.Context.Departures.IDs) == 0 {
			return missing("departure list")
		}
	case StepAskPassengers:
		if d.Origin == "" || d.Destination == "" || d.TravelDate == "" {
			return missing("route and date")
		}
		if d.DepartureID <= 0 || d.Fare <= 0 {
			return missing("departure")
		}
	case StepReviewBooking:
		if d.DepartureID <= 0 || d.Fare <= 0 {
			return missing("departure")
		}
		if d.Passengers <= 0 || d.Total != d.Fare*int64(d.Passengers) {
			return missing("passenger total")
		}
	case StepAwaitingPayment:
		if s.Context.Payment == nil || s.Context.Payment.Reference == "" {
			return missing("booking reference")
		}
	default:
		return fmt.Errorf("%w: unknown step %q", ErrInconsistent, s.Step)
	}
	return nil
}

// Patch is a partial, field-level update applied atomically by a Store.
// Reset is applied first; a step change clears the step-scoped context
// before Context is merged.
type Patch struct {
	Reset      bool
	Step       *Step
	ClearDraft bool
	Draft      *DraftPatch
	Context    *Context
}

// Empty reports whether the patch would change nothing but lastActiveAt.
func (p Patch) Empty() bool {
	return !p.Reset && p.Step == nil && !p.ClearDraft && p.Draft == nil && p.Context == nil
}

// Apply mutates s in place and refreshes lastActiveAt.
func (p Patch) Apply(s *Session, now time.Time) {
	if p.Reset {
		*s = Session{ID: s.ID, Step: StepWelcome, CreatedAt: s.CreatedAt}
	}
	if p.Step != nil && *p.Step != s.Step {
		s.Step = *p.Step
		s.Context = Context{}
	}
	if p.ClearDraft {
		s.Draft = Draft{}
	}
	if p.Draft != nil {
		p.Draft.applyTo(&s.Draft)
	}
	if p.Context != nil {
		s.Context.merge(p.Context)
	}
	s.LastActiveAt = now
}

// Store persists sessions keyed by user handle. Writes for the same id are
// linearizable and every write returns the full updated record.
type Store interface {
	// Get returns the session, creating a welcome session if absent.
	Get(ctx context.Context, id string) (*Session, error)
	// GetOrReset is Get that also reinitializes an idle session. The bool
	// reports whether an existing dialogue was discarded.
	GetOrReset(ctx context.Context, id string) (*Session, bool, error)
	// Apply performs a partial update atomically.
	Apply(ctx context.Context, id string, patch Patch) (*Session, error)

	SetStep(ctx context.Context, id string, step Step) (*Session, error)
	MergeDraft(ctx context.Context, id string, draft DraftPatch) (*Session, error)
	MergeContext(ctx context.Context, id string, c Context) (*Session, error)
	Reset(ctx context.Context, id string) (*Session, error)
}

type applier interface {
	Apply(ctx context.Context, id string, patch Patch) (*Session, error)
}

// patchOps derives the single-field operations from Apply.
type patchOps struct {
	a applier
}

func (o patchOps) SetStep(ctx context.Context, id string, step Step) (*Session, error) {
	return o.a.Apply(ctx, id, Patch{Step: &step})
}

func (o patchOps) MergeDraft(ctx context.Context, id string, draft DraftPatch) (*Session, error) {
	return o.a.Apply(ctx, id, Patch{Draft: &draft})
}

func (o patchOps) MergeContext(ctx context.Context, id string, c Context) (*Session, error) {
	return o.a.Apply(ctx, id, Patch{Context: &c})
}

func (o patchOps) Reset(ctx context.Context, id string) (*Session, error) {
	return o.a.Apply(ctx, id, Patch{Reset: true})
}

// resetIfIdle returns a fresh session when cur is idle, and whether it did.
func resetIfIdle(cur *Session, id string, now time.Time, timeout time.Duration) (*Session, bool) {
	if cur == nil {
		return New(id, now), false
	}
	if cur.Expired(now, timeout) {
		fresh := New(id, now)
		fresh.CreatedAt = cur.CreatedAt
		return fresh, cur.Step != StepWelcome
	}
	return cur, false
}
