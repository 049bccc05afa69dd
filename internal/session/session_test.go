package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func stepPtr(s Step) *Step    { return &s }

func TestPatch_Apply(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	s := New("u1", now.Add(-time.Minute))

	Patch{
		Step:    stepPtr(StepAskOrigin),
		Context: &Context{Choice: &ChoiceContext{Options: []string{"UYO", "LAGOS"}}},
	}.Apply(s, now)

	assert.Equal(t, StepAskOrigin, s.Step)
	assert.Equal(t, []string{"UYO", "LAGOS"}, s.Context.Choice.Options)
	assert.Equal(t, now, s.LastActiveAt)

	t.Run("StepChangeClearsContext", func(t *testing.T) {
		Patch{
			Step:  stepPtr(StepAskDate),
			Draft: &DraftPatch{Origin: strPtr("UYO"), Destination: strPtr("LAGOS")},
		}.Apply(s, now)

		assert.Nil(t, s.Context.Choice)
		assert.Equal(t, "UYO", s.Draft.Origin)
		assert.Equal(t, "LAGOS", s.Draft.Destination)
	})

	t.Run("DraftMergeKeepsOtherFields", func(t *testing.T) {
		Patch{Draft: &DraftPatch{TravelDate: strPtr("2025-06-11")}}.Apply(s, now)
		assert.Equal(t, "UYO", s.Draft.Origin)
		assert.Equal(t, "2025-06-11", s.Draft.TravelDate)
	})

	t.Run("Reset", func(t *testing.T) {
		created := s.CreatedAt
		Patch{Reset: true}.Apply(s, now)
		assert.Equal(t, StepWelcome, s.Step)
		assert.Equal(t, Draft{}, s.Draft)
		assert.Equal(t, Context{}, s.Context)
		assert.Equal(t, "u1", s.ID)
		assert.Equal(t, created, s.CreatedAt)
	})
}

func TestSession_Validate(t *testing.T) {
	full := Draft{
		Origin:      "UYO",
		Destination: "LAGOS",
		TravelDate:  "2025-06-11",
		DepartureID: 7,
		Fare:        10000,
		Passengers:  2,
		Total:       20000,
	}

	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{"welcome always valid", Session{Step: StepWelcome}, false},
		{"main menu always valid", Session{Step: StepMainMenu}, false},
		{"origin without options", Session{Step: StepAskOrigin}, true},
		{"origin with options", Session{Step: StepAskOrigin, Context: Context{Choice: &ChoiceContext{Options: []string{"UYO"}}}}, false},
		{"destination without origin", Session{Step: StepAskDestination, Context: Context{Choice: &ChoiceContext{Options: []string{"LAGOS"}}}}, true},
		{"date without destination", Session{Step: StepAskDate, Draft: Draft{Origin: "UYO"}}, true},
		{"date with route", Session{Step: StepAskDate, Draft: Draft{Origin: "UYO", Destination: "LAGOS"}}, false},
		{"departure choice without list", Session{Step: StepAskDepartureChoice, Draft: full}, true},
		{"departure choice with list", Session{Step: StepAskDepartureChoice, Draft: full, Context: Context{Departures: &DeparturesContext{IDs: []int64{7}}}}, false},
		{"passengers without departure", Session{Step: StepAskPassengers, Draft: Draft{Origin: "UYO", Destination: "LAGOS", TravelDate: "2025-06-11"}}, true},
		{"review with wrong total", Session{Step: StepReviewBooking, Draft: Draft{DepartureID: 7, Fare: 10000, Passengers: 2, Total: 10000}}, true},
		{"review complete", Session{Step: StepReviewBooking, Draft: full}, false},
		{"awaiting payment without reference", Session{Step: StepAwaitingPayment}, true},
		{"awaiting payment", Session{Step: StepAwaitingPayment, Context: Context{Payment: &PaymentContext{Reference: "TRP-1"}}}, false},
		{"unknown step", Session{Step: Step("bogus")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInconsistent)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := New("u1", time.Now())
	s.Context.Choice = &ChoiceContext{Options: []string{"A", "B"}}

	c := s.Clone()
	c.Context.Choice.Options[0] = "Z"

	assert.Equal(t, "A", s.Context.Choice.Options[0])
}

// clock is a settable time source shared by a store under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, store Store, clk *clock) {
	ctx := context.Background()

	t.Run("GetCreatesWelcome", func(t *testing.T) {
		s, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", s.ID)
		assert.Equal(t, StepWelcome, s.Step)
	})

	t.Run("WritesReturnUpdatedRecord", func(t *testing.T) {
		s, err := store.SetStep(ctx, "alice", StepAskDate)
		require.NoError(t, err)
		assert.Equal(t, StepAskDate, s.Step)

		s, err = store.MergeDraft(ctx, "alice", DraftPatch{Origin: strPtr("UYO")})
		require.NoError(t, err)
		assert.Equal(t, StepAskDate, s.Step)
		assert.Equal(t, "UYO", s.Draft.Origin)

		s, err = store.MergeContext(ctx, "alice", Context{Departures: &DeparturesContext{IDs: []int64{1, 2}}})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, s.Context.Departures.IDs)

		got, err := store.Get(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, s.Draft, got.Draft)
		assert.Equal(t, s.Context, got.Context)
	})

	t.Run("ResetIsIdempotent", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			s, err := store.Reset(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, StepWelcome, s.Step)
			assert.Equal(t, Draft{}, s.Draft)
		}
	})

	t.Run("GetOrResetExpiresIdleDialogue", func(t *testing.T) {
		_, err := store.Apply(ctx, "bob", Patch{
			Step:  stepPtr(StepAskDate),
			Draft: &DraftPatch{Origin: strPtr("UYO"), Destination: strPtr("LAGOS")},
		})
		require.NoError(t, err)

		clk.Advance(time.Hour)
		s, discarded, err := store.GetOrReset(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, discarded)
		assert.Equal(t, StepAskDate, s.Step)

		clk.Advance(3 * time.Hour)
		s, discarded, err = store.GetOrReset(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, discarded)
		assert.Equal(t, StepWelcome, s.Step)
		assert.Equal(t, Draft{}, s.Draft)
	})

	t.Run("ConcurrentPartialUpdatesAreNotLost", func(t *testing.T) {
		patches := []DraftPatch{
			{Origin: strPtr("UYO")},
			{Destination: strPtr("LAGOS")},
			{TravelDate: strPtr("2025-06-11")},
		}
		for i := 0; i < 4; i++ {
			id := int64(i + 1)
			patches = append(patches, DraftPatch{DepartureID: &id})
		}

		var wg sync.WaitGroup
		for _, p := range patches {
			wg.Add(1)
			go func(p DraftPatch) {
				defer wg.Done()
				_, err := store.MergeDraft(ctx, "carol", p)
				assert.NoError(t, err)
			}(p)
		}
		wg.Wait()

		s, err := store.Get(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, "UYO", s.Draft.Origin)
		assert.Equal(t, "LAGOS", s.Draft.Destination)
		assert.Equal(t, "2025-06-11", s.Draft.TravelDate)
		assert.NotZero(t, s.Draft.DepartureID)
	})

	t.Run("UsersAreIndependent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("user-%d", i)
				origin := fmt.Sprintf("CITY-%d", i)
				_, err := store.MergeDraft(ctx, id, DraftPatch{Origin: &origin})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		for i := 0; i < 20; i++ {
			s, err := store.Get(ctx, fmt.Sprintf("user-%d", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("CITY-%d", i), s.Draft.Origin)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	clk := &clock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(2 * time.Hour)
	store.now = clk.Now

	runStoreContract(t, store, clk)
}
