package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
	patchOps
}

func newMockStore() *mockStore {
	m := &mockStore{}
	m.patchOps = patchOps{a: m}
	return m
}

func (m *mockStore) Get(ctx context.Context, id string) (*Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

func (m *mockStore) GetOrReset(ctx context.Context, id string) (*Session, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*Session), args.Bool(1), args.Error(2)
}

func (m *mockStore) Apply(ctx context.Context, id string, patch Patch) (*Session, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Session), args.Error(1)
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func newTestFailover(primary, fallback Store) *FailoverStore {
	logger := zerolog.New(io.Discard)
	return NewFailoverStore(primary, fallback, &logger)
}

func TestFailoverStore(t *testing.T) {
	primary := newMockStore()
	fallback := newMockStore()
	store := newTestFailover(primary, fallback)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		s := &Session{ID: "u1", Step: StepWelcome}
		primary.On("Get", ctx, "u1").Return(s, nil).Once()

		got, err := store.Get(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, s, got)
		primary.AssertExpectations(t)
	})

	t.Run("OutageStartsUserOverOnFallback", func(t *testing.T) {
		s := &Session{ID: "u2", Step: StepWelcome}
		primary.On("GetOrReset", ctx, "u2").Return(nil, false, errRefused).Once()
		fallback.On("Apply", ctx, "u2", Patch{Reset: true}).Return(s, nil).Once()

		got, discarded, err := store.GetOrReset(ctx, "u2")
		assert.NoError(t, err)
		assert.False(t, discarded)
		assert.Equal(t, s, got)
		assert.True(t, store.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("FallbackUserStaysOnFallback", func(t *testing.T) {
		s := &Session{ID: "u2", Step: StepAskOrigin}
		patch := Patch{Step: stepPtr(StepAskOrigin)}
		fallback.On("Apply", ctx, "u2", patch).Return(s, nil).Once()

		got, err := store.Apply(ctx, "u2", patch)
		assert.NoError(t, err)
		assert.Equal(t, s, got)
		primary.AssertNotCalled(t, "Apply", ctx, "u2", patch)
		fallback.AssertExpectations(t)
	})

	t.Run("PrimaryUserCannotWriteFallback", func(t *testing.T) {
		_, err := store.Apply(ctx, "u3", Patch{Step: stepPtr(StepAskDate)})
		assert.ErrorIs(t, err, ErrUnavailable)
		fallback.AssertNotCalled(t, "Apply", ctx, "u3", mock.Anything)
	})

	t.Run("RecoveryRestoresFallbackSessions", func(t *testing.T) {
		store.lastCheck = time.Now().Add(-2 * time.Minute)

		held := &Session{ID: "u2", Step: StepAskOrigin}
		fresh := &Session{ID: "u4"}
		fallback.On("Get", ctx, "u2").Return(held, nil).Once()
		primary.On("Apply", ctx, "u2", Patch{Reset: true}).Return(&Session{ID: "u2"}, nil).Once()
		primary.On("Get", ctx, "u4").Return(fresh, nil).Once()

		got, err := store.Get(ctx, "u4")
		assert.NoError(t, err)
		assert.Equal(t, fresh, got)
		assert.False(t, store.isDown.Load())
		assert.Empty(t, store.onFallback)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestFailoverStore_OnlyOutagesSwitchStores(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
	}{
		{"Conflict", fmt.Errorf("session u1: %w", ErrConflict)},
		{"Canceled", context.Canceled},
		{"DeadlineExceeded", fmt.Errorf("session u1: %w", context.DeadlineExceeded)},
		{"CorruptRecord", errors.New("unmarshal session: invalid character")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newMockStore()
			fallback := newMockStore()
			store := newTestFailover(primary, fallback)
			patch := Patch{Step: stepPtr(StepAskDate)}
			primary.On("Apply", ctx, "u1", patch).Return(nil, tt.err).Once()

			_, err := store.Apply(ctx, "u1", patch)
			assert.ErrorIs(t, err, tt.err)
			assert.False(t, store.isDown.Load())
			fallback.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestIsOutage(t *testing.T) {
	assert.True(t, isOutage(errRefused))
	assert.True(t, isOutage(fmt.Errorf("session u1: %w", io.EOF)))
	assert.True(t, isOutage(redis.ErrClosed))
	assert.False(t, isOutage(nil))
	assert.False(t, isOutage(ErrConflict))
	assert.False(t, isOutage(&net.OpError{Op: "read", Net: "tcp", Err: context.Canceled}))
}

// A user mid-review when redis drops must not find the stale review waiting
// for them once redis comes back.
func TestFailoverStore_OutageAndRecovery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	clk := &clock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	primary := NewRedisStore(client, 2*time.Hour, 24*time.Hour)
	primary.now = clk.Now
	fallback := NewMemoryStore(2 * time.Hour)
	fallback.now = clk.Now
	store := newTestFailover(primary, fallback)
	store.now = clk.Now

	_, err := store.Apply(ctx, "amy", Patch{
		Step:  stepPtr(StepReviewBooking),
		Draft: &DraftPatch{Origin: strPtr("UYO"), Destination: strPtr("LAGOS")},
	})
	require.NoError(t, err)
	s, _, err := store.GetOrReset(ctx, "amy")
	require.NoError(t, err)
	require.Equal(t, StepReviewBooking, s.Step)

	mr.Close()

	// The message read its session from redis, so its write has nowhere to go.
	_, err = store.SetStep(ctx, "amy", StepAwaitingPayment)
	require.ErrorIs(t, err, ErrUnavailable)
	require.True(t, store.isDown.Load())

	s, _, err = store.GetOrReset(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, StepWelcome, s.Step)
	_, err = store.SetStep(ctx, "amy", StepAskOrigin)
	require.NoError(t, err)

	require.NoError(t, mr.Restart())
	clk.Advance(2 * recoveryInterval)

	s, _, err = store.GetOrReset(ctx, "amy")
	require.NoError(t, err)
	assert.Equal(t, StepAskOrigin, s.Step)
	assert.Empty(t, s.Draft.Origin)
	assert.False(t, store.isDown.Load())

	raw, err := mr.Get("session:amy")
	require.NoError(t, err)
	assert.Contains(t, raw, string(StepAskOrigin))
	assert.NotContains(t, raw, string(StepReviewBooking))
}
