package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// ErrUnavailable is returned for a write that would split a session between
// the primary and the fallback.
var ErrUnavailable = errors.New("session store unavailable")

// snapshotWriter is implemented by primaries that can store a whole record.
type snapshotWriter interface {
	Put(ctx context.Context, s *Session) error
}

// FailoverStore routes to a primary store (redis) and falls back to a
// secondary one (memory) while the primary is unreachable.
//
// A session lives in exactly one store at a time. A user first seen during an
// outage starts over on the fallback; a session read from the primary is never
// written to the fallback. Sessions held by the fallback are copied back to
// the primary before it serves traffic again. A recovery attempt is made at
// most once per recoveryInterval.
type FailoverStore struct {
	patchOps

	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown atomic.Bool

	// mu guards lastCheck and onFallback and is held for fallback writes and
	// recovery, so a copy back never races a fallback update.
	mu         sync.Mutex
	lastCheck  time.Time
	onFallback map[string]struct{}
	now        func() time.Time
}

// NewFailoverStore wraps primary with fallback.
func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	s := &FailoverStore{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		onFallback: make(map[string]struct{}),
		now:        time.Now,
	}
	s.patchOps = patchOps{a: s}
	return s
}

// isOutage reports whether err means the primary cannot be reached, as
// opposed to a conflict, a bad record or the caller giving up.
func isOutage(err error) bool {
	if err == nil ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed)
}

func (f *FailoverStore) usePrimary(ctx context.Context) bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isDown.Load() {
		return true
	}
	if f.now().Sub(f.lastCheck) < recoveryInterval {
		return false
	}
	f.lastCheck = f.now()

	if err := f.restoreLocked(ctx); err != nil {
		f.logger.Warn().Err(err).Int("sessions", len(f.onFallback)).Msg("Session store primary still unavailable")
		return false
	}
	f.isDown.Store(false)
	f.logger.Info().Msg("Session store primary recovered")
	return true
}

// restoreLocked copies every fallback-held session into the primary.
func (f *FailoverStore) restoreLocked(ctx context.Context) error {
	for id := range f.onFallback {
		s, err := f.fallback.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("read fallback session %s: %w", id, err)
		}
		if w, ok := f.primary.(snapshotWriter); ok {
			err = w.Put(ctx, s)
		} else {
			_, err = f.primary.Reset(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		delete(f.onFallback, id)
	}
	return nil
}

func (f *FailoverStore) markDown(err error) {
	if !f.isDown.Swap(true) {
		f.logger.Warn().Err(err).Msg("Session store primary failed, switching to fallback")
	}
	f.mu.Lock()
	f.lastCheck = f.now()
	f.mu.Unlock()
}

// read serves a load from the primary, or from the fallback during an outage.
func (f *FailoverStore) read(ctx context.Context, id string, fn func(Store) (*Session, error)) (*Session, error) {
	if f.usePrimary(ctx) {
		s, err := fn(f.primary)
		if !isOutage(err) {
			return s, err
		}
		f.markDown(err)
	}

	f.mu.Lock()
	if !f.isDown.Load() {
		f.mu.Unlock()
		return fn(f.primary)
	}
	defer f.mu.Unlock()

	if _, ok := f.onFallback[id]; ok {
		return fn(f.fallback)
	}
	// First contact in this outage. Whatever the fallback still holds from an
	// earlier outage is stale.
	s, err := f.fallback.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	f.onFallback[id] = struct{}{}
	return s, nil
}

// Get implements Store.
func (f *FailoverStore) Get(ctx context.Context, id string) (*Session, error) {
	return f.read(ctx, id, func(s Store) (*Session, error) { return s.Get(ctx, id) })
}

// GetOrReset implements Store.
func (f *FailoverStore) GetOrReset(ctx context.Context, id string) (*Session, bool, error) {
	var discarded bool
	sess, err := f.read(ctx, id, func(s Store) (*Session, error) {
		out, d, err := s.GetOrReset(ctx, id)
		discarded = d
		return out, err
	})
	return sess, discarded, err
}

// Apply implements Store. It fails with ErrUnavailable rather than write a
// primary-held session to the fallback.
func (f *FailoverStore) Apply(ctx context.Context, id string, patch Patch) (*Session, error) {
	if f.usePrimary(ctx) {
		s, err := f.primary.Apply(ctx, id, patch)
		if !isOutage(err) {
			return s, err
		}
		f.markDown(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.onFallback[id]; !ok || !f.isDown.Load() {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnavailable)
	}
	return f.fallback.Apply(ctx, id, patch)
}
