package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "session:"
	defaultRetention = 7 * 24 * time.Hour
	maxTxRetries     = 10
)

// RedisStore persists sessions as JSON and serializes same-key writes with
// WATCH/MULTI optimistic transactions.
type RedisStore struct {
	patchOps

	client    *redis.Client
	prefix    string
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore creates a store. retention is how long an untouched record is
// kept for audit after its dialogue expires.
func NewRedisStore(client *redis.Client, timeout, retention time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retention < timeout {
		retention = defaultRetention
	}
	s := &RedisStore{
		client:    client,
		prefix:    defaultKeyPrefix,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
	s.patchOps = patchOps{a: s}
	return s
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Get returns the session for id, creating it if absent.
func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return r.update(ctx, id, func(cur *Session, now time.Time) (*Session, bool) {
		if cur == nil {
			return New(id, now), true
		}
		return cur, false
	})
}

// GetOrReset returns the session for id, reinitializing it if idle.
func (r *RedisStore) GetOrReset(ctx context.Context, id string) (*Session, bool, error) {
	var discarded bool
	s, err := r.update(ctx, id, func(cur *Session, now time.Time) (*Session, bool) {
		next, d := resetIfIdle(cur, id, now, r.timeout)
		discarded = d
		return next, next != cur
	})
	if err != nil {
		return nil, false, err
	}
	return s, discarded, nil
}

// Apply performs the patch inside an optimistic transaction.
func (r *RedisStore) Apply(ctx context.Context, id string, patch Patch) (*Session, error) {
	return r.update(ctx, id, func(cur *Session, now time.Time) (*Session, bool) {
		if cur == nil {
			cur = New(id, now)
		}
		patch.Apply(cur, now)
		return cur, true
	})
}

// update loads the record under WATCH, lets fn compute the next value and
// writes it back only if nobody else touched the key in between.
func (r *RedisStore) update(ctx context.Context, id string, fn func(cur *Session, now time.Time) (*Session, bool)) (*Session, error) {
	key := r.key(id)
	var out *Session

	txf := func(tx *redis.Tx) error {
		cur, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, changed := fn(cur, r.now())
		if !changed {
			out = next
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.retention)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrConflict)
}

func (r *RedisStore) load(ctx context.Context, tx *redis.Tx, key string) (*Session, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Put overwrites the stored record with s.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, r.key(s.ID), data, r.retention).Err()
}

// Ping checks redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
