// Package catalog serves the read side of the route catalog with an optional
// redis cache in front of the database. Seat counts are never cached.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/models"
)

const keyPrefix = "catalog:"

// Source is the authoritative catalog, normally *database.DB.
type Source interface {
	DistinctOrigins(ctx context.Context, activeOnly bool) ([]string, error)
	DistinctDestinations(ctx context.Context, origin string, activeOnly bool) ([]string, error)
	FindRoute(ctx context.Context, origin, destination string, activeOnly bool) (*models.Route, error)
}

// Catalog answers catalog queries, consulting redis first when configured.
type Catalog struct {
	source Source
	logger *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

func New(source Source, logger *zerolog.Logger) *Catalog {
	return &Catalog{source: source, logger: logger}
}

// UseRedisCache enables caching of catalog lookups for ttl.
func (c *Catalog) UseRedisCache(client *redis.Client, ttl time.Duration) {
	c.redis = client
	c.cacheTTL = ttl
}

func (c *Catalog) DistinctOrigins(ctx context.Context, activeOnly bool) ([]string, error) {
	key := fmt.Sprintf("%sorigins:%t", keyPrefix, activeOnly)
	var out []string
	if c.readCache(ctx, key, &out) {
		return out, nil
	}

	out, err := c.source.DistinctOrigins(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

func (c *Catalog) DistinctDestinations(ctx context.Context, origin string, activeOnly bool) ([]string, error) {
	key := fmt.Sprintf("%sdestinations:%s:%t", keyPrefix, strings.ToUpper(origin), activeOnly)
	var out []string
	if c.readCache(ctx, key, &out) {
		return out, nil
	}

	out, err := c.source.DistinctDestinations(ctx, origin, activeOnly)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

// FindRoute resolves a route. Misses are not cached.
func (c *Catalog) FindRoute(ctx context.Context, origin, destination string, activeOnly bool) (*models.Route, error) {
	key := fmt.Sprintf("%sroute:%s:%s:%t", keyPrefix, strings.ToUpper(origin), strings.ToUpper(destination), activeOnly)
	var route models.Route
	if c.readCache(ctx, key, &route) {
		return &route, nil
	}

	r, err := c.source.FindRoute(ctx, origin, destination, activeOnly)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, r)
	return r, nil
}

// Invalidate drops every cached catalog entry. Called after a catalog reload.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	var keys []string
	iter := c.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan catalog cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear catalog cache: %w", err)
	}
	c.logger.Debug().Int("keys", len(keys)).Msg("Catalog cache invalidated")
	return nil
}

func (c *Catalog) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Catalog) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Catalog cache write failed")
	}
}
