package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisukpong/transport-booking/internal/models"
)

func TestCatalogQueries(t *testing.T) {
	db := setupSeededDB(t)
	ctx := context.Background()

	origins, err := db.DistinctOrigins(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"UYO"}, origins)

	origins, err = db.DistinctOrigins(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"CALABAR", "UYO"}, origins)

	dests, err := db.DistinctDestinations(ctx, "UYO", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABUJA", "LAGOS"}, dests)

	dests, err = db.DistinctDestinations(ctx, "KANO", true)
	require.NoError(t, err)
	assert.Empty(t, dests)

	route, err := db.FindRoute(ctx, "UYO", "LAGOS", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), route.ID)

	_, err = db.FindRoute(ctx, "CALABAR", "UYO", true)
	assert.ErrorIs(t, err, models.ErrRouteNotFound)

	route, err = db.FindRoute(ctx, "CALABAR", "UYO", false)
	require.NoError(t, err)
	assert.False(t, route.IsActive)
}

func TestSyncCatalog_PreservesSoldSeats(t *testing.T) {
	db := setupSeededDB(t)
	ctx := context.Background()

	require.NoError(t, db.TryReserve(ctx, 10, 2))

	cfg := testCatalog()
	cfg.Departures[0].Fare = 11000
	cfg.Routes = cfg.Routes[:1]
	require.NoError(t, db.SyncCatalog(ctx, cfg))

	d, err := db.GetDeparture(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, d.SeatsRemaining)
	assert.Equal(t, int64(11000), d.Fare)

	dests, err := db.DistinctDestinations(ctx, "UYO", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"LAGOS"}, dests, "routes dropped from the file are deactivated")
}

func TestSyncCatalog_Nil(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, db.SyncCatalog(context.Background(), nil))
}
