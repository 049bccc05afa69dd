package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dennisukpong/transport-booking/internal/config"
)

var tomorrowMorning = time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testCatalog() *config.CatalogConfig {
	cfg := &config.CatalogConfig{
		Routes: []config.RouteConfig{
			{ID: 1, Origin: "UYO", Destination: "LAGOS", IsActive: true},
			{ID: 2, Origin: "UYO", Destination: "ABUJA", IsActive: true},
			{ID: 3, Origin: "CALABAR", Destination: "UYO", IsActive: false},
		},
		Vehicles: []config.VehicleConfig{
			{ID: 1, Label: "Toyota Hiace", Capacity: 14},
		},
		Departures: []config.DepartureConfig{
			{ID: 10, RouteID: 1, VehicleID: 1, DepartsAt: "2025-06-11T08:00:00Z", Fare: 10000, Seats: 5},
			{ID: 11, RouteID: 1, VehicleID: 1, DepartsAt: "2025-06-11T14:00:00Z", Fare: 12000, Seats: 3},
			{ID: 12, RouteID: 1, VehicleID: 1, DepartsAt: "2025-06-12T08:00:00Z", Fare: 10000},
			{ID: 13, RouteID: 1, VehicleID: 1, DepartsAt: "2025-06-11T10:00:00Z", Fare: 10000, Status: "cancelled"},
		},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func setupSeededDB(t *testing.T) *DB {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, db.SyncCatalog(context.Background(), testCatalog()))
	return db
}
