package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_PAYMENT_SECRET", "sk_test_123")

	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "db", "trip.db")+`
payment:
  secret_key: ${TEST_PAYMENT_SECRET}
booking:
  timezone: Africa/Lagos
session:
  inactivity_minutes: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk_test_123", cfg.Payment.SecretKey)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "NGN", cfg.Booking.Currency)
	assert.DirExists(t, filepath.Join(dir, "db"))

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Lagos", loc.String())
}

func TestDefaults(t *testing.T) {
	var cfg Config
	assert.Equal(t, 2*time.Hour, cfg.SessionTimeout())
	assert.Equal(t, 7*24*time.Hour, cfg.SessionRetention())
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout())
	assert.Equal(t, 90, cfg.MaxAdvanceDays())
	assert.Equal(t, 10, cfg.MaxPassengers())

	rate, burst := cfg.ThrottleRate()
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 5, burst)
}

func TestLoad_BadTimezone(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "booking:\n  timezone: Mars/Olympus\n")

	_, err := Load(path)
	assert.Error(t, err)
}

const catalogYAML = `
routes:
  - {id: 1, origin: uyo, destination: Lagos, is_active: true}
vehicles:
  - {id: 1, label: "Sienna 01", capacity: 7}
departures:
  - {id: 1, route_id: 1, vehicle_id: 1, departs_at: "2025-06-11T08:00:00+01:00", fare: 10000, seats: 5}
  - {id: 2, route_id: 1, vehicle_id: 1, departs_at: "2025-06-12T08:00:00Z", fare: 12000}
`

func TestParseCatalogConfig(t *testing.T) {
	cfg, err := ParseCatalogConfig([]byte(catalogYAML))
	require.NoError(t, err)

	assert.Equal(t, "UYO", cfg.Routes[0].Origin)
	assert.Equal(t, "LAGOS", cfg.Routes[0].Destination)
	assert.Equal(t, 5, cfg.Departures[0].Seats)
	assert.Equal(t, 7, cfg.Departures[1].Seats, "seats default to vehicle capacity")
	assert.Equal(t, "scheduled", cfg.Departures[1].Status)
	assert.Equal(t, time.Date(2025, 6, 11, 7, 0, 0, 0, time.UTC), cfg.Departures[0].DepartureTime())
}

func TestParseCatalogConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown route", "vehicles: [{id: 1, label: a, capacity: 3}]\ndepartures: [{id: 1, route_id: 9, vehicle_id: 1, departs_at: '2025-06-11T08:00:00Z', fare: 1}]"},
		{"seats over capacity", "routes: [{id: 1, origin: a, destination: b}]\nvehicles: [{id: 1, label: a, capacity: 3}]\ndepartures: [{id: 1, route_id: 1, vehicle_id: 1, departs_at: '2025-06-11T08:00:00Z', fare: 1, seats: 4}]"},
		{"bad time", "routes: [{id: 1, origin: a, destination: b}]\nvehicles: [{id: 1, label: a, capacity: 3}]\ndepartures: [{id: 1, route_id: 1, vehicle_id: 1, departs_at: 'tomorrow', fare: 1}]"},
		{"same origin and destination", "routes: [{id: 1, origin: a, destination: A}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalogConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestWatchCatalog_InitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", catalogYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.Nop()
	var got *CatalogConfig
	require.NoError(t, WatchCatalog(ctx, path, time.Hour, &logger, func(c *CatalogConfig) error {
		got = c
		return nil
	}))
	require.NotNil(t, got)
	assert.Len(t, got.Departures, 2)

	bad := writeFile(t, dir, "bad.yaml", "routes: [")
	assert.Error(t, WatchCatalog(ctx, bad, time.Hour, &logger, func(*CatalogConfig) error { return nil }))
}

func TestWatchCatalog_ReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", catalogYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.Nop()
	var applied atomic.Int32
	require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond, &logger, func(*CatalogConfig) error {
		applied.Add(1)
		return nil
	}))

	writeFile(t, dir, "catalog.yaml", catalogYAML+"\n# fares reviewed\n")
	require.Eventually(t, func() bool { return applied.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestCatalogSync_SkipsUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", catalogYAML)

	calls := 0
	s := &catalogSync{path: path, apply: func(*CatalogConfig) error { calls++; return nil }}

	changed, err := s.sync()
	require.NoError(t, err)
	assert.True(t, changed)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	writeFile(t, dir, "catalog.yaml", catalogYAML)

	changed, err = s.sync()
	require.NoError(t, err)
	assert.False(t, changed, "rewritten with the same content")
	assert.Equal(t, 1, calls)
}

func TestCatalogSync_RetriesFailedApply(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", catalogYAML)

	fail := true
	calls := 0
	s := &catalogSync{path: path, apply: func(*CatalogConfig) error {
		calls++
		if fail {
			return errors.New("database is locked")
		}
		return nil
	}}

	_, err := s.sync()
	require.Error(t, err)

	fail = false
	changed, err := s.sync()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, calls)
}

func TestCatalogSync_KeepsLastGoodCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "catalog.yaml", catalogYAML)

	calls := 0
	s := &catalogSync{path: path, apply: func(*CatalogConfig) error { calls++; return nil }}
	_, err := s.sync()
	require.NoError(t, err)

	writeFile(t, dir, "catalog.yaml", "routes: [")
	_, err = s.sync()
	assert.Error(t, err)

	changed, err := s.sync()
	assert.NoError(t, err, "a rejected file is reported once")
	assert.False(t, changed)
	assert.Equal(t, 1, calls)
}
