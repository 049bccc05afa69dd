package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RouteConfig is one origin/destination pair.
type RouteConfig struct {
	ID          int64  `yaml:"id"`
	Origin      string `yaml:"origin"`
	Destination string `yaml:"destination"`
	IsActive    bool   `yaml:"is_active"`
}

// VehicleConfig is a bus or car that serves departures.
type VehicleConfig struct {
	ID       int64  `yaml:"id"`
	Label    string `yaml:"label"`
	Capacity int    `yaml:"capacity"`
}

// DepartureConfig seeds one scheduled trip. Seats default to the vehicle capacity.
type DepartureConfig struct {
	ID        int64  `yaml:"id"`
	RouteID   int64  `yaml:"route_id"`
	VehicleID int64  `yaml:"vehicle_id"`
	DepartsAt string `yaml:"departs_at"` // RFC3339
	Fare      int64  `yaml:"fare"`
	Seats     int    `yaml:"seats,omitempty"`
	Status    string `yaml:"status,omitempty"`
}

// CatalogConfig is the root of catalog.yaml.
type CatalogConfig struct {
	Routes     []RouteConfig     `yaml:"routes"`
	Vehicles   []VehicleConfig   `yaml:"vehicles"`
	Departures []DepartureConfig `yaml:"departures"`
}

// LoadCatalogConfig loads and validates the catalog seed file.
func LoadCatalogConfig(path string) (*CatalogConfig, error) {
	if path == "" {
		path = "configs/catalog.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog config: %w", err)
	}
	return ParseCatalogConfig(data)
}

// ParseCatalogConfig decodes and validates catalog yaml.
func ParseCatalogConfig(data []byte) (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse catalog config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks references and normalizes place names to upper case.
func (c *CatalogConfig) Validate() error {
	routes := make(map[int64]struct{}, len(c.Routes))
	for i := range c.Routes {
		r := &c.Routes[i]
		r.Origin = strings.ToUpper(strings.TrimSpace(r.Origin))
		r.Destination = strings.ToUpper(strings.TrimSpace(r.Destination))
		if r.ID <= 0 || r.Origin == "" || r.Destination == "" {
			return fmt.Errorf("route #%d: id, origin and destination are required", i+1)
		}
		if r.Origin == r.Destination {
			return fmt.Errorf("route %d: origin equals destination", r.ID)
		}
		if _, dup := routes[r.ID]; dup {
			return fmt.Errorf("route %d: duplicate id", r.ID)
		}
		routes[r.ID] = struct{}{}
	}

	vehicles := make(map[int64]int, len(c.Vehicles))
	for i, v := range c.Vehicles {
		if v.ID <= 0 || v.Capacity <= 0 {
			return fmt.Errorf("vehicle #%d: id and capacity are required", i+1)
		}
		vehicles[v.ID] = v.Capacity
	}

	for i := range c.Departures {
		d := &c.Departures[i]
		if _, ok := routes[d.RouteID]; !ok {
			return fmt.Errorf("departure %d: unknown route %d", d.ID, d.RouteID)
		}
		capacity, ok := vehicles[d.VehicleID]
		if !ok {
			return fmt.Errorf("departure %d: unknown vehicle %d", d.ID, d.VehicleID)
		}
		if _, err := time.Parse(time.RFC3339, d.DepartsAt); err != nil {
			return fmt.Errorf("departure %d: departs_at: %w", d.ID, err)
		}
		if d.Fare <= 0 {
			return fmt.Errorf("departure %d: fare must be positive", d.ID)
		}
		if d.Seats <= 0 {
			d.Seats = capacity
		}
		if d.Seats > capacity {
			return fmt.Errorf("departure %d: %d seats exceed vehicle capacity %d", d.ID, d.Seats, capacity)
		}
		if d.Status == "" {
			d.Status = "scheduled"
		}
	}
	return nil
}

// DepartureTime returns the parsed departs_at value.
func (d DepartureConfig) DepartureTime() time.Time {
	t, _ := time.Parse(time.RFC3339, d.DepartsAt)
	return t.UTC()
}
