package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchCatalog loads catalog.yaml into apply and keeps it in sync. The file is
// re-read every interval and handed to apply only when its content changed.
// A failed apply is retried on the next tick; an invalid file leaves the last
// applied catalog in place. The initial load must succeed.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, apply func(*CatalogConfig) error) error {
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s := &catalogSync{path: path, apply: apply}
	if _, err := s.sync(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := s.sync()
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("Catalog reload failed")
					continue
				}
				if changed {
					logger.Info().Str("path", path).Msg("Catalog reloaded")
				}
			}
		}
	}()

	return nil
}

type catalogSync struct {
	path  string
	apply func(*CatalogConfig) error

	applied  [sha256.Size]byte
	rejected [sha256.Size]byte
}

// sync applies the file if its content differs from what was last applied.
// Content that failed validation is not parsed again until it changes.
func (s *catalogSync) sync() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read catalog config: %w", err)
	}
	sum := sha256.Sum256(data)
	if sum == s.applied || sum == s.rejected {
		return false, nil
	}

	cfg, err := ParseCatalogConfig(data)
	if err != nil {
		s.rejected = sum
		return false, err
	}
	if err := s.apply(cfg); err != nil {
		return false, fmt.Errorf("apply catalog: %w", err)
	}
	s.applied = sum
	return true, nil
}
