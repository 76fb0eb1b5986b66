package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// loadFromEnv overlays LAMPKIT_* environment variables onto cfg. Nested
// sections are walked by env tags; lists are comma separated and maps use
// key:value pairs.
func loadFromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
