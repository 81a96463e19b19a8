package config

import (
	"fmt"

	"mavuno/native/lending"
)

// ValidateConfig checks a normalized configuration and parses its genesis
// section so it is ready to bootstrap.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.DatabaseBackend {
	case BackendLevelDB, BackendBolt:
		if cfg.DataDir == "" {
			return fmt.Errorf("database: DataDir required for %s", cfg.DatabaseBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("database: unsupported backend %q", cfg.DatabaseBackend)
	}
	if err := lending.ValidateParams(cfg.Lending); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	if err := cfg.Genesis.Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}
