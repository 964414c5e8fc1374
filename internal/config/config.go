// Package config loads and validates the JSON sync configuration file.
// Field-level required-ness is asserted with go-playground/validator
// struct tags, the same library the corpus uses for request-struct
// validation (adhtanjung-maukmn-api-alpha); cross-field invariants like
// server count, unique names, and positive size limits aren't expressible
// as tags and are checked by hand afterward.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/immich-sync/engine/internal/model"
)

// Config is the root of the JSON configuration file: {"servers": [...]}.
type Config struct {
	Servers []model.ServerConfig `json:"servers"`
}

var validate = validator.New()

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the sync engine's invariants: at least two
// servers, all required fields present, unique non-empty names, and a
// positive size_limit_bytes when given.
func Validate(cfg Config) error {
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("config: servers must be a non-empty list")
	}
	if len(cfg.Servers) < 2 {
		return fmt.Errorf("config: a sync needs at least two servers, got %d", len(cfg.Servers))
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for i, sc := range cfg.Servers {
		if err := validate.Struct(sc); err != nil {
			return fmt.Errorf("config: server %d is missing a required field: %w", i, err)
		}
		if seen[sc.Name] {
			return fmt.Errorf("config: duplicate server name %q", sc.Name)
		}
		seen[sc.Name] = true
		if sc.SizeLimitBytes != nil && *sc.SizeLimitBytes <= 0 {
			return fmt.Errorf("config: server %q size_limit_bytes must be a positive integer", sc.Name)
		}
	}

	return nil
}
