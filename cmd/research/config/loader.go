// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global ResearchConfig
	once   sync.Once

	validate = validator.New()
)

// DefaultPath returns ~/.aleutian-research/research.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian-research", "research.yaml"), nil
}

// Load ensures the config at path is loaded into Global. Empty path uses
// DefaultPath. Only the first call reads the file.
func Load(path string) error {
	var err error
	once.Do(func() {
		if path == "" {
			path, err = DefaultPath()
			if err != nil {
				return
			}
		}
		Global, err = LoadFrom(path)
	})
	return err
}

// LoadFrom reads and validates the config at path, creating it with
// defaults when it does not exist. Zero animation timings fall back to the
// default schedule.
func LoadFrom(path string) (ResearchConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, DefaultConfig()); err != nil {
			return ResearchConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ResearchConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ResearchConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if cfg.Animation.Dwell <= 0 && cfg.Animation.Settle <= 0 {
		cfg.Animation = DefaultConfig().Animation
	}
	if err := validate.Struct(cfg); err != nil {
		return ResearchConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory. The file is private to
// the user because it holds the session token.
func Save(path string, cfg ResearchConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
