// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package theorystore

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/TheoryStore/pkg/validation"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config carries the registry's layout conventions and storage settings.
type Config struct {
	// StorageDirName is the directory each context keeps its storage
	// root in. Paths inside it redirect to the owning context.
	StorageDirName string `yaml:"storage_dir_name" validate:"required"`

	// ProofsDirName is the directory the proof layer keeps inside a
	// context. Paths inside it redirect to the owning context.
	ProofsDirName string `yaml:"proofs_dir_name" validate:"required"`

	// MarkerName is the file whose presence marks a context directory.
	MarkerName string `yaml:"marker_name" validate:"required"`

	// Roots pre-registers root context names to directories. The
	// directories must exist when the Registry is created.
	Roots map[string]string `yaml:"roots"`

	// InMemory keeps every context's entry database off disk. Tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites makes entry databases fsync each write batch.
	SyncWrites bool `yaml:"sync_writes"`

	// Logger receives structured logs for the registry and every Store
	// it opens. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the stock layout conventions.
func DefaultConfig() Config {
	return Config{
		StorageDirName: ".theorystore",
		ProofsDirName:  "proofs",
		MarkerName:     ".context",
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("theorystore: invalid config: %w", err)
	}
	for _, name := range []string{c.StorageDirName, c.ProofsDirName, c.MarkerName} {
		if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
			return fmt.Errorf("theorystore: invalid config: %q is not a plain file name", name)
		}
	}
	for name := range c.Roots {
		if err := validation.ValidateRootName(name); err != nil {
			return fmt.Errorf("theorystore: invalid config: %w", err)
		}
	}
	return nil
}

// LoadConfig reads a yaml settings file over the defaults.
//
// Description:
//
//	The file may set any subset of the yaml-tagged Config fields;
//	omitted fields keep their DefaultConfig values. A roots map in the
//	file pre-registers root contexts at NewRegistry time.
//
// Outputs:
//   - Config: validated configuration.
//   - error: unreadable file, malformed yaml, or failed validation.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("theorystore: read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("theorystore: parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
