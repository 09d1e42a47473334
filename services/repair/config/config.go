// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config collects every tunable threshold of the repair
// pipeline in one YAML-loadable struct. Each field has a default that
// matches the constants the packages use on their own; loading a file
// only overrides what it names.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// MaxAttempts bounds the patch/validate loop per session.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxInvestigationTurns bounds the agent's tool loop.
	MaxInvestigationTurns int `yaml:"max_investigation_turns"`

	// ConfidenceThreshold is the default fast-path bar.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// ImportConfidenceThreshold raises the bar for module rewrites.
	ImportConfidenceThreshold float64 `yaml:"import_confidence_threshold"`

	// CircularImportThreshold is the bar for cycle-derived fixes.
	CircularImportThreshold float64 `yaml:"circular_import_threshold"`

	// FuzzyFloor is the minimum edit similarity the symbol index keeps.
	FuzzyFloor float64 `yaml:"fuzzy_floor"`

	// StdlibTypoRatio: a missing module within this normalized edit
	// distance of a stdlib name is treated as a local typo.
	StdlibTypoRatio float64 `yaml:"stdlib_typo_ratio"`

	// LocalNameTypoRatio: an undefined name within this normalized
	// distance of a local definition stays a single-file fix.
	LocalNameTypoRatio float64 `yaml:"local_name_typo_ratio"`

	// ExecTimeoutSeconds bounds each verification run.
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`

	// PythonBinary is the interpreter used for verification runs.
	PythonBinary string `yaml:"python_binary"`

	// SnippetTopK is how many solved problems to retrieve per fix.
	SnippetTopK int `yaml:"snippet_top_k"`

	// WeaviateURL enables knowledge retrieval when non-empty.
	WeaviateURL string `yaml:"weaviate_url"`

	// Model names the chat model used for investigation and fixing.
	Model string `yaml:"model"`

	// ListenAddr is the debug server's bind address.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration every threshold was tuned to.
func Default() Config {
	return Config{
		MaxAttempts:               5,
		MaxInvestigationTurns:     5,
		ConfidenceThreshold:       0.7,
		ImportConfidenceThreshold: 0.75,
		CircularImportThreshold:   0.9,
		FuzzyFloor:                0.6,
		StdlibTypoRatio:           0.4,
		LocalNameTypoRatio:        0.3,
		ExecTimeoutSeconds:        30,
		PythonBinary:              "python3",
		SnippetTopK:               3,
		Model:                     "claude-sonnet-4-20250514",
		ListenAddr:                ":8640",
	}
}

// Load parses YAML over the defaults and validates the result.
func Load(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(data)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.MaxInvestigationTurns < 1 {
		return fmt.Errorf("config: max_investigation_turns must be >= 1, got %d", c.MaxInvestigationTurns)
	}
	for name, v := range map[string]float64{
		"confidence_threshold":        c.ConfidenceThreshold,
		"import_confidence_threshold": c.ImportConfidenceThreshold,
		"circular_import_threshold":   c.CircularImportThreshold,
		"fuzzy_floor":                 c.FuzzyFloor,
		"stdlib_typo_ratio":           c.StdlibTypoRatio,
		"local_name_typo_ratio":       c.LocalNameTypoRatio,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0, 1], got %f", name, v)
		}
	}
	if c.ExecTimeoutSeconds < 1 {
		return fmt.Errorf("config: exec_timeout_seconds must be >= 1, got %d", c.ExecTimeoutSeconds)
	}
	if c.PythonBinary == "" {
		return fmt.Errorf("config: python_binary must not be empty")
	}
	return nil
}
