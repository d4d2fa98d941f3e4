// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the engine configuration: policy ceilings,
// parallelism, logging, audit sink and the default agent image.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/conveyor-ci/conveyor/pkg/errors"
)

// Config is the engine configuration.
type Config struct {
	// Log configures the structured logger.
	Log LogConfig `yaml:"log"`

	// Policy holds the sandbox ceilings requested limits are checked
	// against.
	Policy PolicyConfig `yaml:"policy"`

	// Parallelism caps concurrently running parallel branches.
	Parallelism int `yaml:"parallelism"`

	// RetryBackoffMillis is the pause between retry attempts.
	RetryBackoffMillis int `yaml:"retry_backoff_ms"`

	// AuditDB is the SQLite file receiving the invocation log; empty
	// disables the sink.
	AuditDB string `yaml:"audit_db"`

	// Trace enables span export to stderr.
	Trace bool `yaml:"trace"`

	// Agent is the default execution agent.
	Agent AgentConfig `yaml:"agent"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PolicyConfig holds the sandbox ceilings.
type PolicyConfig struct {
	MaxMemoryMB   int64 `yaml:"max_memory_mb"`
	MaxCPUMillis  int64 `yaml:"max_cpu_ms"`
	MaxWallMillis int64 `yaml:"max_wall_ms"`
	MaxThreads    int   `yaml:"max_threads"`
}

// AgentConfig is the default execution agent.
type AgentConfig struct {
	Image string `yaml:"image"`
}

// Default returns the shipped configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Policy: PolicyConfig{
			MaxMemoryMB:   4096,
			MaxCPUMillis:  300_000,
			MaxWallMillis: 1_800_000,
			MaxThreads:    50,
		},
		Parallelism: 4,
		Agent:       AgentConfig{Image: "alpine:latest"},
	}
}

// Load reads the configuration file at path, layered over the defaults and
// under the environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errors.IOError{Op: "read", Path: path, Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers CONVEYOR_* variables over the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONVEYOR_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Parallelism = n
		}
	}
	if v := os.Getenv("CONVEYOR_AUDIT_DB"); v != "" {
		cfg.AuditDB = v
	}
	if v := os.Getenv("CONVEYOR_TRACE"); v == "1" || v == "true" {
		cfg.Trace = true
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.Policy.MaxMemoryMB < 0 || c.Policy.MaxCPUMillis < 0 || c.Policy.MaxWallMillis < 0 || c.Policy.MaxThreads < 0 {
		return fmt.Errorf("policy ceilings must not be negative")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	return nil
}
