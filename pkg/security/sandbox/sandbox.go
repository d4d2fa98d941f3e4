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

// Package sandbox validates resource-limit policies and binds an isolation
// level around step execution.
//
// The package implements four binding strategies:
//   - none: direct call in the current task, cooperative cancel only
//   - goroutine: dedicated worker, abandoned as soon as its context is cancelled
//   - process: child process in its own group, killed as soon as its context
//     is cancelled
//   - container: Docker/Podman container with enforced limits
//
// Every binding presents the same step contract; callers observe the level
// only through error kinds. Cleanup is guaranteed on all exit paths.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Policy holds the engine-wide resource ceilings requests are validated
// against. The defaults match the engine's shipped configuration.
type Policy struct {
	MaxMemoryMB   int64
	MaxCPUMillis  int64
	MaxWallMillis int64
	MaxThreads    int
}

// DefaultPolicy returns the shipped ceilings: 4096 MB memory, 300 s CPU,
// 1800 s wall clock, 50 threads.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemoryMB:   4096,
		MaxCPUMillis:  300_000,
		MaxWallMillis: 1_800_000,
		MaxThreads:    50,
	}
}

// CommandSpec is the externally runnable form of a step, consumed by the
// process and container bindings.
type CommandSpec struct {
	// Script is run through `sh -c`
	Script string

	// Dir is the working directory
	Dir string

	// Env is the complete environment ("KEY=value")
	Env []string

	// Image is the container image for container bindings
	Image string
}

// Invoke is the in-process form of a step.
type Invoke func(ctx context.Context) (*pipeline.StepResult, error)

// Binding wraps one step call at a fixed isolation level. Bindings are
// single-use: create, Run, Cleanup.
type Binding interface {
	// Level returns the effective isolation level after any degradation.
	Level() pipeline.IsolationLevel

	// Run executes the step. cmd may be nil for steps with no external
	// command form; bindings that require one degrade (see Manager.Bind).
	Run(ctx context.Context, invoke Invoke, cmd *CommandSpec) (*pipeline.StepResult, error)

	// Probe exposes the resource readings for the limit enforcer.
	Probe() limits.Probe

	// Terminate force-stops the bound work. Called by the enforcer when
	// cooperative cancellation exceeds the grace window.
	Terminate()

	// Cleanup releases everything the binding acquired. Must be called on
	// every exit path; calling it twice is safe.
	Cleanup() error
}

// Manager validates limit requests against the policy and creates bindings.
type Manager struct {
	policy       Policy
	logger       *slog.Logger
	runtime      string // "docker", "podman" or ""
	defaultImage string
}

// NewManager creates a sandbox manager. The container runtime is detected
// once at construction.
func NewManager(policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		policy:  policy,
		logger:  logger,
		runtime: detectRuntime(),
	}
}

// SetDefaultImage sets the container image used when neither the step nor
// the workflow agent names one.
func (m *Manager) SetDefaultImage(image string) {
	m.defaultImage = image
}

// Validate checks requested limits against the policy ceilings. All issues
// are collected; an invalid result means nothing may execute.
func (m *Manager) Validate(lim pipeline.ResourceLimits) pipeline.PolicyValidation {
	var issues []string
	if m.policy.MaxMemoryMB > 0 && lim.MaxMemoryMB > m.policy.MaxMemoryMB {
		issues = append(issues, fmt.Sprintf("max_memory_mb %d exceeds ceiling %d", lim.MaxMemoryMB, m.policy.MaxMemoryMB))
	}
	if m.policy.MaxCPUMillis > 0 && lim.MaxCPUMillis > m.policy.MaxCPUMillis {
		issues = append(issues, fmt.Sprintf("max_cpu_ms %d exceeds ceiling %d", lim.MaxCPUMillis, m.policy.MaxCPUMillis))
	}
	if m.policy.MaxWallMillis > 0 && lim.MaxWallMillis > m.policy.MaxWallMillis {
		issues = append(issues, fmt.Sprintf("max_wall_ms %d exceeds ceiling %d", lim.MaxWallMillis, m.policy.MaxWallMillis))
	}
	if m.policy.MaxThreads > 0 && lim.MaxThreads > m.policy.MaxThreads {
		issues = append(issues, fmt.Sprintf("max_threads %d exceeds ceiling %d", lim.MaxThreads, m.policy.MaxThreads))
	}
	return pipeline.PolicyValidation{IsValid: len(issues) == 0, Issues: issues}
}

// Bind creates a binding for the requested level, degrading to the nearest
// available level when the requested one cannot serve the step:
// container without a runtime degrades to process; process and container
// without an external command form degrade to goroutine.
func (m *Manager) Bind(level pipeline.IsolationLevel, hasCommand bool, lim pipeline.ResourceLimits) Binding {
	effective := level
	if effective == pipeline.IsolationContainer && m.runtime == "" {
		m.logger.Warn("container runtime unavailable, degrading to process isolation")
		effective = pipeline.IsolationProcess
	}
	if (effective == pipeline.IsolationContainer || effective == pipeline.IsolationProcess) && !hasCommand {
		m.logger.Warn("step has no external command form, degrading to goroutine isolation",
			"requested", string(level),
		)
		effective = pipeline.IsolationGoroutine
	}

	switch effective {
	case pipeline.IsolationContainer:
		return newContainerBinding(m.runtime, lim, m.defaultImage, m.logger)
	case pipeline.IsolationProcess:
		return newProcessBinding(m.logger)
	case pipeline.IsolationGoroutine:
		return &inprocessBinding{level: pipeline.IsolationGoroutine, detached: true}
	default:
		return &inprocessBinding{level: pipeline.IsolationNone}
	}
}

// detectRuntime checks which container runtime is available.
func detectRuntime() string {
	if _, err := exec.LookPath("docker"); err == nil {
		cmd := exec.Command("docker", "info")
		if err := cmd.Run(); err == nil {
			return "docker"
		}
	}
	if _, err := exec.LookPath("podman"); err == nil {
		return "podman"
	}
	return ""
}
