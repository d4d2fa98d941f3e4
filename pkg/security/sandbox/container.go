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

package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// DefaultImage is the container image used when the step does not name one.
const DefaultImage = "alpine:latest"

// containerBinding runs the step's command form inside a Docker/Podman
// container created with the declared resource limits.
type containerBinding struct {
	runtime      string
	lim          pipeline.ResourceLimits
	defaultImage string
	logger       *slog.Logger

	mu   sync.Mutex
	name string
}

func newContainerBinding(runtime string, lim pipeline.ResourceLimits, defaultImage string, logger *slog.Logger) *containerBinding {
	return &containerBinding{
		runtime:      runtime,
		lim:          lim,
		defaultImage: defaultImage,
		logger:       logger,
		name:         "conveyor-" + uuid.New().String()[:8],
	}
}

// Level implements Binding.
func (b *containerBinding) Level() pipeline.IsolationLevel {
	return pipeline.IsolationContainer
}

// Run implements Binding.
func (b *containerBinding) Run(ctx context.Context, _ Invoke, cmd *CommandSpec) (*pipeline.StepResult, error) {
	image := cmd.Image
	if image == "" {
		image = b.defaultImage
	}
	if image == "" {
		image = DefaultImage
	}

	args := []string{"run", "--rm", "--name", b.name}

	if b.lim.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", b.lim.MaxMemoryMB))
	}
	if b.lim.MaxCPUMillis > 0 && b.lim.MaxWallMillis > 0 {
		// The runtime caps CPU shares, not cumulative time; quota is derived
		// from the cpu-per-wall ratio and the enforcer handles the rest.
		cpus := float64(b.lim.MaxCPUMillis) / float64(b.lim.MaxWallMillis)
		if cpus > 0 {
			args = append(args, "--cpus", fmt.Sprintf("%.2f", cpus))
		}
	}
	if b.lim.MaxThreads > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", b.lim.MaxThreads))
	}

	for _, kv := range cmd.Env {
		if isCredentialEnvVar(kv) {
			continue
		}
		args = append(args, "--env", kv)
	}

	if cmd.Dir != "" {
		args = append(args, "--volume", fmt.Sprintf("%s:/workspace", cmd.Dir), "--workdir", "/workspace")
	}

	args = append(args,
		"--security-opt", "no-new-privileges",
		"--label", "conveyor.sandbox=true",
	)

	args = append(args, image, "sh", "-c", cmd.Script)

	execCmd := exec.CommandContext(ctx, b.runtime, args...)
	execCmd.Cancel = func() error {
		b.Terminate()
		return nil
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()
	result := &pipeline.StepResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			if ctx.Err() != nil {
				return result, &errors.ContainerStoppedError{ContainerID: b.name}
			}
			return result, err
		}
		return result, &errors.IsolationError{Level: "container", Op: "start", Cause: err}
	}
	return result, nil
}

// Probe implements Binding. Container stats flow through the runtime's own
// cgroup accounting; the engine-side probe only tracks wall clock.
func (b *containerBinding) Probe() limits.Probe {
	return noopProbe{}
}

// Terminate implements Binding: force-removes the container.
func (b *containerBinding) Terminate() {
	b.mu.Lock()
	name := b.name
	b.mu.Unlock()
	if name == "" {
		return
	}
	stopCmd := exec.Command(b.runtime, "rm", "--force", name)
	if err := stopCmd.Run(); err != nil {
		b.logger.Warn("failed to remove sandbox container",
			"container", name,
			"error", err,
		)
	}
}

// Cleanup implements Binding. --rm reaps normally exited containers; a
// survivor means escalation happened mid-flight.
func (b *containerBinding) Cleanup() error {
	b.mu.Lock()
	name := b.name
	b.name = ""
	b.mu.Unlock()
	if name == "" {
		return nil
	}
	// Idempotent: removing an already-removed container fails silently.
	_ = exec.Command(b.runtime, "rm", "--force", name).Run()
	return nil
}

// noopProbe reports nothing; used where the runtime enforces limits itself.
type noopProbe struct{}

func (noopProbe) Sample() limits.Sample { return limits.Sample{} }

// isCredentialEnvVar checks if a KEY=value pair names a credential.
// Credentials never cross the container boundary via environment.
func isCredentialEnvVar(kv string) bool {
	name := kv
	if idx := strings.IndexByte(kv, '='); idx >= 0 {
		name = kv[:idx]
	}
	upper := strings.ToUpper(name)

	patterns := []string{
		"API_KEY",
		"APIKEY",
		"_TOKEN",
		"_SECRET",
		"_PASSWORD",
		"_PASS",
		"_PWD",
		"AWS_",
	}
	for _, pattern := range patterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
