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
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// processBinding runs the step's command form in a child process placed in
// its own process group, so escalation kills the whole subtree.
type processBinding struct {
	logger *slog.Logger
	probe  *limits.ProcessProbe

	mu  sync.Mutex
	pid int
}

func newProcessBinding(logger *slog.Logger) *processBinding {
	return &processBinding{
		logger: logger,
		probe:  limits.NewProcessProbe(),
	}
}

// Level implements Binding.
func (b *processBinding) Level() pipeline.IsolationLevel {
	return pipeline.IsolationProcess
}

// Run implements Binding.
func (b *processBinding) Run(ctx context.Context, _ Invoke, cmd *CommandSpec) (*pipeline.StepResult, error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd.Script)
	execCmd.Dir = cmd.Dir
	execCmd.Env = cmd.Env
	execCmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Create new process group
	}
	// CommandContext's default kill targets only the direct child; the
	// group kill in Terminate covers grandchildren.
	execCmd.Cancel = func() error {
		b.Terminate()
		return nil
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	if err := execCmd.Start(); err != nil {
		return nil, &errors.IsolationError{Level: "process", Op: "start", Cause: err}
	}

	b.mu.Lock()
	b.pid = execCmd.Process.Pid
	b.mu.Unlock()
	b.probe.Bind(execCmd.Process.Pid)

	err := execCmd.Wait()
	result := &pipeline.StepResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			if exitErr.ExitCode() == -1 {
				return result, &errors.ProcessTerminatedError{Pid: b.pid, Signal: "SIGKILL"}
			}
			return result, err
		}
		return result, &errors.IsolationError{Level: "process", Op: "wait", Cause: err}
	}
	return result, nil
}

// Probe implements Binding.
func (b *processBinding) Probe() limits.Probe {
	return b.probe
}

// Terminate implements Binding: kills the child's whole process group.
func (b *processBinding) Terminate() {
	b.mu.Lock()
	pid := b.pid
	b.mu.Unlock()
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// Group may be gone already; fall back to the process itself.
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// Cleanup implements Binding. The process group is reaped by Wait; a still
// running group at cleanup time means escalation, same as Terminate.
func (b *processBinding) Cleanup() error {
	b.mu.Lock()
	pid := b.pid
	b.pid = 0
	b.mu.Unlock()
	if pid > 0 {
		// Idempotent: signalling an exited group is a no-op error.
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	return nil
}
