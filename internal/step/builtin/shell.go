// Package builtin provides the engine's built-in step implementations:
// sh, echo, readFile, writeFile, delay, checkout, archiveArtifacts and
// jsonQuery.
package builtin

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/security/sandbox"
)

// Shell runs a user-supplied command line through `sh -c`.
type Shell struct{}

// Name implements step.Interface.
func (Shell) Name() string { return "sh" }

// Category implements step.Interface.
func (Shell) Category() step.Category { return step.CategoryBuild }

// SecurityLevel implements step.Interface.
func (Shell) SecurityLevel() step.SecurityLevel { return step.Dangerous }

// Execute implements step.Interface.
func (Shell) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	script, ok := args.GetString("script")
	if !ok || script == "" {
		return nil, errors.New("sh: script is required")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = ec.WorkDir
	cmd.Env = ec.Env.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &pipeline.StepResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if !args.GetBool("returnStdout") && result.Stdout != "" {
		ec.Logger.Info(strings.TrimRight(result.Stdout, "\n"))
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			errMsg := strings.TrimSpace(stderr.String())
			if errMsg == "" {
				errMsg = err.Error()
			}
			return result, errors.New("command failed: " + errMsg)
		}
		return result, &errors.IOError{Op: "spawn", Path: "sh", Cause: err}
	}

	return result, nil
}

// Command implements step.CommandProvider, enabling process and container
// isolation for shell steps.
func (Shell) Command(ec *pipeline.ExecContext, args pipeline.Args) (*sandbox.CommandSpec, bool) {
	script, ok := args.GetString("script")
	if !ok || script == "" {
		return nil, false
	}
	return &sandbox.CommandSpec{
		Script: script,
		Dir:    ec.WorkDir,
		Env:    ec.Env.Environ(),
	}, true
}
