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

// Package run implements `conveyor run`.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/conveyor-ci/conveyor/internal/config"
	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/internal/log"
	"github.com/conveyor-ci/conveyor/internal/secrets"
	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/internal/step/audit"
	"github.com/conveyor-ci/conveyor/internal/step/builtin"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/observability"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/security/sandbox"
)

// Exit codes reported by `conveyor run`.
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitDefinition = 2
	ExitAborted    = 3
	ExitInternal   = 4
)

// Options carries the run command flags.
type Options struct {
	ConfigPath     string
	WorkingDir     string
	PreviousStatus string
}

// NewCommand creates the `run` cobra command.
func NewCommand() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			code, err := Run(cmd.Context(), args[0], opts)
			if err != nil {
				return &ExitError{Code: code, Err: err}
			}
			if code != ExitSuccess {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "engine configuration file")
	cmd.Flags().StringVar(&opts.WorkingDir, "working-dir", "", "pipeline working directory (default: current directory)")
	cmd.Flags().StringVar(&opts.PreviousStatus, "previous-status", "", "prior run status, enables the changed post trigger")
	return cmd
}

// ExitError carries a process exit code through cobra's error path.
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Run loads the engine configuration and the pipeline definition, wires the
// execution stack and maps the workflow outcome onto an exit code.
func Run(ctx context.Context, definitionPath string, opts *Options) (int, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return ExitDefinition, err
	}

	logger := log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format)})

	w, err := pipeline.LoadDefinitionFile(definitionPath)
	if err != nil {
		return ExitDefinition, err
	}

	workDir := opts.WorkingDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return ExitInternal, err
		}
	}

	// Telemetry: spans to stderr when tracing is on, metrics always
	// registered so steps are counted.
	provider, err := observability.NewProvider(observability.Config{
		ServiceName: "conveyor",
		TraceOutput: traceOutput(cfg),
	})
	if err != nil {
		return ExitInternal, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// The execution stack: registry with builtins, recorder, enforcer and
	// sandbox manager behind the dispatcher.
	registry := step.NewRegistry()
	if err := builtin.RegisterAll(registry); err != nil {
		return ExitInternal, err
	}
	registry.Freeze()

	recorder := step.NewRecorder()
	manager := sandbox.NewManager(sandbox.Policy{
		MaxMemoryMB:   cfg.Policy.MaxMemoryMB,
		MaxCPUMillis:  cfg.Policy.MaxCPUMillis,
		MaxWallMillis: cfg.Policy.MaxWallMillis,
		MaxThreads:    cfg.Policy.MaxThreads,
	}, logger)
	manager.SetDefaultImage(cfg.Agent.Image)
	dispatcher := step.NewDispatcher(registry, recorder, limits.NewEnforcer(logger), manager, logger).
		WithMetrics(metrics)

	env := pipeline.NewEnvVars()
	for _, name := range secrets.DefaultAllowlist {
		if value, ok := os.LookupEnv(name); ok {
			env.Set(name, value)
		}
	}

	ec := pipeline.NewExecContext(workDir, env, logger, secrets.DefaultResolver())

	executorOpts := []pipeline.ExecutorOption{
		pipeline.WithLogger(log.WithExecutionContext(logger, ec.ExecutionID, w.Name)),
		pipeline.WithPolicy(manager),
		pipeline.WithParallelConcurrency(cfg.Parallelism),
		pipeline.WithRetryBackoff(time.Duration(cfg.RetryBackoffMillis) * time.Millisecond),
		pipeline.WithTracer(provider.Tracer()),
		pipeline.WithMetrics(metrics),
	}
	if opts.PreviousStatus != "" {
		executorOpts = append(executorOpts, pipeline.WithPreviousStatus(pipeline.Status(opts.PreviousStatus)))
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, execErr := pipeline.NewExecutor(dispatcher, executorOpts...).Execute(runCtx, w, ec)

	if cfg.AuditDB != "" {
		if err := writeAudit(cfg.AuditDB, ec.ExecutionID, recorder); err != nil {
			logger.Warn("failed to write audit log", "error", err)
		}
	}

	printSummary(result)
	return exitCode(result, execErr), execErr
}

func traceOutput(cfg *config.Config) io.Writer {
	if cfg.Trace {
		return os.Stderr
	}
	return nil
}

func writeAudit(path, executionID string, recorder *step.Recorder) error {
	store, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.WriteLog(ctx, executionID, recorder.Snapshot())
}

func printSummary(result *pipeline.Result) {
	if result == nil {
		return
	}
	fmt.Fprintf(os.Stdout, "\nPipeline %s\n", result.Status)
	for _, stage := range result.Stages {
		fmt.Fprintf(os.Stdout, "  %-20s %s\n", stage.Name, stage.Status)
	}
}

// exitCode maps the workflow outcome onto the documented exit codes.
func exitCode(result *pipeline.Result, err error) int {
	var defErr *errors.DefinitionError
	var policyErr *errors.PolicyViolationError
	switch {
	case errors.As(err, &defErr):
		return ExitDefinition
	case errors.As(err, &policyErr):
		return ExitAborted
	}

	if result == nil {
		return ExitInternal
	}
	switch result.Status {
	case pipeline.StatusSuccess, pipeline.StatusUnstable:
		return ExitSuccess
	case pipeline.StatusAborted:
		return ExitAborted
	case pipeline.StatusFailure:
		return ExitFailure
	default:
		return ExitInternal
	}
}
