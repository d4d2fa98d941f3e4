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

// Package limits enforces per-execution resource ceilings around step work.
//
// Each enforced execution runs under a sampler that reads memory, CPU time
// and thread counts at a fixed period. A breach cancels the work token; if
// the work does not unwind within the grace window the caller-supplied
// terminator escalates (process kill, container stop).
package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

const (
	// DefaultSamplePeriod is the sampler tick.
	DefaultSamplePeriod = 50 * time.Millisecond

	// DefaultGrace is how long cooperative cancellation may take before the
	// enforcer escalates to forced termination.
	DefaultGrace = 1 * time.Second

	// warnThreshold marks usage above this fraction of a limit as a warning.
	warnThreshold = 0.9
)

// Work is the monitored computation. It must observe ctx at suspension
// points and release its resources on every exit path.
type Work func(ctx context.Context) error

// Terminator force-stops work that ignored cooperative cancellation past
// the grace window. Process and container bindings supply one; in-process
// work has nothing safe to kill and passes nil.
type Terminator func()

// Enforcer runs work under declared resource ceilings. One enforcer is
// shared per engine; executions are keyed by id and duplicate active ids
// are rejected.
type Enforcer struct {
	mu     sync.Mutex
	active map[string]struct{}

	samplePeriod time.Duration
	grace        time.Duration
	logger       *slog.Logger
}

// NewEnforcer creates an enforcer with the default sampling period and
// grace window.
func NewEnforcer(logger *slog.Logger, opts ...Option) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enforcer{
		active:       make(map[string]struct{}),
		samplePeriod: DefaultSamplePeriod,
		grace:        DefaultGrace,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithSamplePeriod overrides the sampler tick (clamped to 10ms..100ms).
func WithSamplePeriod(period time.Duration) Option {
	return func(e *Enforcer) {
		if period < 10*time.Millisecond {
			period = 10 * time.Millisecond
		}
		if period > 100*time.Millisecond {
			period = 100 * time.Millisecond
		}
		e.samplePeriod = period
	}
}

// WithGrace overrides the cooperative-cancellation grace window.
func WithGrace(grace time.Duration) Option {
	return func(e *Enforcer) {
		if grace > 0 && grace <= time.Second {
			e.grace = grace
		}
	}
}

// Enforce runs work under the given limits, sampling usage through probe
// and terminating on breach. The returned usage is always populated, also
// on failure paths. Violations are never silently dropped: a breach always
// surfaces as a ResourceViolationError.
func (e *Enforcer) Enforce(ctx context.Context, executionID string, lim pipeline.ResourceLimits, probe Probe, terminate Terminator, work Work) (pipeline.ResourceUsage, error) {
	usage := pipeline.ResourceUsage{}

	if err := e.acquire(executionID); err != nil {
		return usage, err
	}
	defer e.release(executionID)

	if probe == nil {
		probe = NewRuntimeProbe()
	}

	start := time.Now()
	baseline := probe.Sample()

	workCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// An explicitly declared wall limit of zero expires at the first
	// suspension point.
	var deadline time.Time
	if lim.MaxWallMillis > 0 || lim.WallExplicit {
		deadline = start.Add(time.Duration(lim.MaxWallMillis) * time.Millisecond)
		var cancelDeadline context.CancelFunc
		workCtx, cancelDeadline = context.WithDeadline(workCtx, deadline)
		defer cancelDeadline()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- work(workCtx)
	}()

	var violation *errors.ResourceViolationError
	ticker := time.NewTicker(e.samplePeriod)
	defer ticker.Stop()

	var workErr error
	running := true
	for running {
		select {
		case err := <-done:
			workErr = err
			running = false

		case <-ticker.C:
			sample := probe.Sample()
			e.updateUsage(&usage, sample, baseline, start, lim)

			if v := e.checkBreach(&usage, lim, executionID); v != nil {
				violation = v
				usage.Violations = append(usage.Violations, string(v.Type))
				e.logger.Warn("resource violation, cancelling work",
					"execution_id", executionID,
					"type", string(v.Type),
					"observed", v.Observed,
					"limit", v.Limit,
				)
				cancel(v)
				workErr = e.awaitUnwind(done, terminate, executionID)
				running = false
			}
		}
	}

	// Final sample so short-lived work still reports usage.
	e.updateUsage(&usage, probe.Sample(), baseline, start, lim)
	usage.WallMillisUsed = time.Since(start).Milliseconds()

	if violation != nil {
		return usage, violation
	}

	// A deadline expiry without a sampler tick in between is still a wall
	// violation, not a bare context error.
	if workErr != nil && (lim.MaxWallMillis > 0 || lim.WallExplicit) &&
		workCtx.Err() == context.DeadlineExceeded {
		v := &errors.ResourceViolationError{
			Type:        errors.ViolationWall,
			Observed:    usage.WallMillisUsed,
			Limit:       lim.MaxWallMillis,
			ExecutionID: executionID,
		}
		usage.Violations = append(usage.Violations, string(v.Type))
		return usage, v
	}

	if workErr != nil {
		if ctx.Err() != nil {
			return usage, workErr
		}
		return usage, &errors.ResourceViolationError{
			Type:        errors.ViolationExecutionError,
			ExecutionID: executionID,
			Cause:       workErr,
		}
	}
	return usage, nil
}

// awaitUnwind waits for cancelled work to finish within the grace window,
// escalating to the terminator when it does not.
func (e *Enforcer) awaitUnwind(done <-chan error, terminate Terminator, executionID string) error {
	select {
	case err := <-done:
		return err
	case <-time.After(e.grace):
	}

	if terminate != nil {
		e.logger.Warn("grace window expired, forcing termination",
			"execution_id", executionID,
		)
		terminate()
		select {
		case err := <-done:
			return err
		case <-time.After(e.grace):
		}
	}

	// The goroutine is abandoned; its eventual result is discarded.
	e.logger.Error("work did not unwind after forced termination",
		"execution_id", executionID,
	)
	return nil
}

// updateUsage folds one sample into the running counters.
func (e *Enforcer) updateUsage(usage *pipeline.ResourceUsage, sample Sample, baseline Sample, start time.Time, lim pipeline.ResourceLimits) {
	if sample.MemoryMB > usage.PeakMemoryMB {
		usage.PeakMemoryMB = sample.MemoryMB
	}
	if cpu := sample.CPUMillis - baseline.CPUMillis; cpu > usage.CPUMillisUsed {
		usage.CPUMillisUsed = cpu
	}
	if sample.Threads > usage.ThreadsSeen {
		usage.ThreadsSeen = sample.Threads
	}
	usage.WallMillisUsed = time.Since(start).Milliseconds()

	warn := func(kind string, observed, limit int64) {
		if limit <= 0 || observed > limit {
			return
		}
		if float64(observed) >= warnThreshold*float64(limit) {
			for _, w := range usage.Warnings {
				if w == kind {
					return
				}
			}
			usage.Warnings = append(usage.Warnings, kind)
		}
	}
	warn(string(errors.ViolationMemory), usage.PeakMemoryMB, lim.MaxMemoryMB)
	warn(string(errors.ViolationCPU), usage.CPUMillisUsed, lim.MaxCPUMillis)
	warn(string(errors.ViolationWall), usage.WallMillisUsed, lim.MaxWallMillis)
	warn(string(errors.ViolationThreads), int64(usage.ThreadsSeen), int64(lim.MaxThreads))
}

// checkBreach tests the counters against the limits. Precedence when
// several fire in the same sample: wall over cpu over memory over threads.
func (e *Enforcer) checkBreach(usage *pipeline.ResourceUsage, lim pipeline.ResourceLimits, executionID string) *errors.ResourceViolationError {
	if (lim.MaxWallMillis > 0 || lim.WallExplicit) && usage.WallMillisUsed >= lim.MaxWallMillis {
		return &errors.ResourceViolationError{
			Type:        errors.ViolationWall,
			Observed:    usage.WallMillisUsed,
			Limit:       lim.MaxWallMillis,
			ExecutionID: executionID,
		}
	}
	if lim.MaxCPUMillis > 0 && usage.CPUMillisUsed > lim.MaxCPUMillis {
		return &errors.ResourceViolationError{
			Type:        errors.ViolationCPU,
			Observed:    usage.CPUMillisUsed,
			Limit:       lim.MaxCPUMillis,
			ExecutionID: executionID,
		}
	}
	if lim.MaxMemoryMB > 0 && usage.PeakMemoryMB > lim.MaxMemoryMB {
		return &errors.ResourceViolationError{
			Type:        errors.ViolationMemory,
			Observed:    usage.PeakMemoryMB,
			Limit:       lim.MaxMemoryMB,
			ExecutionID: executionID,
		}
	}
	if lim.MaxThreads > 0 && usage.ThreadsSeen > lim.MaxThreads {
		return &errors.ResourceViolationError{
			Type:        errors.ViolationThreads,
			Observed:    int64(usage.ThreadsSeen),
			Limit:       int64(lim.MaxThreads),
			ExecutionID: executionID,
		}
	}
	return nil
}

func (e *Enforcer) acquire(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.active[executionID]; exists {
		return fmt.Errorf("execution id %q already active", executionID)
	}
	e.active[executionID] = struct{}{}
	return nil
}

func (e *Enforcer) release(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, executionID)
}

// ActiveCount reports the number of currently monitored executions.
func (e *Enforcer) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
