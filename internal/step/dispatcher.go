package step

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/observability"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/security/sandbox"
)

// Dispatcher is the invocation fabric: it resolves a step (mock overrides
// first, then the registry), wraps the call in the resource-limit enforcer
// and the sandbox binding, records the invocation and returns the result.
//
// It implements pipeline.Dispatcher.
type Dispatcher struct {
	registry *Registry
	mocks    *MockRegistry
	recorder *Recorder
	enforcer *limits.Enforcer
	sandbox  *sandbox.Manager
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewDispatcher assembles the invocation fabric. mocks and metrics may be
// nil; enforcer and sandbox manager are required.
func NewDispatcher(registry *Registry, recorder *Recorder, enforcer *limits.Enforcer, sb *sandbox.Manager, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		enforcer: enforcer,
		sandbox:  sb,
		logger:   logger,
	}
}

// WithMocks installs a mock registry consulted before the real one.
func (d *Dispatcher) WithMocks(mocks *MockRegistry) *Dispatcher {
	d.mocks = mocks
	return d
}

// WithMetrics installs the violation instruments.
func (d *Dispatcher) WithMetrics(metrics *observability.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

// Recorder exposes the invocation log for post-run verification.
func (d *Dispatcher) Recorder() *Recorder {
	return d.recorder
}

// Dispatch implements pipeline.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, ec *pipeline.ExecContext, name string, args pipeline.Args, opts pipeline.DispatchOptions) (*pipeline.StepResult, error) {
	// Mock overrides replace the whole execution stack: mocked steps are
	// deterministic and need neither limits nor isolation.
	if d.mocks != nil {
		if result, err, ok := d.mocks.Resolve(name, args); ok {
			d.recorder.Append(Invocation{StepName: name, Args: args, Result: result, Err: err})
			return result, err
		}
	}

	impl, ok := d.registry.Lookup(name)
	if !ok {
		err := &errors.UnresolvedStepError{
			Step:       name,
			Candidates: errors.NearestNames(name, d.registry.Names(), 2),
		}
		d.recorder.Append(Invocation{StepName: name, Args: args, Err: err})
		return nil, err
	}

	ec.Logger.Debug("dispatching step",
		"step", name,
		"security_level", string(impl.SecurityLevel()),
		"isolation", string(opts.Isolation),
	)

	var cmd *sandbox.CommandSpec
	if provider, ok := impl.(CommandProvider); ok {
		cmd, _ = provider.Command(ec, args)
	}
	if cmd != nil && cmd.Image == "" {
		cmd.Image = opts.Image
	}

	binding := d.sandbox.Bind(opts.Isolation, cmd != nil, opts.Limits)
	defer func() {
		if err := binding.Cleanup(); err != nil {
			ec.Logger.Warn("sandbox cleanup failed", "step", name, "error", err)
		}
	}()

	invoke := func(ctx context.Context) (*pipeline.StepResult, error) {
		return impl.Execute(ctx, ec, args)
	}

	var (
		mu     sync.Mutex
		result *pipeline.StepResult
	)
	work := func(ctx context.Context) error {
		r, err := binding.Run(ctx, invoke, cmd)
		mu.Lock()
		result = r
		mu.Unlock()
		return err
	}

	start := time.Now()
	usage, err := d.enforcer.Enforce(ctx, monitorID(ec), opts.Limits, binding.Probe(), binding.Terminate, work)

	mu.Lock()
	r := result
	mu.Unlock()
	if r == nil {
		r = &pipeline.StepResult{Duration: time.Since(start)}
	}
	r.Usage = &usage

	err = d.classify(ctx, name, ec, err)
	if r.Usage != nil && len(r.Usage.Violations) > 0 && d.metrics != nil {
		for _, v := range r.Usage.Violations {
			d.metrics.ObserveViolation(v)
		}
	}

	d.recorder.Append(Invocation{StepName: name, Args: args, Result: r, Err: err})

	if err != nil {
		// A failed step still returns its partial result (output, exit
		// code, usage) alongside the error.
		return r, err
	}
	return r, nil
}

// classify maps enforcer outcomes onto the engine error taxonomy: genuine
// violations pass through, execution errors unwrap back to the step's own
// failure wrapped with its identity, cancellations keep the reason recorded
// at cancel time (parent failure vs user abort vs timeout).
func (d *Dispatcher) classify(ctx context.Context, name string, ec *pipeline.ExecContext, err error) error {
	if err == nil {
		return nil
	}

	var violation *errors.ResourceViolationError
	if errors.As(err, &violation) {
		if violation.Type != errors.ViolationExecutionError {
			return violation
		}
		cause := violation.Cause
		if isCancelled(cause) {
			return cancellationError(ctx, cause)
		}
		return &errors.StepExecutionError{Step: name, Stage: ec.Scope, Cause: cause}
	}

	if isCancelled(err) {
		return cancellationError(ctx, err)
	}
	return &errors.StepExecutionError{Step: name, Stage: ec.Scope, Cause: err}
}

// cancellationError resolves the structured cancellation for err, preferring
// the cause recorded when the context was cancelled.
func cancellationError(ctx context.Context, err error) error {
	var cancelled *errors.CancellationError
	if errors.As(err, &cancelled) {
		return cancelled
	}
	if cause := context.Cause(ctx); cause != nil && errors.As(cause, &cancelled) {
		return cancelled
	}
	reason := errors.CancelUserAbort
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		reason = errors.CancelTimeout
	}
	return &errors.CancellationError{Reason: reason, Cause: err}
}

func isCancelled(err error) bool {
	var cancelled *errors.CancellationError
	return errors.As(err, &cancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// monitorID keys the enforcer's monitoring record. Every dispatch gets a
// fresh id; the workflow execution id prefixes it for log correlation.
func monitorID(ec *pipeline.ExecContext) string {
	return ec.ExecutionID + "/" + uuid.New().String()[:8]
}
