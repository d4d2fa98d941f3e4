package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/observability"
	"github.com/conveyor-ci/conveyor/pkg/pipeline/expression"
)

// DefaultParallelConcurrency is the default cap on concurrently running
// parallel branches. Can be overridden via WithParallelConcurrency.
const DefaultParallelConcurrency = 4

// DefaultRetryBackoff is the pause between retry attempts. The engine
// defaults to no backoff; WithRetryBackoff overrides it.
const DefaultRetryBackoff = 0 * time.Millisecond

// Dispatcher resolves and runs a leaf step. The registry-backed
// implementation composes mock overrides, invocation recording, resource
// limits and the sandbox binding around the call.
type Dispatcher interface {
	Dispatch(ctx context.Context, ec *ExecContext, name string, args Args, opts DispatchOptions) (*StepResult, error)
}

// DispatchOptions carries the stage-scoped execution constraints.
type DispatchOptions struct {
	Isolation IsolationLevel
	Limits    ResourceLimits

	// Image is the workflow agent's container image, used by container
	// bindings when the step names none.
	Image string
}

// PolicyValidator checks requested limits against the sandbox policy before
// any execution.
type PolicyValidator interface {
	Validate(limits ResourceLimits) PolicyValidation
}

// StageResult is the terminal outcome of one stage.
type StageResult struct {
	Name   string
	Status Status
	Err    error
}

// Result is the terminal outcome of a workflow execution. Stages carries
// exactly one entry per declared stage, in declaration order.
type Result struct {
	Status Status
	Stages []StageResult
	Err    error
}

// Executor traverses a workflow graph: stages sequentially, parallel
// branches concurrently, post hooks by resolved status.
type Executor struct {
	dispatcher  Dispatcher
	policy      PolicyValidator
	logger      *slog.Logger
	exprEval    *expression.Evaluator
	parallelism int
	backoff     time.Duration
	prevStatus  Status
	tracer      trace.Tracer
	metrics     *observability.Metrics
}

// NewExecutor creates an executor over the given dispatcher.
func NewExecutor(dispatcher Dispatcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		exprEval:    expression.New(),
		parallelism: DefaultParallelConcurrency,
		backoff:     DefaultRetryBackoff,
		tracer:      noop.NewTracerProvider().Tracer("conveyor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets a custom logger for the executor.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithPolicy sets the sandbox policy validated before execution.
func WithPolicy(policy PolicyValidator) ExecutorOption {
	return func(e *Executor) { e.policy = policy }
}

// WithParallelConcurrency caps concurrently running parallel branches.
func WithParallelConcurrency(max int) ExecutorOption {
	return func(e *Executor) {
		if max > 0 {
			e.parallelism = max
		}
	}
}

// WithRetryBackoff sets the pause between retry attempts.
func WithRetryBackoff(backoff time.Duration) ExecutorOption {
	return func(e *Executor) { e.backoff = backoff }
}

// WithPreviousStatus supplies the prior run's status, enabling the
// `changed` post trigger. The engine itself persists nothing.
func WithPreviousStatus(status Status) ExecutorOption {
	return func(e *Executor) { e.prevStatus = status }
}

// WithTracer sets the OpenTelemetry tracer for stage/step spans.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics sets the Prometheus instruments updated during execution.
func WithMetrics(metrics *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = metrics }
}

// Execute runs the workflow under the given global context. The returned
// Result always carries one terminal (or Pending, if never started) status
// per declared stage. The error reports the first workflow-level failure.
func (e *Executor) Execute(ctx context.Context, w *Workflow, ec *ExecContext) (*Result, error) {
	result := &Result{Status: StatusRunning, Stages: make([]StageResult, len(w.Stages))}
	for i, stage := range w.Stages {
		result.Stages[i] = StageResult{Name: stage.Name, Status: StatusPending}
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.execute",
		trace.WithAttributes(
			attribute.String("pipeline", w.Name),
			attribute.String("execution_id", ec.ExecutionID),
		))
	defer span.End()

	// Sandbox policy preflight: reject before any step runs.
	if err := e.validatePolicy(w); err != nil {
		e.logger.Error("sandbox policy rejected pipeline", "error", err)
		result.Status = StatusAborted
		result.Err = err
		return result, err
	}

	// Expand the global environment in declaration order; later entries may
	// reference earlier ones.
	for _, entry := range w.Env {
		value, err := ec.Env.Expand(entry.Value)
		if err != nil {
			result.Status = StatusFailure
			result.Err = err
			return result, err
		}
		ec.Env.Set(entry.Name, value)
	}

	e.logger.Info("pipeline started",
		"pipeline", w.Name,
		"execution_id", ec.ExecutionID,
		"stages", len(w.Stages),
	)

	aborted := false
	for i := range w.Stages {
		stage := &w.Stages[i]

		if aborted || ctx.Err() != nil {
			aborted = true
			result.Stages[i].Status = StatusAborted
			continue
		}

		stageStatus, stageErr := e.runStage(ctx, stage, ec, w.Agent)
		result.Stages[i].Status = stageStatus
		result.Stages[i].Err = stageErr
		if result.Err == nil && stageErr != nil {
			result.Err = stageErr
		}
		if stageStatus == StatusAborted {
			aborted = true
		}
		if stageStatus == StatusFailure {
			// A failed stage stops the pipeline; the stages that never start
			// resolve Aborted.
			for j := i + 1; j < len(w.Stages); j++ {
				result.Stages[j].Status = StatusAborted
				result.Stages[j].Err = &errors.CancellationError{Reason: errors.CancelParentFailure}
			}
			break
		}
	}

	result.Status = foldWorkflowStatus(result.Stages, aborted)

	e.runPostHooks(ctx, w.Post, ec, result.Status, "post")

	e.logger.Info("pipeline finished",
		"pipeline", w.Name,
		"execution_id", ec.ExecutionID,
		"status", string(result.Status),
	)
	span.SetAttributes(attribute.String("status", string(result.Status)))

	if result.Err == nil && result.Status == StatusAborted {
		result.Err = &errors.CancellationError{Reason: errors.CancelUserAbort, Cause: ctx.Err()}
	}
	return result, result.Err
}

// validatePolicy checks every stage's requested limits against the sandbox
// policy. All issues across all stages are aggregated into one rejection.
func (e *Executor) validatePolicy(w *Workflow) error {
	if e.policy == nil {
		return nil
	}
	var issues []string
	for _, stage := range w.Stages {
		if stage.Limits.IsUnbounded() {
			continue
		}
		if v := e.policy.Validate(stage.Limits); !v.IsValid {
			for _, issue := range v.Issues {
				issues = append(issues, fmt.Sprintf("stage %s: %s", stage.Name, issue))
			}
		}
	}
	if len(issues) > 0 {
		return &errors.PolicyViolationError{Issues: issues}
	}
	return nil
}

// runStage executes one stage and resolves its terminal status.
func (e *Executor) runStage(ctx context.Context, stage *Stage, parent *ExecContext, agent Agent) (Status, error) {
	ec := parent.ForkStage(stage.Name)

	ctx, span := e.tracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(attribute.String("stage", stage.Name)))
	defer span.End()

	if stage.When != "" {
		ok, err := e.exprEval.Evaluate(stage.When, map[string]interface{}{
			"env": envMap(ec.Env),
		})
		if err != nil {
			return StatusFailure, err
		}
		if !ok {
			ec.Logger.Info("stage skipped by when guard")
			return StatusSuccess, nil
		}
	}

	ec.Logger.Info("stage started")
	start := time.Now()

	opts := DispatchOptions{Isolation: stage.Isolation, Limits: stage.Limits}
	if agent.Type == AgentDocker {
		opts.Image = agent.Image
	}
	unstable, err := e.runSteps(ctx, stage.Steps, ec, opts)

	status := resolveStatus(ctx, err, unstable)
	ec.Logger.Info("stage finished",
		"status", string(status),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if e.metrics != nil {
		e.metrics.ObserveStage(stage.Name, string(status), time.Since(start))
	}
	span.SetAttributes(attribute.String("status", string(status)))

	e.runPostHooks(ctx, stage.Post, ec, status, "stage post")

	return status, err
}

// runSteps executes a step sequence in declaration order with happens-before
// between consecutive steps. Returns whether any step reported unstable.
func (e *Executor) runSteps(ctx context.Context, steps []Step, ec *ExecContext, opts DispatchOptions) (bool, error) {
	unstable := false
	for i := range steps {
		stepUnstable, err := e.runStep(ctx, &steps[i], ec, opts)
		unstable = unstable || stepUnstable
		if err != nil {
			return unstable, err
		}
	}
	return unstable, nil
}

// runStep executes one step: structural steps (parallel, retry) recurse,
// leaf steps dispatch through the registry.
func (e *Executor) runStep(ctx context.Context, step *Step, ec *ExecContext, opts DispatchOptions) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &errors.CancellationError{Reason: errors.CancelUserAbort, Cause: err}
	}

	switch step.Type {
	case StepParallel:
		return e.runParallel(ctx, step, ec, opts)
	case StepRetry:
		return e.runRetry(ctx, step, ec, opts)
	default:
		return e.runLeaf(ctx, step, ec, opts)
	}
}

// runLeaf expands the step's parameters against the visible environment and
// dispatches it through the registry.
func (e *Executor) runLeaf(ctx context.Context, step *Step, ec *ExecContext, opts DispatchOptions) (bool, error) {
	name, args, err := leafInvocation(step, ec.Env)
	if err != nil {
		return false, err
	}

	stepCtx := ec.ForkStep(name)
	start := time.Now()
	result, err := e.dispatcher.Dispatch(ctx, stepCtx, name, args, opts)

	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		e.metrics.ObserveStep(name, status, time.Since(start))
	}

	if err != nil {
		return false, err
	}
	return result != nil && result.Unstable, nil
}

// leafInvocation maps a step variant onto its registry name and arguments,
// expanding ${NAME} references in string parameters.
func leafInvocation(step *Step, env *EnvVars) (string, Args, error) {
	expand := func(s string) (string, error) {
		if s == "" {
			return "", nil
		}
		return env.Expand(s)
	}

	switch step.Type {
	case StepShell:
		script, err := expand(step.Command)
		if err != nil {
			return "", Args{}, err
		}
		return "sh", NamedArgs(map[string]any{
			"script":       script,
			"returnStdout": step.ReturnStdout,
		}), nil
	case StepEcho:
		message, err := expand(step.Message)
		if err != nil {
			return "", Args{}, err
		}
		return "echo", NamedArgs(map[string]any{"message": message}), nil
	case StepReadFile:
		path, err := expand(step.Path)
		if err != nil {
			return "", Args{}, err
		}
		return "readFile", NamedArgs(map[string]any{"file": path}), nil
	case StepWriteFile:
		path, err := expand(step.Path)
		if err != nil {
			return "", Args{}, err
		}
		content, err := expand(step.Content)
		if err != nil {
			return "", Args{}, err
		}
		return "writeFile", NamedArgs(map[string]any{"file": path, "text": content}), nil
	case StepDelay:
		return "delay", NamedArgs(map[string]any{
			"milliseconds": step.Duration.Milliseconds(),
		}), nil
	case StepCheckout:
		repo, err := expand(step.Repo)
		if err != nil {
			return "", Args{}, err
		}
		ref, err := expand(step.Ref)
		if err != nil {
			return "", Args{}, err
		}
		dir, err := expand(step.Dir)
		if err != nil {
			return "", Args{}, err
		}
		return "checkout", NamedArgs(map[string]any{
			"url":    repo,
			"branch": ref,
			"dir":    dir,
		}), nil
	case StepArchiveArtifacts:
		patterns := make([]any, 0, len(step.Patterns))
		for _, p := range step.Patterns {
			expanded, err := expand(p)
			if err != nil {
				return "", Args{}, err
			}
			patterns = append(patterns, expanded)
		}
		return "archiveArtifacts", NamedArgs(map[string]any{"artifacts": patterns}), nil
	case StepUserDefined:
		return step.Name, step.Args, nil
	default:
		return "", Args{}, &errors.DefinitionError{
			Message: fmt.Sprintf("unknown step type %q", step.Type),
		}
	}
}

// branchOutcome pairs a branch name with its terminal state.
type branchOutcome struct {
	name     string
	unstable bool
	err      error
}

// runParallel executes branches as sibling tasks on a bounded pool.
// Fail-fast (the default) cancels remaining branches on the first failure;
// collect-all lets every branch finish and aggregates the failures.
func (e *Executor) runParallel(ctx context.Context, step *Step, ec *ExecContext, opts DispatchOptions) (bool, error) {
	branchCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sem := make(chan struct{}, e.parallelism)
	results := make(chan branchOutcome, len(step.Branches))

	ec.Logger.Debug("parallel started",
		"branches", len(step.Branches),
		"fail_fast", step.FailFast,
	)

	for _, branch := range step.Branches {
		go func(b Branch) {
			// Acquire a pool slot; give up if the parallel step is already
			// being torn down.
			select {
			case sem <- struct{}{}:
			case <-branchCtx.Done():
				results <- branchOutcome{name: b.Name, err: cancellationFor(branchCtx)}
				return
			}
			defer func() { <-sem }()

			bec := ec.ForkBranch(b.Name)
			unstable, err := e.runSteps(branchCtx, b.Steps, bec, opts)
			if err != nil && branchCtx.Err() != nil && !isCancellation(err) {
				err = cancellationFor(branchCtx)
			}
			if err != nil && step.FailFast {
				cancel(&errors.CancellationError{Reason: errors.CancelParentFailure})
			}
			results <- branchOutcome{name: b.Name, unstable: unstable, err: err}
		}(branch)
	}

	unstable := false
	var failures []error
	for range step.Branches {
		r := <-results
		unstable = unstable || r.unstable
		if r.err != nil {
			failures = append(failures, fmt.Errorf("branch %s: %w", r.name, r.err))
		}
	}

	if len(failures) == 0 {
		return unstable, nil
	}
	if step.FailFast {
		// Surface a real branch failure over the induced sibling cancellations.
		for _, f := range failures {
			if !isCancellation(f) {
				return unstable, f
			}
		}
		return unstable, failures[0]
	}
	return unstable, stderrors.Join(failures...)
}

// runRetry executes the inner sequence up to Attempts times. Success on any
// attempt short-circuits; the final attempt's error surfaces.
func (e *Executor) runRetry(ctx context.Context, step *Step, ec *ExecContext, opts DispatchOptions) (bool, error) {
	var lastErr error
	unstable := false

	for attempt := 1; attempt <= step.Attempts; attempt++ {
		attemptUnstable, err := e.runSteps(ctx, step.Body, ec, opts)
		unstable = unstable || attemptUnstable
		if err == nil {
			return unstable, nil
		}
		lastErr = err

		// Cancellations and non-retryable errors (resource violations,
		// policy rejections) are not transient failures.
		if isCancellation(err) || ctx.Err() != nil {
			return unstable, err
		}
		var classifier errors.ErrorClassifier
		if errors.As(err, &classifier) && !classifier.IsRetryable() {
			return unstable, err
		}

		if attempt == step.Attempts {
			break
		}
		ec.Logger.Debug("retrying step sequence",
			"attempt", attempt,
			"max_attempts", step.Attempts,
			"error", err,
		)
		if e.backoff > 0 {
			select {
			case <-ctx.Done():
				return unstable, &errors.CancellationError{Reason: errors.CancelUserAbort, Cause: ctx.Err()}
			case <-time.After(e.backoff):
			}
		}
	}

	return unstable, lastErr
}

// runPostHooks fires the hooks matching the resolved status: exact-match
// triggers in declaration order, then changed, then always last. Hook
// failures are logged without altering the already-resolved status. Hooks
// run even after cancellation, on a detached context.
func (e *Executor) runPostHooks(ctx context.Context, hooks []PostHook, ec *ExecContext, status Status, scope string) {
	if len(hooks) == 0 {
		return
	}

	postCtx := context.WithoutCancel(ctx)
	opts := DispatchOptions{}

	fire := func(hook PostHook) {
		if _, err := e.runSteps(postCtx, hook.Steps, ec, opts); err != nil {
			ec.Logger.Error("post hook failed",
				"scope", scope,
				"trigger", string(hook.Trigger),
				"error", err,
			)
		}
	}

	for _, hook := range hooks {
		if hook.Trigger == Trigger(status) {
			fire(hook)
		}
	}
	if e.prevStatus != "" && e.prevStatus != status {
		for _, hook := range hooks {
			if hook.Trigger == TriggerChanged {
				fire(hook)
			}
		}
	}
	for _, hook := range hooks {
		if hook.Trigger == TriggerAlways {
			fire(hook)
		}
	}
}

// resolveStatus folds a step-sequence outcome into a stage status.
func resolveStatus(ctx context.Context, err error, unstable bool) Status {
	if err != nil {
		if isCancellation(err) || ctx.Err() != nil {
			return StatusAborted
		}
		return StatusFailure
	}
	if unstable {
		return StatusUnstable
	}
	return StatusSuccess
}

// foldWorkflowStatus rolls stage statuses up into the workflow status.
// A genuine cancellation wins; otherwise any failed stage fails the
// workflow, even though later stages report Aborted because they never ran.
func foldWorkflowStatus(stages []StageResult, aborted bool) Status {
	if aborted {
		return StatusAborted
	}
	anyFailure, anyAborted, anyUnstable := false, false, false
	for _, s := range stages {
		switch s.Status {
		case StatusFailure:
			anyFailure = true
		case StatusAborted:
			anyAborted = true
		case StatusUnstable:
			anyUnstable = true
		}
	}
	switch {
	case anyFailure:
		return StatusFailure
	case anyAborted:
		return StatusAborted
	case anyUnstable:
		return StatusUnstable
	default:
		return StatusSuccess
	}
}

// isCancellation reports whether err is (or wraps) a cancellation.
func isCancellation(err error) bool {
	var cancelErr *errors.CancellationError
	return errors.As(err, &cancelErr) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// cancellationFor maps a cancelled context onto the structured error,
// preserving the cause recorded at cancel time.
func cancellationFor(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		var cancelErr *errors.CancellationError
		if errors.As(cause, &cancelErr) {
			return cancelErr
		}
	}
	reason := errors.CancelUserAbort
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = errors.CancelTimeout
	}
	return &errors.CancellationError{Reason: reason, Cause: ctx.Err()}
}

// envMap flattens the visible environment for guard evaluation.
func envMap(env *EnvVars) map[string]string {
	out := make(map[string]string)
	for _, k := range env.Keys() {
		v, _ := env.Get(k)
		out[k] = v
	}
	return out
}
