package step

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/security/sandbox"
)

func newTestDispatcher(t *testing.T, steps ...Interface) *Dispatcher {
	t.Helper()
	registry := NewRegistry()
	for _, s := range steps {
		require.NoError(t, registry.Register(s))
	}
	registry.Freeze()
	return NewDispatcher(
		registry,
		NewRecorder(),
		limits.NewEnforcer(nil, limits.WithSamplePeriod(10*time.Millisecond)),
		sandbox.NewManager(sandbox.DefaultPolicy(), nil),
		nil,
	)
}

func testContext() *pipeline.ExecContext {
	return pipeline.NewExecContext("", pipeline.NewEnvVars(), nil, nil)
}

func TestDispatch_RecordsSuccess(t *testing.T) {
	d := newTestDispatcher(t, &fakeStep{name: "echo", execute: func(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
		msg, _ := args.GetString("message")
		return &pipeline.StepResult{Stdout: msg}, nil
	}})

	result, err := d.Dispatch(context.Background(), testContext(), "echo",
		pipeline.NamedArgs(map[string]any{"message": "hello"}), pipeline.DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Stdout)
	require.NotNil(t, result.Usage)
	assert.Empty(t, result.Usage.Violations)

	assert.Equal(t, 1, d.Recorder().CallCount("echo"))
	recs := d.Recorder().CallsMatching("echo", nil)
	require.Len(t, recs, 1)
	msg, _ := recs[0].Args.GetString("message")
	assert.Equal(t, "hello", msg)
}

func TestDispatch_UnresolvedStep(t *testing.T) {
	d := newTestDispatcher(t, &fakeStep{name: "echo"})

	_, err := d.Dispatch(context.Background(), testContext(), "ecoh", pipeline.Args{}, pipeline.DispatchOptions{})

	var unresolved *errors.UnresolvedStepError
	require.ErrorAs(t, err, &unresolved)
	assert.Contains(t, unresolved.Candidates, "echo")

	// The failed resolution is still recorded.
	assert.Equal(t, 1, d.Recorder().CallCount("ecoh"))
}

func TestDispatch_StepErrorWrapped(t *testing.T) {
	cause := errors.New("exit status 1")
	d := newTestDispatcher(t, &fakeStep{name: "sh", execute: func(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
		return &pipeline.StepResult{ExitCode: 1}, cause
	}})

	_, err := d.Dispatch(context.Background(), testContext(), "sh", pipeline.Args{}, pipeline.DispatchOptions{})

	var stepErr *errors.StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "sh", stepErr.Step)
	assert.ErrorIs(t, err, cause)
}

func TestDispatch_MockOverrideShortCircuits(t *testing.T) {
	executed := false
	d := newTestDispatcher(t, &fakeStep{name: "sh", execute: func(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
		executed = true
		return &pipeline.StepResult{}, nil
	}})
	mocks := NewMockRegistry()
	mocks.Override("sh", &pipeline.StepResult{Stdout: "mocked"}, nil)
	d.WithMocks(mocks)

	result, err := d.Dispatch(context.Background(), testContext(), "sh", pipeline.Args{}, pipeline.DispatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "mocked", result.Stdout)
	assert.False(t, executed, "real implementation must not run under a mock")
	assert.Equal(t, 1, d.Recorder().CallCount("sh"))
}

func TestDispatch_WallViolation(t *testing.T) {
	d := newTestDispatcher(t, &fakeStep{name: "delay", execute: func(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return &pipeline.StepResult{}, nil
		}
	}})

	result, err := d.Dispatch(context.Background(), testContext(), "delay", pipeline.Args{},
		pipeline.DispatchOptions{Limits: pipeline.ResourceLimits{MaxWallMillis: 100}})

	var violation *errors.ResourceViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, errors.ViolationWall, violation.Type)
	require.NotNil(t, result.Usage)
	assert.Contains(t, result.Usage.Violations, string(errors.ViolationWall))
}

func TestDispatch_CancellationClassified(t *testing.T) {
	d := newTestDispatcher(t, &fakeStep{name: "delay", execute: func(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := d.Dispatch(ctx, testContext(), "delay", pipeline.Args{}, pipeline.DispatchOptions{})

	var cancelled *errors.CancellationError
	require.ErrorAs(t, err, &cancelled)
}
