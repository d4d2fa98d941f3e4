package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Delay pauses the step sequence for a fixed duration. The sleep is a
// suspension point: cancellation and wall-clock limits interrupt it.
type Delay struct{}

// Name implements step.Interface.
func (Delay) Name() string { return "delay" }

// Category implements step.Interface.
func (Delay) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (Delay) SecurityLevel() step.SecurityLevel { return step.Trusted }

// Execute implements step.Interface.
func (Delay) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	millis := int64(0)
	if v, ok := args.Get("milliseconds"); ok {
		switch n := v.(type) {
		case int64:
			millis = n
		case int:
			millis = int64(n)
		case float64:
			millis = int64(n)
		default:
			return nil, fmt.Errorf("delay: milliseconds must be a number, got %T", v)
		}
	}

	start := time.Now()
	select {
	case <-ctx.Done():
		return &pipeline.StepResult{Duration: time.Since(start)}, ctx.Err()
	case <-time.After(time.Duration(millis) * time.Millisecond):
	}
	return &pipeline.StepResult{Duration: time.Since(start)}, nil
}
