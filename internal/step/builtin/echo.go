package builtin

import (
	"context"
	"fmt"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Echo writes a message to the build log.
type Echo struct{}

// Name implements step.Interface.
func (Echo) Name() string { return "echo" }

// Category implements step.Interface.
func (Echo) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (Echo) SecurityLevel() step.SecurityLevel { return step.Trusted }

// Execute implements step.Interface.
func (Echo) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	message, ok := args.GetString("message")
	if !ok {
		if v, found := args.Get("message"); found {
			message = fmt.Sprintf("%v", v)
		}
	}
	ec.Logger.Info(message)
	return &pipeline.StepResult{Stdout: message + "\n"}, nil
}
