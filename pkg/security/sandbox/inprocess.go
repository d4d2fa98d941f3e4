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
	"context"

	"github.com/conveyor-ci/conveyor/internal/limits"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// inprocessBinding serves the none and goroutine levels. The none level
// calls the step directly and relies on cooperative cancellation alone.
// The goroutine level runs the step on a dedicated worker and abandons it
// when the caller's context dies: Go offers no task abort, so detaching is
// the strongest cancel available in-process.
type inprocessBinding struct {
	level    pipeline.IsolationLevel
	detached bool
}

// Level implements Binding.
func (b *inprocessBinding) Level() pipeline.IsolationLevel {
	return b.level
}

// Run implements Binding.
func (b *inprocessBinding) Run(ctx context.Context, invoke Invoke, _ *CommandSpec) (*pipeline.StepResult, error) {
	if !b.detached {
		return invoke(ctx)
	}

	type outcome struct {
		result *pipeline.StepResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := invoke(ctx)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		// The worker is abandoned; its buffered send cannot block.
		return nil, &errors.CancellationError{Reason: errors.CancelUserAbort, Cause: ctx.Err()}
	}
}

// Probe implements Binding: in-process work is sampled at process scope.
func (b *inprocessBinding) Probe() limits.Probe {
	return limits.NewRuntimeProbe()
}

// Terminate implements Binding. In-process work has nothing safe to kill.
func (b *inprocessBinding) Terminate() {}

// Cleanup implements Binding.
func (b *inprocessBinding) Cleanup() error {
	return nil
}
