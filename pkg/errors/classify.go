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

package errors

import "fmt"

// ErrorType implementations for programmatic handling. Retry policy: step
// execution, i/o and timeout failures are transient, as is an isolation
// binding that failed to start; definition, policy, resource violation and
// cancellation errors never are.

func (e *DefinitionError) ErrorType() string { return "definition" }
func (e *DefinitionError) IsRetryable() bool { return false }

func (e *UnresolvedStepError) ErrorType() string { return "unresolved_step" }
func (e *UnresolvedStepError) IsRetryable() bool { return false }

func (e *StepExecutionError) ErrorType() string { return "step_execution" }
func (e *StepExecutionError) IsRetryable() bool { return true }

func (e *IOError) ErrorType() string { return "io" }
func (e *IOError) IsRetryable() bool { return true }

func (e *ResourceViolationError) ErrorType() string { return "resource_violation" }
func (e *ResourceViolationError) IsRetryable() bool { return false }

func (e *PolicyViolationError) ErrorType() string { return "policy_violation" }
func (e *PolicyViolationError) IsRetryable() bool { return false }

func (e *IsolationError) ErrorType() string { return "isolation" }
func (e *IsolationError) IsRetryable() bool { return e.Op == "start" }

func (e *CancellationError) ErrorType() string { return "cancellation" }
func (e *CancellationError) IsRetryable() bool { return false }

func (e *UnknownEnvVarError) ErrorType() string { return "unknown_env_var" }
func (e *UnknownEnvVarError) IsRetryable() bool { return false }

func (e *TimeoutError) ErrorType() string { return "timeout" }
func (e *TimeoutError) IsRetryable() bool { return true }

// UserMessage implementations for CLI rendering.

func (e *DefinitionError) IsUserVisible() bool { return true }
func (e *DefinitionError) UserMessage() string {
	return e.Error()
}
func (e *DefinitionError) UserSuggestion() string { return e.Suggestion }

func (e *UnresolvedStepError) IsUserVisible() bool { return true }
func (e *UnresolvedStepError) UserMessage() string {
	return fmt.Sprintf("pipeline references a step named %q that is not registered", e.Step)
}
func (e *UnresolvedStepError) UserSuggestion() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("did you mean %q?", e.Candidates[0])
	}
	return "check the step name against `conveyor validate` output"
}

func (e *PolicyViolationError) IsUserVisible() bool { return true }
func (e *PolicyViolationError) UserMessage() string {
	return "requested resource limits exceed the engine's sandbox policy"
}
func (e *PolicyViolationError) UserSuggestion() string {
	return "lower resource_limits in the stage or raise the policy ceilings in the engine config"
}
