package pipeline

import (
	"fmt"
	"regexp"

	"github.com/conveyor-ci/conveyor/pkg/errors"
)

var envKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the workflow graph against the structural invariants:
// at least one stage, unique stage names, at least one step per stage,
// non-empty uniquely-named parallel branches, positive retry attempts and
// well-formed environment keys. The first failure is returned as a
// DefinitionError carrying the offending path.
func (w *Workflow) Validate() error {
	if len(w.Stages) == 0 {
		return &errors.DefinitionError{
			Path:       "stages",
			Message:    "pipeline declares no stages",
			Suggestion: "add at least one stage with a steps block",
		}
	}

	for i, entry := range w.Env {
		if !envKeyRe.MatchString(entry.Name) {
			return &errors.DefinitionError{
				Path:       fmt.Sprintf("environment[%d]", i),
				Message:    fmt.Sprintf("environment key %q is not a valid identifier", entry.Name),
				Suggestion: "keys must match [A-Za-z_][A-Za-z0-9_]*",
			}
		}
	}

	seen := make(map[string]bool, len(w.Stages))
	for i, stage := range w.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		if stage.Name == "" {
			return &errors.DefinitionError{
				Path:    path + ".name",
				Message: "stage has no name",
			}
		}
		if seen[stage.Name] {
			return &errors.DefinitionError{
				Path:       path + ".name",
				Message:    fmt.Sprintf("duplicate stage name %q", stage.Name),
				Suggestion: "stage names must be unique within a pipeline",
			}
		}
		seen[stage.Name] = true

		if len(stage.Steps) == 0 {
			return &errors.DefinitionError{
				Path:       path + ".steps",
				Message:    fmt.Sprintf("stage %q declares no steps", stage.Name),
				Suggestion: "add at least one step",
			}
		}
		if err := validateSteps(stage.Steps, path+".steps"); err != nil {
			return err
		}
		if err := validatePost(stage.Post, path+".post"); err != nil {
			return err
		}
	}

	return validatePost(w.Post, "post")
}

func validateSteps(steps []Step, path string) error {
	for i, step := range steps {
		stepPath := fmt.Sprintf("%s[%d]", path, i)
		switch step.Type {
		case StepParallel:
			if len(step.Branches) == 0 {
				return &errors.DefinitionError{
					Path:       stepPath + ".parallel.branches",
					Message:    "parallel step declares no branches",
					Suggestion: "add at least one named branch",
				}
			}
			branchSeen := make(map[string]bool, len(step.Branches))
			for j, branch := range step.Branches {
				branchPath := fmt.Sprintf("%s.parallel.branches[%d]", stepPath, j)
				if branch.Name == "" {
					return &errors.DefinitionError{
						Path:    branchPath + ".name",
						Message: "parallel branch has no name",
					}
				}
				if branchSeen[branch.Name] {
					return &errors.DefinitionError{
						Path:       branchPath + ".name",
						Message:    fmt.Sprintf("duplicate branch name %q", branch.Name),
						Suggestion: "branch names must be unique within a parallel step",
					}
				}
				branchSeen[branch.Name] = true
				if len(branch.Steps) == 0 {
					return &errors.DefinitionError{
						Path:       branchPath + ".steps",
						Message:    fmt.Sprintf("branch %q declares no steps", branch.Name),
						Suggestion: "add at least one step to the branch",
					}
				}
				if err := validateSteps(branch.Steps, branchPath+".steps"); err != nil {
					return err
				}
			}
		case StepRetry:
			if step.Attempts < 1 {
				return &errors.DefinitionError{
					Path:       stepPath + ".retry.attempts",
					Message:    fmt.Sprintf("retry attempts must be positive, got %d", step.Attempts),
					Suggestion: "use attempts >= 1",
				}
			}
			if len(step.Body) == 0 {
				return &errors.DefinitionError{
					Path:    stepPath + ".retry.steps",
					Message: "retry step declares no inner steps",
				}
			}
			if err := validateSteps(step.Body, stepPath+".retry.steps"); err != nil {
				return err
			}
		case StepShell:
			if step.Command == "" {
				return &errors.DefinitionError{
					Path:    stepPath + ".sh",
					Message: "sh step has an empty command",
				}
			}
		case StepReadFile, StepWriteFile:
			if step.Path == "" {
				return &errors.DefinitionError{
					Path:    stepPath + ".file",
					Message: fmt.Sprintf("%s step has no file path", step.Type),
				}
			}
		case StepCheckout:
			if step.Repo == "" {
				return &errors.DefinitionError{
					Path:    stepPath + ".checkout.url",
					Message: "checkout step has no repository url",
				}
			}
		case StepArchiveArtifacts:
			if len(step.Patterns) == 0 {
				return &errors.DefinitionError{
					Path:    stepPath + ".archiveArtifacts.artifacts",
					Message: "archiveArtifacts step declares no patterns",
				}
			}
		case StepUserDefined:
			if step.Name == "" {
				return &errors.DefinitionError{
					Path:    stepPath + ".step.name",
					Message: "user-defined step has no name",
				}
			}
		case StepEcho, StepDelay:
			// no structural constraints
		default:
			return &errors.DefinitionError{
				Path:    stepPath,
				Message: fmt.Sprintf("unknown step type %q", step.Type),
			}
		}
	}
	return nil
}

func validatePost(hooks []PostHook, path string) error {
	for i, hook := range hooks {
		hookPath := fmt.Sprintf("%s[%d]", path, i)
		switch hook.Trigger {
		case TriggerAlways, TriggerSuccess, TriggerFailure, TriggerUnstable, TriggerChanged, TriggerAborted:
		default:
			return &errors.DefinitionError{
				Path:       hookPath + ".trigger",
				Message:    fmt.Sprintf("unknown post trigger %q", hook.Trigger),
				Suggestion: "use one of: always, success, failure, unstable, changed, aborted",
			}
		}
		if len(hook.Steps) == 0 {
			return &errors.DefinitionError{
				Path:    hookPath + ".steps",
				Message: fmt.Sprintf("post %s block declares no steps", hook.Trigger),
			}
		}
		if err := validateSteps(hook.Steps, hookPath+".steps"); err != nil {
			return err
		}
	}
	return nil
}
