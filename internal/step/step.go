// Package step catalogs step implementations, dispatches pipeline steps
// through them and records every invocation for auditing, replay and mocks.
package step

import (
	"context"

	"github.com/conveyor-ci/conveyor/pkg/pipeline"
	"github.com/conveyor-ci/conveyor/pkg/security/sandbox"
)

// Category tags a step implementation by concern.
type Category string

const (
	CategoryBuild        Category = "build"
	CategoryTest         Category = "test"
	CategoryDeploy       Category = "deploy"
	CategoryScm          Category = "scm"
	CategoryNotification Category = "notification"
	CategorySecurity     Category = "security"
	CategoryUtil         Category = "util"
)

// SecurityLevel classifies how much a step implementation is trusted.
type SecurityLevel string

const (
	// Trusted steps run engine-provided logic only.
	Trusted SecurityLevel = "trusted"
	// Restricted steps touch the filesystem or network under engine control.
	Restricted SecurityLevel = "restricted"
	// Dangerous steps execute arbitrary user-supplied commands.
	Dangerous SecurityLevel = "dangerous"
)

// Interface is the contract every step implementation satisfies.
// Implementations register once at engine startup and are addressed by
// name; there is no runtime re-registration.
type Interface interface {
	// Name returns the globally unique step identifier.
	Name() string

	// Category returns the step's concern tag.
	Category() Category

	// SecurityLevel returns the step's trust classification.
	SecurityLevel() SecurityLevel

	// Execute runs the step. Implementations observe ctx at suspension
	// points and never retry internally.
	Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error)
}

// CommandProvider is implemented by steps that have an external command
// form, enabling process and container isolation. Steps without one degrade
// to in-process isolation.
type CommandProvider interface {
	// Command renders the step as an externally runnable command spec.
	// The second return is false when the given args have no command form.
	Command(ec *pipeline.ExecContext, args pipeline.Args) (*sandbox.CommandSpec, bool)
}
