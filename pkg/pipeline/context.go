package pipeline

import (
	"log/slog"

	"github.com/google/uuid"
)

// CredentialSource resolves credential identifiers for steps that need
// secrets (checkout, user-defined deploy steps). Implementations must never
// log resolved values.
type CredentialSource interface {
	// Lookup resolves a credential by id. The second return is false when
	// the credential is unknown.
	Lookup(id string) (string, bool)
}

// NoCredentials is a CredentialSource that resolves nothing.
type NoCredentials struct{}

// Lookup implements CredentialSource.
func (NoCredentials) Lookup(string) (string, bool) { return "", false }

// ExecContext is the scoped bundle handed to every step: working directory,
// environment scope, logger, credential lookup and the execution id. The
// cancellation token travels separately as a context.Context on each call.
type ExecContext struct {
	// ExecutionID identifies the enclosing workflow run; forks share it
	ExecutionID string

	// WorkDir is the step's working directory
	WorkDir string

	// Env is this scope's environment overlay
	Env *EnvVars

	// Logger carries the structured logging context for this scope
	Logger *slog.Logger

	// Credentials resolves secret references
	Credentials CredentialSource

	// Scope is the graph path of this context ("", "Build", "Build/test-a")
	// carried for diagnostics instead of parent pointers
	Scope string
}

// NewExecContext creates the workflow-global context with a fresh execution id.
func NewExecContext(workDir string, env *EnvVars, logger *slog.Logger, creds CredentialSource) *ExecContext {
	if env == nil {
		env = NewEnvVars()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if creds == nil {
		creds = NoCredentials{}
	}
	return &ExecContext{
		ExecutionID: uuid.New().String(),
		WorkDir:     workDir,
		Env:         env,
		Logger:      logger,
		Credentials: creds,
	}
}

// ForkStage derives a stage-scoped child context. The child's env overlays
// the parent's, so stage mutations stay invisible to sibling stages.
func (c *ExecContext) ForkStage(stage string) *ExecContext {
	return &ExecContext{
		ExecutionID: c.ExecutionID,
		WorkDir:     c.WorkDir,
		Env:         c.Env.Child(),
		Logger:      c.Logger.With(slog.String("stage", stage)),
		Credentials: c.Credentials,
		Scope:       joinScope(c.Scope, stage),
	}
}

// ForkBranch derives a branch context over a detached env snapshot, so
// parallel siblings never observe each other's writes.
func (c *ExecContext) ForkBranch(branch string) *ExecContext {
	return &ExecContext{
		ExecutionID: c.ExecutionID,
		WorkDir:     c.WorkDir,
		Env:         c.Env.Snapshot(),
		Logger:      c.Logger.With(slog.String("branch", branch)),
		Credentials: c.Credentials,
		Scope:       joinScope(c.Scope, branch),
	}
}

// ForkStep derives a step child sharing the stage env scope: mutations made
// by step N are visible to step N+1 of the same stage.
func (c *ExecContext) ForkStep(step string) *ExecContext {
	return &ExecContext{
		ExecutionID: c.ExecutionID,
		WorkDir:     c.WorkDir,
		Env:         c.Env,
		Logger:      c.Logger.With(slog.String("step", step)),
		Credentials: c.Credentials,
		Scope:       c.Scope,
	}
}

func joinScope(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}
