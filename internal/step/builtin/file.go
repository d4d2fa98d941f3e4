package builtin

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// ReadFile reads a file relative to the working directory and returns its
// content as stdout.
type ReadFile struct{}

// Name implements step.Interface.
func (ReadFile) Name() string { return "readFile" }

// Category implements step.Interface.
func (ReadFile) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (ReadFile) SecurityLevel() step.SecurityLevel { return step.Restricted }

// Execute implements step.Interface.
func (ReadFile) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	file, ok := args.GetString("file")
	if !ok || file == "" {
		return nil, errors.New("readFile: file is required")
	}

	content, err := os.ReadFile(resolvePath(ec.WorkDir, file))
	if err != nil {
		return nil, &errors.IOError{Op: "read", Path: file, Cause: err}
	}
	return &pipeline.StepResult{Stdout: string(content)}, nil
}

// WriteFile writes content to a file relative to the working directory,
// creating parent directories as needed.
type WriteFile struct{}

// Name implements step.Interface.
func (WriteFile) Name() string { return "writeFile" }

// Category implements step.Interface.
func (WriteFile) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (WriteFile) SecurityLevel() step.SecurityLevel { return step.Restricted }

// Execute implements step.Interface.
func (WriteFile) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	file, ok := args.GetString("file")
	if !ok || file == "" {
		return nil, errors.New("writeFile: file is required")
	}
	text, _ := args.GetString("text")

	target := resolvePath(ec.WorkDir, file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, &errors.IOError{Op: "mkdir", Path: filepath.Dir(file), Cause: err}
	}
	if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
		return nil, &errors.IOError{Op: "write", Path: file, Cause: err}
	}
	return &pipeline.StepResult{}, nil
}

// resolvePath anchors relative paths at the working directory.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) || workDir == "" {
		return path
	}
	return filepath.Join(workDir, path)
}
