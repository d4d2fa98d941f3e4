package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// ArchiveDirName is the directory under the workspace that receives
// archived artifacts.
const ArchiveDirName = ".conveyor/artifacts"

// ArchiveArtifacts copies files matching glob patterns into the build's
// artifact directory. Patterns support doublestar globs ("build/**/*.jar").
type ArchiveArtifacts struct{}

// Name implements step.Interface.
func (ArchiveArtifacts) Name() string { return "archiveArtifacts" }

// Category implements step.Interface.
func (ArchiveArtifacts) Category() step.Category { return step.CategoryUtil }

// SecurityLevel implements step.Interface.
func (ArchiveArtifacts) SecurityLevel() step.SecurityLevel { return step.Restricted }

// Execute implements step.Interface.
func (ArchiveArtifacts) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	patterns, err := patternList(args)
	if err != nil {
		return nil, err
	}

	root := ec.WorkDir
	if root == "" {
		root = "."
	}
	archiveDir := filepath.Join(root, ArchiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, &errors.IOError{Op: "mkdir", Path: ArchiveDirName, Cause: err}
	}

	var archived []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(os.DirFS(root), pattern)
		if err != nil {
			return nil, &errors.IOError{Op: "glob", Path: pattern, Cause: err}
		}
		for _, match := range matches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if strings.HasPrefix(match, ArchiveDirName) {
				continue
			}
			src := filepath.Join(root, match)
			info, err := os.Stat(src)
			if err != nil || info.IsDir() {
				continue
			}
			dst := filepath.Join(archiveDir, match)
			if err := copyFile(src, dst); err != nil {
				return nil, &errors.IOError{Op: "archive", Path: match, Cause: err}
			}
			archived = append(archived, match)
		}
	}

	if len(archived) == 0 {
		return nil, errors.New(fmt.Sprintf("archiveArtifacts: no files matched %v", patterns))
	}

	ec.Logger.Info("archived artifacts", "count", len(archived))
	return &pipeline.StepResult{Stdout: strings.Join(archived, "\n") + "\n"}, nil
}

func patternList(args pipeline.Args) ([]string, error) {
	raw, ok := args.Get("artifacts")
	if !ok {
		return nil, errors.New("archiveArtifacts: artifacts is required")
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("archiveArtifacts: pattern must be a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("archiveArtifacts: artifacts must be string or list, got %T", raw)
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
