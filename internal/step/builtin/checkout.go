package builtin

import (
	"context"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Checkout clones a git repository into the working directory. Credentials
// resolve through the context's credential source (GIT_USERNAME plus
// GIT_PASSWORD or GIT_TOKEN).
type Checkout struct{}

// Name implements step.Interface.
func (Checkout) Name() string { return "checkout" }

// Category implements step.Interface.
func (Checkout) Category() step.Category { return step.CategoryScm }

// SecurityLevel implements step.Interface.
func (Checkout) SecurityLevel() step.SecurityLevel { return step.Restricted }

// Execute implements step.Interface.
func (Checkout) Execute(ctx context.Context, ec *pipeline.ExecContext, args pipeline.Args) (*pipeline.StepResult, error) {
	url, ok := args.GetString("url")
	if !ok || url == "" {
		return nil, errors.New("checkout: url is required")
	}
	branch, _ := args.GetString("branch")
	dir, _ := args.GetString("dir")
	dest := resolvePath(ec.WorkDir, dir)
	if dir == "" {
		dest = ec.WorkDir
	}

	opts := &git.CloneOptions{URL: url}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	if auth := gitAuth(ec.Credentials); auth != nil {
		opts.Auth = auth
	}

	start := time.Now()
	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A pre-existing clone is updated instead.
		if err == git.ErrRepositoryAlreadyExists {
			return fetchExisting(ctx, dest, branch, start)
		}
		return nil, &errors.IOError{Op: "clone", Path: url, Cause: err}
	}

	head, err := repo.Head()
	if err != nil {
		return nil, &errors.IOError{Op: "resolve HEAD", Path: url, Cause: err}
	}

	ec.Logger.Info("checked out repository",
		"url", url,
		"revision", head.Hash().String()[:8],
	)
	return &pipeline.StepResult{
		Stdout:   head.Hash().String() + "\n",
		Duration: time.Since(start),
	}, nil
}

// fetchExisting brings an already-cloned repository up to date.
func fetchExisting(ctx context.Context, dest, branch string, start time.Time) (*pipeline.StepResult, error) {
	repo, err := git.PlainOpen(dest)
	if err != nil {
		return nil, &errors.IOError{Op: "open", Path: dest, Cause: err}
	}
	if err := repo.FetchContext(ctx, &git.FetchOptions{}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, &errors.IOError{Op: "fetch", Path: dest, Cause: err}
	}
	if branch != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return nil, &errors.IOError{Op: "worktree", Path: dest, Cause: err}
		}
		if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branch)}); err != nil {
			return nil, &errors.IOError{Op: "checkout", Path: dest, Cause: err}
		}
	}
	head, err := repo.Head()
	if err != nil {
		return nil, &errors.IOError{Op: "resolve HEAD", Path: dest, Cause: err}
	}
	return &pipeline.StepResult{
		Stdout:   head.Hash().String() + "\n",
		Duration: time.Since(start),
	}, nil
}

// gitAuth builds HTTP basic auth from the credential source. A token acts
// as the password with a fixed username when GIT_USERNAME is absent.
func gitAuth(creds pipeline.CredentialSource) *http.BasicAuth {
	username, _ := creds.Lookup("GIT_USERNAME")
	if password, ok := creds.Lookup("GIT_PASSWORD"); ok {
		if username == "" {
			username = "git"
		}
		return &http.BasicAuth{Username: username, Password: password}
	}
	if token, ok := creds.Lookup("GIT_TOKEN"); ok {
		if username == "" {
			username = "git"
		}
		return &http.BasicAuth{Username: username, Password: token}
	}
	return nil
}
