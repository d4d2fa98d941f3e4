package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/internal/step"
	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

func testContext(t *testing.T) *pipeline.ExecContext {
	t.Helper()
	env := pipeline.NewEnvVars()
	env.Set("PATH", os.Getenv("PATH"))
	ec := pipeline.NewExecContext(t.TempDir(), env, nil, nil)
	return ec
}

func TestRegisterAll(t *testing.T) {
	registry := step.NewRegistry()
	require.NoError(t, RegisterAll(registry))

	for _, name := range []string{"sh", "echo", "readFile", "writeFile", "delay", "checkout", "archiveArtifacts", "jsonQuery"} {
		_, ok := registry.Lookup(name)
		assert.True(t, ok, "builtin %s not registered", name)
	}
}

func TestShell_CapturesStdout(t *testing.T) {
	ec := testContext(t)
	result, err := Shell{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"script": "echo hello-from-sh", "returnStdout": true}))
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hello-from-sh")
	assert.Equal(t, 0, result.ExitCode)
}

func TestShell_NonZeroExit(t *testing.T) {
	ec := testContext(t)
	result, err := Shell{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"script": "echo oops >&2; exit 2"}))
	require.Error(t, err)
	assert.Equal(t, 2, result.ExitCode)
	assert.Contains(t, result.Stderr, "oops")
}

func TestShell_UsesWorkDir(t *testing.T) {
	ec := testContext(t)
	result, err := Shell{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"script": "pwd", "returnStdout": true}))
	require.NoError(t, err)
	assert.Equal(t, ec.WorkDir, strings.TrimSpace(result.Stdout))
}

func TestShell_CommandProvider(t *testing.T) {
	ec := testContext(t)
	spec, ok := Shell{}.Command(ec, pipeline.NamedArgs(map[string]any{"script": "true"}))
	require.True(t, ok)
	assert.Equal(t, "true", spec.Script)
	assert.Equal(t, ec.WorkDir, spec.Dir)

	_, ok = Shell{}.Command(ec, pipeline.Args{})
	assert.False(t, ok)
}

func TestEcho(t *testing.T) {
	ec := testContext(t)
	result, err := Echo{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"message": "engine=sqlite"}))
	require.NoError(t, err)
	assert.Equal(t, "engine=sqlite\n", result.Stdout)
}

func TestWriteThenReadFile(t *testing.T) {
	ec := testContext(t)

	_, err := WriteFile{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"file": "out/notes.txt", "text": "release notes"}))
	require.NoError(t, err)

	result, err := ReadFile{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"file": "out/notes.txt"}))
	require.NoError(t, err)
	assert.Equal(t, "release notes", result.Stdout)
}

func TestReadFile_MissingIsIOError(t *testing.T) {
	ec := testContext(t)
	_, err := ReadFile{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"file": "missing.txt"}))

	var ioErr *errors.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
}

func TestDelay_Sleeps(t *testing.T) {
	ec := testContext(t)
	result, err := Delay{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"milliseconds": 30}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Duration.Milliseconds(), int64(25))
}

func TestDelay_ObservesCancellation(t *testing.T) {
	ec := testContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	_, err := Delay{}.Execute(ctx, ec,
		pipeline.NamedArgs(map[string]any{"milliseconds": 5000}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestArchiveArtifacts_Globs(t *testing.T) {
	ec := testContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(ec.WorkDir, "build", "libs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ec.WorkDir, "build", "libs", "app.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ec.WorkDir, "readme.md"), []byte("doc"), 0o644))

	result, err := ArchiveArtifacts{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"artifacts": []any{"build/**/*.jar"}}))
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "build/libs/app.jar")

	archived := filepath.Join(ec.WorkDir, ArchiveDirName, "build", "libs", "app.jar")
	_, statErr := os.Stat(archived)
	assert.NoError(t, statErr)
}

func TestArchiveArtifacts_NoMatchFails(t *testing.T) {
	ec := testContext(t)
	_, err := ArchiveArtifacts{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"artifacts": "dist/**"}))
	require.Error(t, err)
}

func TestJSONQuery_Inline(t *testing.T) {
	ec := testContext(t)
	result, err := JSONQuery{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{
			"json":  `{"tests": {"passed": 40, "failed": 2}}`,
			"query": ".tests.failed",
		}))
	require.NoError(t, err)
	assert.Equal(t, "2\n", result.Stdout)
}

func TestJSONQuery_File(t *testing.T) {
	ec := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(ec.WorkDir, "report.json"), []byte(`{"status": "green"}`), 0o644))

	result, err := JSONQuery{}.Execute(context.Background(), ec,
		pipeline.NamedArgs(map[string]any{"file": "report.json", "query": ".status"}))
	require.NoError(t, err)
	assert.Equal(t, "green\n", result.Stdout)
}

func TestGitAuth(t *testing.T) {
	env := pipeline.NewEnvVars()
	env.Set("GIT_USERNAME", "ci-bot")
	env.Set("GIT_TOKEN", "tok-123")

	auth := gitAuth(envCredentials{env})
	require.NotNil(t, auth)
	assert.Equal(t, "ci-bot", auth.Username)
	assert.Equal(t, "tok-123", auth.Password)

	assert.Nil(t, gitAuth(pipeline.NoCredentials{}))
}

// envCredentials adapts EnvVars as a credential source for tests.
type envCredentials struct {
	env *pipeline.EnvVars
}

func (c envCredentials) Lookup(id string) (string, bool) {
	return c.env.Get(id)
}
