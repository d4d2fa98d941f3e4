package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

func TestMockRegistry_OverrideAnyArgs(t *testing.T) {
	m := NewMockRegistry()
	m.Override("sh", &pipeline.StepResult{Stdout: "mocked"}, nil)

	result, err, ok := m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "whatever"}))
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "mocked", result.Stdout)

	_, _, ok = m.Resolve("echo", pipeline.Args{})
	assert.False(t, ok)
}

func TestMockRegistry_ExactMatching(t *testing.T) {
	m := NewMockRegistry()
	m.OverrideMatching("sh",
		pipeline.NamedArgs(map[string]any{"script": "go test"}),
		&pipeline.StepResult{Stdout: "ok"}, nil)

	_, _, ok := m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "go build"}))
	assert.False(t, ok, "different args must not match")

	result, _, ok := m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "go test"}))
	require.True(t, ok)
	assert.Equal(t, "ok", result.Stdout)
}

func TestMockRegistry_WildcardSentinel(t *testing.T) {
	m := NewMockRegistry()
	m.OverrideMatching("sh",
		pipeline.NamedArgs(map[string]any{"script": Any, "returnStdout": true}),
		nil, errors.New("canned failure"))

	_, err, ok := m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "anything", "returnStdout": true}))
	require.True(t, ok)
	require.Error(t, err)

	_, _, ok = m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "anything", "returnStdout": false}))
	assert.False(t, ok)
}

func TestMockRegistry_PositionalMatching(t *testing.T) {
	m := NewMockRegistry()
	m.OverrideMatching("echo",
		pipeline.PositionalArgs("hello"),
		&pipeline.StepResult{Stdout: "hello"}, nil)

	_, _, ok := m.Resolve("echo", pipeline.PositionalArgs("hello"))
	assert.True(t, ok)

	_, _, ok = m.Resolve("echo", pipeline.PositionalArgs("hello", "extra"))
	assert.False(t, ok)
}

func TestMockRegistry_FirstMatchWins(t *testing.T) {
	m := NewMockRegistry()
	m.OverrideMatching("sh",
		pipeline.NamedArgs(map[string]any{"script": "special"}),
		&pipeline.StepResult{Stdout: "specific"}, nil)
	m.Override("sh", &pipeline.StepResult{Stdout: "fallback"}, nil)

	result, _, ok := m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "special"}))
	require.True(t, ok)
	assert.Equal(t, "specific", result.Stdout)

	result, _, ok = m.Resolve("sh", pipeline.NamedArgs(map[string]any{"script": "other"}))
	require.True(t, ok)
	assert.Equal(t, "fallback", result.Stdout)
}
