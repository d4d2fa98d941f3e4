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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-ci/conveyor/pkg/errors"
	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

func TestValidate_WithinPolicy(t *testing.T) {
	m := NewManager(DefaultPolicy(), nil)
	v := m.Validate(pipeline.ResourceLimits{MaxMemoryMB: 1024, MaxThreads: 10})
	assert.True(t, v.IsValid)
	assert.Empty(t, v.Issues)
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	m := NewManager(DefaultPolicy(), nil)
	v := m.Validate(pipeline.ResourceLimits{MaxMemoryMB: 10000, MaxThreads: 100})
	require.False(t, v.IsValid)
	require.Len(t, v.Issues, 2)
	assert.Contains(t, v.Issues[0], "max_memory_mb")
	assert.Contains(t, v.Issues[1], "max_threads")
}

func TestValidate_UnboundedCeilingAcceptsEverything(t *testing.T) {
	m := NewManager(Policy{}, nil)
	v := m.Validate(pipeline.ResourceLimits{MaxMemoryMB: 1 << 40})
	assert.True(t, v.IsValid)
}

func TestBind_DegradesWithoutCommandForm(t *testing.T) {
	m := NewManager(DefaultPolicy(), nil)

	b := m.Bind(pipeline.IsolationProcess, false, pipeline.ResourceLimits{})
	assert.Equal(t, pipeline.IsolationGoroutine, b.Level())

	b = m.Bind(pipeline.IsolationContainer, false, pipeline.ResourceLimits{})
	assert.Equal(t, pipeline.IsolationGoroutine, b.Level())
}

func TestBind_NoneAndGoroutine(t *testing.T) {
	m := NewManager(DefaultPolicy(), nil)
	assert.Equal(t, pipeline.IsolationNone, m.Bind(pipeline.IsolationNone, true, pipeline.ResourceLimits{}).Level())
	assert.Equal(t, pipeline.IsolationGoroutine, m.Bind(pipeline.IsolationGoroutine, false, pipeline.ResourceLimits{}).Level())
}

func TestInprocessBinding_RunsInvoke(t *testing.T) {
	b := &inprocessBinding{level: pipeline.IsolationNone}
	defer b.Cleanup()

	result, err := b.Run(context.Background(), func(ctx context.Context) (*pipeline.StepResult, error) {
		return &pipeline.StepResult{Stdout: "hello"}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Stdout)
}

func TestGoroutineBinding_AbandonsOnCancel(t *testing.T) {
	b := &inprocessBinding{level: pipeline.IsolationGoroutine, detached: true}
	defer b.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Run(ctx, func(ctx context.Context) (*pipeline.StepResult, error) {
		<-release // never observes cancellation
		return &pipeline.StepResult{}, nil
	}, nil)

	var cancelled *errors.CancellationError
	require.ErrorAs(t, err, &cancelled)
}

func TestProcessBinding_RunsCommand(t *testing.T) {
	b := newProcessBinding(nil)
	defer b.Cleanup()

	result, err := b.Run(context.Background(), nil, &CommandSpec{
		Script: "echo from-child",
		Dir:    t.TempDir(),
		Env:    []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
	})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "from-child")
	assert.Equal(t, 0, result.ExitCode)
}

func TestProcessBinding_NonZeroExit(t *testing.T) {
	b := newProcessBinding(nil)
	defer b.Cleanup()

	result, err := b.Run(context.Background(), nil, &CommandSpec{
		Script: "exit 3",
		Env:    []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
	})
	require.Error(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestProcessBinding_TerminateKillsGroup(t *testing.T) {
	b := newProcessBinding(nil)
	defer b.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Run(ctx, nil, &CommandSpec{
		Script: "sleep 30",
		Env:    []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestIsCredentialEnvVar(t *testing.T) {
	tests := []struct {
		kv   string
		want bool
	}{
		{"GIT_TOKEN=abc", true},
		{"AWS_SECRET_ACCESS_KEY=abc", true},
		{"DB_PASSWORD=abc", true},
		{"PATH=/usr/bin", false},
		{"JAVA_HOME=/opt/java", false},
	}
	for _, tt := range tests {
		if got := isCredentialEnvVar(tt.kv); got != tt.want {
			t.Errorf("isCredentialEnvVar(%q) = %v, want %v", tt.kv, got, tt.want)
		}
	}
}
