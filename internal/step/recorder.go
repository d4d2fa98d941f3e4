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

package step

import (
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/pipeline"
)

// Invocation is one immutable record of a dispatched step call. Records are
// append-only and outlive the run for post-analysis and tests.
type Invocation struct {
	// StepName is the dispatched step
	StepName string

	// Args are the arguments captured before execution
	Args pipeline.Args

	// Result is the outcome captured after execution; nil when the step
	// failed before producing one
	Result *pipeline.StepResult

	// Err is the step's error, if any
	Err error

	// Timestamp is the completion time
	Timestamp time.Time
}

// Recorder is the per-execution append-only invocation log. Appends are
// safe from concurrent branches; the order equals real-time completion
// order, with each branch internally ordered.
type Recorder struct {
	mu      sync.Mutex
	records []Invocation
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds one record to the log.
func (r *Recorder) Append(inv Invocation) {
	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now()
	}
	r.mu.Lock()
	r.records = append(r.records, inv)
	r.mu.Unlock()
}

// WasCalled reports whether a step with the given name was dispatched.
func (r *Recorder) WasCalled(name string) bool {
	return r.CallCount(name) > 0
}

// CallCount returns how many times the named step was dispatched.
func (r *Recorder) CallCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.records {
		if rec.StepName == name {
			count++
		}
	}
	return count
}

// CallsMatching returns the invocations of name accepted by the predicate.
func (r *Recorder) CallsMatching(name string, pred func(Invocation) bool) []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invocation
	for _, rec := range r.records {
		if rec.StepName == name && (pred == nil || pred(rec)) {
			out = append(out, rec)
		}
	}
	return out
}

// ExecutionOrder returns the dispatched step names in observation order.
func (r *Recorder) ExecutionOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.StepName
	}
	return out
}

// Snapshot returns a copy of the full log for verification.
func (r *Recorder) Snapshot() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of recorded invocations.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
