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

package limits

import (
	"runtime"
	"sync"
)

// Sample is one point-in-time reading of the monitored work's resources.
type Sample struct {
	// MemoryMB is memory in megabytes (resident set for child processes,
	// heap allocation for in-process work)
	MemoryMB int64

	// CPUMillis is cumulative CPU time in milliseconds
	CPUMillis int64

	// Threads is the concurrent execution count (OS threads for child
	// processes, goroutines for in-process work)
	Threads int
}

// Probe reads the current resource usage of monitored work.
type Probe interface {
	Sample() Sample
}

// RuntimeProbe samples the engine process itself. It is the probe for
// in-process work (none/goroutine isolation), where per-goroutine memory
// attribution does not exist: heap and CPU readings cover the whole process.
type RuntimeProbe struct{}

// NewRuntimeProbe creates a probe over the current process.
func NewRuntimeProbe() *RuntimeProbe {
	return &RuntimeProbe{}
}

// Sample implements Probe.
func (p *RuntimeProbe) Sample() Sample {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return Sample{
		MemoryMB:  int64(stats.HeapAlloc / (1 << 20)),
		CPUMillis: selfCPUMillis(),
		Threads:   runtime.NumGoroutine(),
	}
}

// ProcessProbe samples a child process. The pid is bound after the sandbox
// binding starts the child, so early samples before Bind report zero.
type ProcessProbe struct {
	mu  sync.Mutex
	pid int
}

// NewProcessProbe creates an unbound child-process probe.
func NewProcessProbe() *ProcessProbe {
	return &ProcessProbe{}
}

// Bind attaches the probe to a started child process.
func (p *ProcessProbe) Bind(pid int) {
	p.mu.Lock()
	p.pid = pid
	p.mu.Unlock()
}

// Sample implements Probe.
func (p *ProcessProbe) Sample() Sample {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()
	if pid <= 0 {
		return Sample{}
	}
	return readProcessSample(pid)
}
