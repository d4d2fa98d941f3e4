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

//go:build linux

package limits

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// userHz is the kernel's clock tick rate for /proc/[pid]/stat CPU fields.
// Linux fixes USER_HZ at 100 for userspace-visible interfaces.
const userHz = 100

// selfCPUMillis reads the engine's own cumulative CPU time.
func selfCPUMillis() int64 {
	s := readProcessSample(os.Getpid())
	return s.CPUMillis
}

// readProcessSample reads memory, CPU and thread counts for a process from
// /proc/[pid]/{stat,status}. A vanished process reports zero.
func readProcessSample(pid int) Sample {
	var sample Sample

	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err == nil {
		// Field 2 (comm) may contain spaces; fields are counted after the
		// closing paren. utime and stime are fields 14 and 15, 1-based.
		if idx := strings.LastIndexByte(string(stat), ')'); idx >= 0 {
			fields := strings.Fields(string(stat)[idx+1:])
			if len(fields) >= 13 {
				utime, _ := strconv.ParseInt(fields[11], 10, 64)
				stime, _ := strconv.ParseInt(fields[12], 10, 64)
				sample.CPUMillis = (utime + stime) * 1000 / userHz
			}
			if len(fields) >= 18 {
				threads, _ := strconv.Atoi(fields[17])
				sample.Threads = threads
			}
		}
	}

	status, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err == nil {
		for _, line := range strings.Split(string(status), "\n") {
			if strings.HasPrefix(line, "VmRSS:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					kb, _ := strconv.ParseInt(fields[1], 10, 64)
					sample.MemoryMB = kb / 1024
				}
				break
			}
		}
	}

	return sample
}
