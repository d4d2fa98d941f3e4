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

//go:build !linux

package limits

// Platforms without procfs report zero CPU time and zero child-process
// readings, so CPU limits and process-isolated memory/thread limits never
// breach. In-process heap and goroutine counts still come from the Go runtime.

func selfCPUMillis() int64 {
	return 0
}

func readProcessSample(pid int) Sample {
	return Sample{}
}
