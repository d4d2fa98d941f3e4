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

package errors

import (
	"strings"
	"testing"
)

func TestEnhancedError_Compact(t *testing.T) {
	err := &EnhancedError{
		Code:     "CNV-1042",
		Message:  "unresolved step 'ecoh'",
		Severity: SeverityError,
		Location: Location{File: "Jenkinsfile.yaml", Line: 12, Column: 7},
	}
	got := err.Compact()
	want := "[CNV-1042] unresolved step 'ecoh' at Jenkinsfile.yaml:12:7"
	if got != want {
		t.Errorf("Compact() = %q, want %q", got, want)
	}
}

func TestEnhancedError_CompactAndRenderAgree(t *testing.T) {
	err := &EnhancedError{
		Code:     "CNV-7",
		Message:  "type mismatch in retry attempts",
		Severity: SeverityError,
		Location: Location{File: "ci.yaml", Line: 3, Column: 9},
		Suggestions: []string{
			"Check parameter types.",
		},
		Cause: New("cannot convert string to int"),
	}

	compact := err.Compact()
	full := err.Render()

	// Both renderings must agree on code, message and location.
	for _, field := range []string{"CNV-7", "type mismatch in retry attempts", "ci.yaml:3:9"} {
		if !strings.Contains(compact, field) {
			t.Errorf("Compact() missing %q: %q", field, compact)
		}
		if !strings.Contains(full, field) {
			t.Errorf("Render() missing %q: %q", field, full)
		}
	}

	// Full rendering additionally carries suggestions and the cause.
	if !strings.Contains(full, "hint: Check parameter types.") {
		t.Errorf("Render() missing suggestion: %q", full)
	}
	if !strings.Contains(full, "caused by: cannot convert string to int") {
		t.Errorf("Render() missing cause: %q", full)
	}
}

func TestEnhancedError_RenderSourceContext(t *testing.T) {
	err := &EnhancedError{
		Code:          "CNV-2",
		Message:       "unknown environment variable \"DB\"",
		SourceContext: "12 |   echo \"engine=${DB}\"\n   |                 ^",
		Severity:      SeverityError,
	}
	full := err.Render()
	if !strings.Contains(full, "^") {
		t.Errorf("Render() should include the caret line: %q", full)
	}
}

func TestEnhance_PassesThroughEnhanced(t *testing.T) {
	orig := &EnhancedError{Code: "CNV-1", Message: "boom"}
	if got := Enhance("CNV-9", orig); got != orig {
		t.Error("Enhance should return an already-enhanced error unchanged")
	}
}

func TestEnhance_DerivesSuggestions(t *testing.T) {
	err := Enhance("CNV-3", New("unresolved reference 'ecoh'"))
	if len(err.Suggestions) == 0 {
		t.Fatal("Enhance should derive suggestions for unresolved references")
	}
	if !strings.Contains(err.Suggestions[0], "echo") {
		t.Errorf("suggestion = %q, want echo candidate", err.Suggestions[0])
	}
}

func TestEnhancedError_WithSuggestionsDoesNotMutate(t *testing.T) {
	orig := &EnhancedError{Code: "CNV-4", Message: "x", Suggestions: []string{"a"}}
	clone := orig.WithSuggestions("b")
	if len(orig.Suggestions) != 1 {
		t.Error("WithSuggestions must not mutate the receiver")
	}
	if len(clone.Suggestions) != 2 {
		t.Errorf("clone suggestions = %d, want 2", len(clone.Suggestions))
	}
}
