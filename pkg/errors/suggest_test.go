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

func TestSuggest_UnresolvedReference(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"unresolved reference 'ecoh'", "echo"},
		{"unresolved reference 'sch'", "sh"},
		{"unknown step 'readFiel'", "readFile"},
		{"unresolved reference 'checkuot'", "checkout"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got := Suggest(tt.message)
			if len(got) == 0 {
				t.Fatalf("Suggest(%q) returned nothing", tt.message)
			}
			if !strings.Contains(got[0], tt.want) {
				t.Errorf("Suggest(%q)[0] = %q, want candidate %q", tt.message, got[0], tt.want)
			}
		})
	}
}

func TestSuggest_NoCandidateBeyondDistanceTwo(t *testing.T) {
	got := Suggest("unresolved reference 'zzzzzzzz'")
	for _, s := range got {
		if strings.Contains(s, "Did you mean") {
			t.Errorf("no candidate expected for distant name, got %q", s)
		}
	}
}

func TestSuggest_Patterns(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"type mismatch: expected int", "Check parameter types."},
		{"unmatched brace in expression", "Add the matching closer."},
		{"runtime error: nil pointer dereference", "Check for nil and use safe access."},
		{"index out of range [4] with length 2", "Check collection bounds."},
		{"blocked command: curl", "Security policy denied; use a sanctioned alternative."},
		{"invalid argument 'attemps' for retry", "Check the argument names and values documented for the step."},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := Suggest(tt.message)
			found := false
			for _, s := range got {
				if s == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("Suggest(%q) = %v, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"echo", "echo", 0},
		{"ecoh", "echo", 2},
		{"sh", "ssh", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNearestNames_Ordering(t *testing.T) {
	got := NearestNames("delai", []string{"delay", "deploy", "relay"}, 2)
	if len(got) == 0 || got[0] != "delay" {
		t.Errorf("NearestNames ordering = %v, want delay first", got)
	}
}
