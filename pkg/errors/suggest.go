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
	"regexp"
	"strings"
)

// builtinStepNames are the step identifiers offered as "did you mean"
// candidates for unresolved references.
var builtinStepNames = []string{
	"sh", "echo", "readFile", "writeFile", "delay",
	"checkout", "archiveArtifacts", "retry", "parallel", "jsonQuery",
}

var identRe = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)

// suggestionPattern maps a message pattern to a fixed suggestion.
type suggestionPattern struct {
	match   *regexp.Regexp
	suggest string
}

var suggestionPatterns = []suggestionPattern{
	{regexp.MustCompile(`(?i)type mismatch|cannot convert|is .*, not `), "Check parameter types."},
	{regexp.MustCompile(`(?i)missing semicolon`), "Add the missing semicolon."},
	{regexp.MustCompile(`(?i)unmatched|unclosed|missing .*(brace|paren|bracket)`), "Add the matching closer."},
	{regexp.MustCompile(`(?i)nil pointer|null pointer|nil dereference`), "Check for nil and use safe access."},
	{regexp.MustCompile(`(?i)index out of range|out of bounds`), "Check collection bounds."},
	{regexp.MustCompile(`(?i)deprecated`), "Migrate to the replacement API named in the message."},
	{regexp.MustCompile(`(?i)invalid argument`), "Check the argument names and values documented for the step."},
	{regexp.MustCompile(`(?i)blocked command|denied by security|security policy`), "Security policy denied; use a sanctioned alternative."},
	{regexp.MustCompile(`(?i)cast|type assertion`), "Verify the value's runtime type before converting."},
}

var unresolvedRe = regexp.MustCompile(`(?i)unresolved (reference|step)|unknown step|not found`)

// Suggest derives actionable suggestions from an error message.
// Unresolved references additionally get "did you mean" candidates built
// from builtinStepNames at edit distance <= 2.
func Suggest(message string) []string {
	var out []string

	if unresolvedRe.MatchString(message) {
		if name := quotedIdent(message); name != "" {
			for _, candidate := range NearestNames(name, builtinStepNames, 2) {
				out = append(out, "Did you mean '"+candidate+"'?")
			}
		}
		if len(out) == 0 {
			out = append(out, "Check the step name; run `conveyor validate` to list registered steps.")
		}
	}

	for _, p := range suggestionPatterns {
		if p.match.MatchString(message) {
			out = append(out, p.suggest)
		}
	}

	return out
}

// NearestNames returns the candidates within the given Levenshtein distance
// of name, closest first.
func NearestNames(name string, candidates []string, maxDistance int) []string {
	type scored struct {
		name string
		dist int
	}
	var matches []scored
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein(strings.ToLower(name), strings.ToLower(c)); d <= maxDistance {
			matches = append(matches, scored{c, d})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].dist < matches[j-1].dist; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}

// quotedIdent extracts the first single- or double-quoted identifier.
func quotedIdent(message string) string {
	m := identRe.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming form.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
