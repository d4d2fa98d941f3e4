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
	"fmt"
	"strings"
)

// Severity classifies an enhanced diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDebug   Severity = "debug"
)

// Location is a position in an original source file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String renders the location as file:line:col.
func (l Location) String() string {
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

// EnhancedError is a structured diagnostic with a stable code, an optional
// source location, surrounding source context, and actionable suggestions.
//
// It has two renderings: Compact for single-line surfaces (IDE, logs at a
// glance) and Render for the full multi-line report.
type EnhancedError struct {
	// Code is a stable machine-readable identifier (e.g. "CNV-1042")
	Code string

	// Message is the human-readable description
	Message string

	// Severity classifies the diagnostic; warnings never fail a step
	Severity Severity

	// Location is the mapped position in the original source, if known
	Location Location

	// SourceContext is the rendered source excerpt with a caret, if available
	SourceContext string

	// Cause is the underlying error, if any
	Cause error

	// Suggestions are actionable hints, most likely first
	Suggestions []string

	// Metadata carries extra key/value detail for the full rendering
	Metadata map[string]string
}

// Error implements the error interface using the compact rendering.
func (e *EnhancedError) Error() string {
	return e.Compact()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// Compact renders the one-line form: [CODE] message at file:line:col.
func (e *EnhancedError) Compact() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if !e.Location.IsZero() {
		fmt.Fprintf(&b, " at %s", e.Location)
	}
	return b.String()
}

// Render renders the full multi-line report: header, location, source
// context, suggestions, metadata and cause chain.
func (e *EnhancedError) Render() string {
	var b strings.Builder

	sev := e.Severity
	if sev == "" {
		sev = SeverityError
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "%s[%s]: %s\n", sev, e.Code, e.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s\n", sev, e.Message)
	}

	if !e.Location.IsZero() {
		fmt.Fprintf(&b, "  --> %s\n", e.Location)
	}

	if e.SourceContext != "" {
		for _, line := range strings.Split(strings.TrimRight(e.SourceContext, "\n"), "\n") {
			fmt.Fprintf(&b, "   %s\n", line)
		}
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range e.Suggestions {
			fmt.Fprintf(&b, "  hint: %s\n", s)
		}
	}

	if len(e.Metadata) > 0 {
		b.WriteString("\n")
		for _, k := range sortedKeys(e.Metadata) {
			fmt.Fprintf(&b, "  %s: %s\n", k, e.Metadata[k])
		}
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %v\n", e.Cause)
	}

	return b.String()
}

// WithSuggestions returns a copy of the error with the given suggestions
// appended. The receiver is not modified.
func (e *EnhancedError) WithSuggestions(suggestions ...string) *EnhancedError {
	clone := *e
	clone.Suggestions = append(append([]string(nil), e.Suggestions...), suggestions...)
	return &clone
}

// Enhance wraps any error into an EnhancedError, deriving suggestions from
// the message patterns. Already-enhanced errors are returned unchanged.
func Enhance(code string, err error) *EnhancedError {
	var enhanced *EnhancedError
	if As(err, &enhanced) {
		return enhanced
	}
	return &EnhancedError{
		Code:        code,
		Message:     err.Error(),
		Severity:    SeverityError,
		Cause:       Unwrap(err),
		Suggestions: Suggest(err.Error()),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}
