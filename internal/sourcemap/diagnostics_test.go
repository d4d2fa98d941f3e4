package sourcemap

import (
	"errors"
	"strings"
	"testing"
)

func TestEnhanceAt(t *testing.T) {
	sm := NewBasicMapping("ci.pipeline", original, "Script1")

	enhanced := sm.EnhanceAt("CNV-1042", errors.New("unresolved reference 'ecoh'"), 3, 5)

	if enhanced.Location.File != "ci.pipeline" || enhanced.Location.Line != 3 || enhanced.Location.Column != 5 {
		t.Errorf("Location = %+v", enhanced.Location)
	}
	if !strings.Contains(enhanced.SourceContext, "ecoh") {
		t.Errorf("SourceContext missing target line: %q", enhanced.SourceContext)
	}
	if !strings.Contains(enhanced.SourceContext, "^") {
		t.Errorf("SourceContext missing caret: %q", enhanced.SourceContext)
	}

	// Suggestion generation kicks in for unresolved references.
	found := false
	for _, s := range enhanced.Suggestions {
		if strings.Contains(s, "echo") {
			found = true
		}
	}
	if !found {
		t.Errorf("Suggestions = %v, want an echo candidate", enhanced.Suggestions)
	}

	compact := enhanced.Compact()
	if !strings.Contains(compact, "ci.pipeline:3:5") {
		t.Errorf("Compact() = %q", compact)
	}
}

func TestEnhanceAt_WithCustomMapping(t *testing.T) {
	sm := &SourceMap{OriginalFile: "ci.pipeline", lines: splitLines(original)}
	sm.AddMapping(10, 1, 3, 1)

	enhanced := sm.EnhanceAt("CNV-2", errors.New("boom"), 10, 5)
	if enhanced.Location.Line != 3 || enhanced.Location.Column != 5 {
		t.Errorf("Location = %+v", enhanced.Location)
	}
}
