package sourcemap

import (
	"strings"
	"testing"
)

const original = `pipeline {
  stage('Build') {
    ecoh 'hello'
  }
}
`

func TestNewBasicMapping_Identity(t *testing.T) {
	sm := NewBasicMapping("ci.pipeline", original, "Script1")

	// Invariant: the basic mapping is the identity for every line/col.
	for line := 1; line <= sm.LineCount(); line++ {
		for _, col := range []int{1, 3, 9} {
			pos := sm.MapToOriginal(line, col)
			if pos.File != "ci.pipeline" || pos.Line != line || pos.Column != col {
				t.Fatalf("MapToOriginal(%d, %d) = %+v, want identity", line, col, pos)
			}
		}
	}
}

func TestMapToOriginal_GreatestLowerMapping(t *testing.T) {
	sm := &SourceMap{OriginalFile: "ci.pipeline", lines: splitLines(original)}
	sm.AddMapping(10, 1, 2, 1)
	sm.AddMapping(20, 5, 4, 3)

	tests := []struct {
		line, col     int
		wantLine, wantCol int
	}{
		{10, 4, 2, 4},  // on the mapped line: column shifts by delta
		{12, 7, 4, 7},  // below the mapping: lines offset, columns kept
		{20, 5, 4, 3},  // second mapping start
		{20, 9, 4, 7},  // second mapping column delta
		{25, 2, 9, 2},  // greatest mapping still the second one
	}
	for _, tt := range tests {
		pos := sm.MapToOriginal(tt.line, tt.col)
		if pos.Line != tt.wantLine || pos.Column != tt.wantCol {
			t.Errorf("MapToOriginal(%d,%d) = %d:%d, want %d:%d",
				tt.line, tt.col, pos.Line, pos.Column, tt.wantLine, tt.wantCol)
		}
	}
}

func TestMapToOriginal_BeforeFirstMapping(t *testing.T) {
	sm := &SourceMap{OriginalFile: "ci.pipeline", lines: splitLines(original)}
	sm.AddMapping(10, 1, 2, 1)

	pos := sm.MapToOriginal(3, 4)
	if pos.Line != 3 || pos.Column != 4 {
		t.Errorf("positions before any mapping pass through, got %+v", pos)
	}
}

func TestMapToOriginal_InheritedColumn(t *testing.T) {
	sm := &SourceMap{OriginalFile: "ci.pipeline", lines: splitLines(original)}
	sm.AddMapping(5, 3, 2, 7)

	pos := sm.MapToOriginal(5, 0)
	if pos.Column != 7 {
		t.Errorf("unspecified column should inherit from the mapping, got %d", pos.Column)
	}
}

func TestContext_CaretPlacement(t *testing.T) {
	sm := NewBasicMapping("ci.pipeline", original, "Script1")

	ctx := sm.Context(Position{File: "ci.pipeline", Line: 3, Column: 5}, 1)
	lines := strings.Split(strings.TrimRight(ctx, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("context lines = %d, want 4 (line 2..4 plus caret):\n%s", len(lines), ctx)
	}
	if !strings.Contains(lines[1], "ecoh") {
		t.Errorf("target line missing: %q", lines[1])
	}
	caret := lines[2]
	if !strings.HasSuffix(caret, "^") {
		t.Fatalf("caret line = %q", caret)
	}
	// Column 5 renders as four pad characters then the caret.
	caretBody := strings.SplitN(caret, "| ", 2)
	if len(caretBody) != 2 || len(caretBody[1]) != 5 {
		t.Errorf("caret not under column 5:\n%s", ctx)
	}
}

func TestContext_Bounds(t *testing.T) {
	sm := NewBasicMapping("ci.pipeline", original, "Script1")
	if got := sm.Context(Position{Line: 99}, 3); got != "" {
		t.Errorf("out-of-range context = %q, want empty", got)
	}
	// Window clamped at the start of the file.
	ctx := sm.Context(Position{Line: 1, Column: 1}, 3)
	if !strings.Contains(ctx, "pipeline {") {
		t.Errorf("context = %q", ctx)
	}
}

func TestSplitLines_TrailingNewline(t *testing.T) {
	if got := len(splitLines("a\nb\n")); got != 2 {
		t.Errorf("lines = %d, want 2", got)
	}
	if got := len(splitLines("a\nb")); got != 2 {
		t.Errorf("lines = %d, want 2", got)
	}
	if got := len(splitLines("")); got != 0 {
		t.Errorf("lines = %d, want 0", got)
	}
}
