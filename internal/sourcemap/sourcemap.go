// Package sourcemap maps positions in a compiled pipeline script back to the
// original source, and renders source excerpts for diagnostics.
package sourcemap

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping relates one compiled position to its original position.
type Mapping struct {
	RuntimeLine int
	RuntimeCol  int
	OrigLine    int
	OrigCol     int
}

// Position is a resolved original-source position.
type Position struct {
	File   string
	Line   int
	Column int
}

// SourceMap holds the original source plus the ordered mapping table.
type SourceMap struct {
	OriginalFile    string
	OriginalContent string
	CompiledName    string

	mappings []Mapping // kept sorted by (RuntimeLine, RuntimeCol)
	lines    []string
}

// NewBasicMapping yields a 1:1 line map for the given source: every compiled
// line maps to the same original line at column 1.
func NewBasicMapping(originalFile, content, compiledName string) *SourceMap {
	sm := &SourceMap{
		OriginalFile:    originalFile,
		OriginalContent: content,
		CompiledName:    compiledName,
		lines:           splitLines(content),
	}
	for i := 1; i <= len(sm.lines); i++ {
		sm.mappings = append(sm.mappings, Mapping{RuntimeLine: i, RuntimeCol: 1, OrigLine: i, OrigCol: 1})
	}
	return sm
}

// AddMapping registers a custom mapping produced during compilation.
// Mappings may be added in any order.
func (sm *SourceMap) AddMapping(runtimeLine, runtimeCol, origLine, origCol int) {
	sm.mappings = append(sm.mappings, Mapping{
		RuntimeLine: runtimeLine,
		RuntimeCol:  runtimeCol,
		OrigLine:    origLine,
		OrigCol:     origCol,
	})
	sort.SliceStable(sm.mappings, func(i, j int) bool {
		if sm.mappings[i].RuntimeLine != sm.mappings[j].RuntimeLine {
			return sm.mappings[i].RuntimeLine < sm.mappings[j].RuntimeLine
		}
		return sm.mappings[i].RuntimeCol < sm.mappings[j].RuntimeCol
	})
}

// MapToOriginal resolves a compiled position to the original source.
// The greatest mapping with RuntimeLine <= line applies; the column is offset
// by the delta from the mapping's runtime column. When no mapping applies the
// position is returned unmapped against the original file.
func (sm *SourceMap) MapToOriginal(line, col int) Position {
	idx := -1
	for i, m := range sm.mappings {
		if m.RuntimeLine <= line {
			idx = i
		} else {
			break
		}
	}
	if idx < 0 {
		return Position{File: sm.OriginalFile, Line: line, Column: col}
	}

	m := sm.mappings[idx]
	pos := Position{File: sm.OriginalFile, Line: m.OrigLine + (line - m.RuntimeLine)}
	if col <= 0 {
		pos.Column = m.OrigCol
		return pos
	}
	// Columns shift only on the mapped line itself; later lines keep their
	// own column numbering.
	if line == m.RuntimeLine {
		pos.Column = m.OrigCol + (col - m.RuntimeCol)
	} else {
		pos.Column = col
	}
	if pos.Column < 1 {
		pos.Column = 1
	}
	return pos
}

// Context renders the original source around pos with n lines either side
// and a caret under the column:
//
//	11 |   stage('Build') {
//	12 |     ecoh 'hello'
//	   |     ^
//	13 |   }
func (sm *SourceMap) Context(pos Position, n int) string {
	if pos.Line < 1 || pos.Line > len(sm.lines) {
		return ""
	}

	start := pos.Line - n
	if start < 1 {
		start = 1
	}
	end := pos.Line + n
	if end > len(sm.lines) {
		end = len(sm.lines)
	}

	width := len(fmt.Sprintf("%d", end))
	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%*d | %s\n", width, i, sm.lines[i-1])
		if i == pos.Line && pos.Column > 0 {
			fmt.Fprintf(&b, "%s | %s^\n", strings.Repeat(" ", width), caretPad(sm.lines[i-1], pos.Column))
		}
	}
	return b.String()
}

// caretPad builds the whitespace run preceding the caret, expanding tabs so
// the caret lands under the addressed column.
func caretPad(line string, col int) string {
	var b strings.Builder
	for i := 0; i < col-1; i++ {
		if i < len(line) && line[i] == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// LineCount returns the number of lines in the original content.
func (sm *SourceMap) LineCount() int {
	return len(sm.lines)
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	// A trailing newline does not introduce a phantom final line.
	if len(lines) > 0 && lines[len(lines)-1] == "" && strings.HasSuffix(content, "\n") {
		lines = lines[:len(lines)-1]
	}
	return lines
}
