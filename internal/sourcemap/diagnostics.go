package sourcemap

import (
	"github.com/conveyor-ci/conveyor/pkg/errors"
)

// contextLines is how many lines surround the caret in rendered excerpts.
const contextLines = 3

// EnhanceAt wraps err into an EnhancedError located at the given compiled
// position: the position is mapped back to the original source and the
// surrounding excerpt is attached.
func (sm *SourceMap) EnhanceAt(code string, err error, runtimeLine, runtimeCol int) *errors.EnhancedError {
	pos := sm.MapToOriginal(runtimeLine, runtimeCol)

	enhanced := errors.Enhance(code, err)
	enhanced.Location = errors.Location{
		File:   pos.File,
		Line:   pos.Line,
		Column: pos.Column,
	}
	enhanced.SourceContext = sm.Context(pos, contextLines)
	return enhanced
}
