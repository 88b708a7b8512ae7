package history

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks persisted state that could not be read back.
var ErrCorrupt = errors.New("persisted state is corrupt")

// CorruptionError names the file (and line, when known) that failed to parse.
type CorruptionError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }
