package trace

import (
	"fmt"
	"strings"
)

// Level controls tracing verbosity.
type Level uint8

const (
	LevelOff   Level = iota // no tracing
	LevelError              // failures only (via hook)
	LevelLoop               // drain/poll phases
	LevelTask               // task lifecycle
	LevelIO                 // reactor registrations
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelLoop:
		return "loop"
	case LevelTask:
		return "task"
	case LevelIO:
		return "io"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "error":
		return LevelError, nil
	case "loop":
		return LevelLoop, nil
	case "task":
		return LevelTask, nil
	case "io":
		return LevelIO, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|loop|task|io)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelLoop:
		return scope <= ScopeLoop
	case LevelTask:
		return scope <= ScopeTask
	case LevelIO:
		return true
	}
	return false
}
