package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1 // span start
	KindSpanEnd                   // span end
	KindPoint                     // instant event
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent coarser events.
type Scope uint8

const (
	ScopeLoop Scope = iota + 1 // drain/poll phases
	ScopeTask                  // spawn, complete, fail
	ScopeIO                    // register, ready
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeLoop:
		return "loop"
	case ScopeTask:
		return "task"
	case ScopeIO:
		return "io"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time         // wall-clock timestamp
	Seq      uint64            // global sequence number (monotonic)
	Kind     Kind              // event kind
	Scope    Scope             // granularity level
	SpanID   uint64            // span identifier (spans only)
	ParentID uint64            // parent span (0 if root)
	Loop     string            // scheduler instance id
	Task     uint64            // task id (0 for loop events)
	FD       int               // descriptor for io events, -1 otherwise
	Name     string            // e.g. "drain", "spawn", "register"
	Detail   string            // optional detail message
	Extra    map[string]string // extensible key-value pairs
}
