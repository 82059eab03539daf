package trace

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the type of an event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

var kindNames = [...]string{
	KindSpanBegin: "begin",
	KindSpanEnd:   "end",
	KindPoint:     "point",
	KindHeartbeat: "heartbeat",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope orders events from coarse to fine.
type Scope uint8

const (
	// ScopeDriver covers CLI commands and batch jobs.
	ScopeDriver Scope = iota + 1
	// ScopeUnit covers unit lifecycle, registration and binding.
	ScopeUnit
	// ScopeSpecialize covers cache lookups, cloning and compilation.
	ScopeSpecialize
	// ScopeOptimize covers optimizer runs and finishing passes.
	ScopeOptimize
	// ScopeInstr covers single folds, call rewrites and inlines.
	ScopeInstr
)

var scopeNames = [...]string{
	ScopeDriver:     "driver",
	ScopeUnit:       "unit",
	ScopeSpecialize: "specialize",
	ScopeOptimize:   "optimize",
	ScopeInstr:      "instr",
}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// Level controls verbosity.
type Level uint8

const (
	LevelOff Level = iota
	// LevelError records nothing during normal operation; it only keeps
	// the tracer alive for heartbeats.
	LevelError
	LevelPhase
	LevelDetail
	LevelDebug
)

var levelNames = [...]string{
	LevelOff:    "off",
	LevelError:  "error",
	LevelPhase:  "phase",
	LevelDetail: "detail",
	LevelDebug:  "debug",
}

// finest is the finest scope each level records; zero records none.
var finest = [...]Scope{
	LevelPhase:  ScopeSpecialize,
	LevelDetail: ScopeOptimize,
	LevelDebug:  ScopeInstr,
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// Allows reports whether events of scope are recorded at level l.
func (l Level) Allows(scope Scope) bool {
	return int(l) < len(finest) && scope <= finest[l] && scope > 0
}

// ParseLevel parses a level name, ignoring case.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(l), nil //nolint:gosec // G115: index of a five element table
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|phase|detail|debug)", s)
}

// Event is one trace record.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64
	GID      uint64
	Name     string
	Detail   string
	Extra    map[string]string
}

// recorded reports whether a tracer at level keeps ev.
func recorded(level Level, ev *Event) bool {
	return ev.Kind == KindHeartbeat || level.Allows(ev.Scope)
}
