package trace

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Format is the encoding of emitted events.
type Format uint8

const (
	// FormatAuto picks NDJSON for .json and .ndjson output files and text
	// otherwise.
	FormatAuto Format = iota
	FormatText
	FormatNDJSON
)

// ParseFormat parses a format name; "json" is an alias of "ndjson".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "text":
		return FormatText, nil
	case "ndjson", "json":
		return FormatNDJSON, nil
	}
	return FormatAuto, fmt.Errorf("invalid trace format: %q (expected: auto|text|ndjson)", s)
}

// resolve replaces FormatAuto using the output path.
func (f Format) resolve(path string) Format {
	if f != FormatAuto {
		return f
	}
	if strings.HasSuffix(path, ".ndjson") || strings.HasSuffix(path, ".json") {
		return FormatNDJSON
	}
	return FormatText
}

// AppendEvent appends the encoding of ev to buf, newline included.
func AppendEvent(buf []byte, ev *Event, f Format) []byte {
	if f == FormatNDJSON {
		return appendJSON(buf, ev)
	}
	return appendText(buf, ev)
}

type jsonEvent struct {
	Time     string            `json:"time"`
	Seq      uint64            `json:"seq"`
	Kind     string            `json:"kind"`
	Scope    string            `json:"scope"`
	SpanID   uint64            `json:"span_id,omitempty"`
	ParentID uint64            `json:"parent_id,omitempty"`
	GID      uint64            `json:"gid,omitempty"`
	Name     string            `json:"name"`
	Detail   string            `json:"detail,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func appendJSON(buf []byte, ev *Event) []byte {
	data, err := json.Marshal(jsonEvent{
		Time:     ev.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
		Seq:      ev.Seq,
		Kind:     ev.Kind.String(),
		Scope:    ev.Scope.String(),
		SpanID:   ev.SpanID,
		ParentID: ev.ParentID,
		GID:      ev.GID,
		Name:     ev.Name,
		Detail:   ev.Detail,
		Extra:    ev.Extra,
	})
	if err != nil {
		// strings and integers only; unreachable
		return buf
	}
	buf = append(buf, data...)
	return append(buf, '\n')
}

// text events look like
//
//	[    12]   > specialize:clone (add) {budget=1}
var kindMarks = [...]string{
	KindSpanBegin: ">",
	KindSpanEnd:   "<",
	KindPoint:     "*",
	KindHeartbeat: "~",
}

func appendText(buf []byte, ev *Event) []byte {
	buf = fmt.Appendf(buf, "[%6d] ", ev.Seq)
	if ev.ParentID != 0 {
		buf = append(buf, "  "...)
	}
	mark := "?"
	if int(ev.Kind) < len(kindMarks) && kindMarks[ev.Kind] != "" {
		mark = kindMarks[ev.Kind]
	}
	buf = append(buf, mark...)
	buf = append(buf, ' ')
	buf = append(buf, ev.Scope.String()...)
	buf = append(buf, ':')
	buf = append(buf, ev.Name...)
	if ev.Detail != "" {
		buf = fmt.Appendf(buf, " (%s)", ev.Detail)
	}
	if len(ev.Extra) > 0 {
		buf = append(buf, " {"...)
		for i, k := range slices.Sorted(maps.Keys(ev.Extra)) {
			if i > 0 {
				buf = append(buf, ", "...)
			}
			buf = fmt.Appendf(buf, "%s=%s", k, ev.Extra[k])
		}
		buf = append(buf, '}')
	}
	return append(buf, '\n')
}
