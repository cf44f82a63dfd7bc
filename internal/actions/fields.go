package actions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

// dateLayout is the fixed timestamp format LOGLOAD/CAPTURESOUT timestamp
// fields are parsed in.
const dateLayout = "2006-01-02 15:04:05"

type fieldKind int

const (
	fieldSingle fieldKind = iota
	fieldRange
	fieldComposite
	fieldEvent
)

// Field describes one element of a FIELDS spec: a bare positional index, a
// range (a-b or a-e for "to end"), a plus-chain concatenating several
// positions without a delimiter, or an identifier naming a field on the
// triggering event instead of the tailed line. A trailing "/k" on any of
// these marks the extracted value as a timestamp to be shifted by k hours.
type Field struct {
	kind           fieldKind
	id             int
	untilID        int // -1 means "to the last token"
	compositeIDs   []int
	eventFieldName string
	isTimestamp    bool
	hourOffset     int
}

// ParseFields parses the comma-separated FIELDS spec of a LOGLOAD or
// CAPTURESOUT action.
func ParseFields(spec string) ([]*Field, error) {
	var fields []*Field
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := parseField(part)
		if err != nil {
			return nil, fmt.Errorf("actions: bad FIELDS element %q: %w", part, err)
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("actions: FIELDS spec %q has no elements", spec)
	}
	return fields, nil
}

func parseField(spec string) (*Field, error) {
	f := &Field{untilID: -1}
	if idx := strings.LastIndex(spec, "/"); idx >= 0 {
		offset, err := strconv.Atoi(spec[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("bad /k offset: %w", err)
		}
		f.isTimestamp = true
		f.hourOffset = offset
		spec = spec[:idx]
	}

	switch {
	case strings.Contains(spec, "+"):
		for _, p := range strings.Split(spec, "+") {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("bad plus-chain element %q: %w", p, err)
			}
			f.compositeIDs = append(f.compositeIDs, n)
		}
		f.kind = fieldComposite
	case strings.Contains(spec, "-"):
		parts := strings.SplitN(spec, "-", 2)
		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bad range start %q: %w", parts[0], err)
		}
		f.id = id
		f.kind = fieldRange
		if parts[1] != "e" {
			until, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("bad range end %q: %w", parts[1], err)
			}
			f.untilID = until
		}
	default:
		if n, err := strconv.Atoi(spec); err == nil {
			f.id = n
			f.kind = fieldSingle
		} else {
			f.kind = fieldEvent
			f.eventFieldName = spec
		}
	}
	return f, nil
}

// ExtractRecord splits line on delimiter and builds one CSV record from
// fields, resolving fieldEvent entries against ev (the event that
// triggered the read). Ported from extract_record_from_line.
func ExtractRecord(line, delimiter string, fields []*Field, ev event.Event) string {
	tokens := strings.Split(line, delimiter)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f.kind {
		case fieldRange:
			until := f.untilID
			if until < 0 || until >= len(tokens) {
				until = len(tokens) - 1
			}
			var vals []string
			for j := f.id; j <= until && j < len(tokens); j++ {
				vals = append(vals, tokens[j])
			}
			val := strings.Join(vals, " ")
			parts = append(parts, applyTimestamp(val, f))
		case fieldComposite:
			var b strings.Builder
			for _, id := range f.compositeIDs {
				if id >= 0 && id < len(tokens) {
					b.WriteString(tokens[id])
				}
			}
			parts = append(parts, applyTimestamp(b.String(), f))
		case fieldEvent:
			val, _ := ev.GetValue(f.eventFieldName)
			parts = append(parts, applyTimestamp(val, f))
		default:
			var val string
			if f.id >= 0 && f.id < len(tokens) {
				val = tokens[f.id]
			}
			parts = append(parts, applyTimestamp(val, f))
		}
	}
	return strings.Join(parts, ",")
}

// applyTimestamp shifts a parsed "YYYY-MM-DD HH:MM:SS" value by the
// field's hour offset using time.Time arithmetic, which (unlike the
// naive tm-struct math it replaces) correctly rolls over months and
// years. Values that fail to parse, or fields with no timestamp offset,
// pass through unchanged.
func applyTimestamp(val string, f *Field) string {
	if !f.isTimestamp {
		return val
	}
	t, err := time.Parse(dateLayout, val)
	if err != nil {
		return val
	}
	return t.Add(time.Duration(f.hourOffset) * time.Hour).Format(dateLayout)
}
