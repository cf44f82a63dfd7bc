package actions

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/ursprung-go/collection-system/internal/event"
)

const logLoadChunkSize = 4096

type logLoadParseState struct {
	offset int64
	inode  uint64
}

// LogLoadAction tails a growing log file named by an event field,
// extracting CSV records from lines matching a regex. Per (rule, path)
// it persists a byte offset and inode through the state backend so a
// restart resumes where it left off, and detects log rotation by
// comparing the stored inode against the file's current one.
//
// "LOGLOAD eventfield MATCH phrase FIELDS spec DELIM delim INTO dest"
type LogLoadAction struct {
	spec       string
	eventField string
	matchRe    matchRegexp
	fields     []*Field
	delimiter  string
	dest       Destination
	sink       Sink
	state      actionstateBackendWithRuleID

	mtx     sync.Mutex
	parsing map[string]*logLoadParseState
}

func newLogLoadAction(spec, ruleID string, deps Deps) (Action, error) {
	body := strings.TrimPrefix(spec, logLoadRule+" ")
	matchPos := strings.Index(body, " MATCH ")
	if matchPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing MATCH)", spec)
	}
	eventField := strings.TrimSpace(body[:matchPos])

	fieldsPos := strings.Index(body, " FIELDS ")
	if fieldsPos < 0 || fieldsPos < matchPos {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing FIELDS)", spec)
	}
	matchPhrase := strings.TrimSpace(body[matchPos+len(" MATCH "):fieldsPos])

	delimPos := strings.Index(body, " DELIM ")
	if delimPos < 0 || delimPos < fieldsPos {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing DELIM)", spec)
	}
	fieldsSpec := strings.TrimSpace(body[fieldsPos+len(" FIELDS "):delimPos])

	intoPos := strings.Index(body, " INTO ")
	if intoPos < 0 || intoPos < delimPos {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing INTO)", spec)
	}
	delimiter := strings.TrimSpace(body[delimPos+len(" DELIM "):intoPos])
	destStr := strings.TrimSpace(body[intoPos+len(" INTO "):])

	re, err := newMatchRegexp(matchPhrase)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD bad MATCH phrase: %w", err)
	}
	fields, err := ParseFields(fieldsSpec)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD %w", err)
	}
	dest, err := ParseDestination(destStr)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD %w", err)
	}
	sink, err := deps.OpenSink(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD could not open sink: %w", err)
	}
	stateBackend, err := deps.OpenState(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD could not open state backend: %w", err)
	}

	return &LogLoadAction{
		spec:       spec,
		eventField: eventField,
		matchRe:    re,
		fields:     fields,
		delimiter:  delimiter,
		dest:       dest,
		sink:       sink,
		state:      actionstateBackendWithRuleID{backend: stateBackend, ruleID: ruleID},
		parsing:    make(map[string]*logLoadParseState),
	}, nil
}

func (a *LogLoadAction) Execute(ctx context.Context, ev event.Event) error {
	path, ok := ev.GetValue(a.eventField)
	if !ok || path == "" {
		return fmt.Errorf("actions: LOGLOAD: event field %q empty, not executing %s", a.eventField, a)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("actions: LOGLOAD: stat %s: %w", path, err)
	}
	inode := inodeOf(fi)

	st, err := a.loadState(ctx, path, inode)
	if err != nil {
		return err
	}
	if st.inode != inode {
		st.offset = 0
		st.inode = inode
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("actions: LOGLOAD: opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Seek(st.offset, 0); err != nil {
		return fmt.Errorf("actions: LOGLOAD: seeking %s: %w", path, err)
	}

	var records []string
	var fragment []byte
	buf := make([]byte, logLoadChunkSize)
	consumed := st.offset
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			start := 0
			for i := 0; i < n; i++ {
				if buf[i] == '\n' {
					line := append(fragment, buf[start:i]...)
					fragment = nil
					start = i + 1
					if a.matchRe.MatchString(string(line)) {
						records = append(records, ExtractRecord(string(line), a.delimiter, a.fields, ev))
					}
				}
			}
			if start < n {
				fragment = append(fragment, buf[start:n]...)
			}
			consumed += int64(n)
		}
		if rerr != nil {
			break
		}
	}
	// fragment left over at EOF (a partial final line) is intentionally
	// dropped from consumed so the next fire re-reads it once complete.
	// Within one fire a partial line is carried across any number of
	// chunks, so lines longer than one chunk are still read whole.
	newOffset := consumed - int64(len(fragment))

	a.mtx.Lock()
	st.offset = newOffset
	a.mtx.Unlock()
	if err := a.state.backend.UpdateState(ctx, a.state.ruleID,
		strconv.FormatInt(newOffset, 10)+","+strconv.FormatUint(inode, 10), path); err != nil {
		return fmt.Errorf("actions: LOGLOAD: persisting state for %s: %w", path, err)
	}

	if len(records) == 0 {
		return nil
	}
	return a.sink.SendBatch(ctx, records)
}

func (a *LogLoadAction) loadState(ctx context.Context, path string, inode uint64) (*logLoadParseState, error) {
	a.mtx.Lock()
	if st, ok := a.parsing[path]; ok {
		a.mtx.Unlock()
		return st, nil
	}
	a.mtx.Unlock()

	existing, ok, err := a.state.backend.LookupState(ctx, a.state.ruleID, path)
	if err != nil {
		return nil, fmt.Errorf("actions: LOGLOAD: restoring state for %s: %w", path, err)
	}
	st := &logLoadParseState{offset: 0, inode: inode}
	if ok && existing != "" {
		parts := strings.SplitN(existing, ",", 2)
		if len(parts) == 2 {
			if off, err := strconv.ParseInt(parts[0], 10, 64); err == nil {
				st.offset = off
			}
			if ino, err := strconv.ParseUint(parts[1], 10, 64); err == nil {
				st.inode = ino
			}
		}
	} else {
		if err := a.state.backend.InsertState(ctx, a.state.ruleID,
			strconv.FormatInt(st.offset, 10)+","+strconv.FormatUint(st.inode, 10), path); err != nil {
			return nil, fmt.Errorf("actions: LOGLOAD: initializing state for %s: %w", path, err)
		}
	}

	a.mtx.Lock()
	a.parsing[path] = st
	a.mtx.Unlock()
	return st, nil
}

func (a *LogLoadAction) Type() string           { return logLoadRule }
func (a *LogLoadAction) NumConsumerThreads() int { return 1 }
func (a *LogLoadAction) String() string          { return a.spec }
