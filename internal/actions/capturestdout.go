package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ursprung-go/collection-system/internal/event"
)

// StdoutCaptureAction hijacks a traced process's stdout via provd,
// extracting CSV records from matching lines until the remote signals
// end of stream. Stateless by design: a consumer restart never resumes
// an old trace, since the traced process may have changed by then.
//
// "CAPTURESOUT MATCH phrase FIELDS spec DELIM delim INTO dest"
type StdoutCaptureAction struct {
	spec      string
	matchRe   matchRegexp
	fields    []*Field
	delimiter string
	dest      Destination
	sink      Sink
	dialProvd func(host string) (ProvdClient, error)
}

func newStdoutCaptureAction(spec, ruleID string, deps Deps) (Action, error) {
	body := strings.TrimPrefix(spec, captureStdoutRule+" ")
	matchPos := strings.Index(body, "MATCH ")
	if matchPos != 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing MATCH)", spec)
	}
	fieldsPos := strings.Index(body, " FIELDS ")
	if fieldsPos < 0 {
		return nil, fmt.Errorf("actions: %q is not specified correctly (missing FIELDS)", spec)
	}
	matchPhrase := strings.TrimSpace(body[len("MATCH "):fieldsPos])

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
		return nil, fmt.Errorf("actions: CAPTURESOUT bad MATCH phrase: %w", err)
	}
	fields, err := ParseFields(fieldsSpec)
	if err != nil {
		return nil, fmt.Errorf("actions: CAPTURESOUT %w", err)
	}
	dest, err := ParseDestination(destStr)
	if err != nil {
		return nil, fmt.Errorf("actions: CAPTURESOUT %w", err)
	}
	sink, err := deps.OpenSink(dest)
	if err != nil {
		return nil, fmt.Errorf("actions: CAPTURESOUT could not open sink: %w", err)
	}
	if deps.DialProvd == nil {
		return nil, fmt.Errorf("actions: CAPTURESOUT requires a provd dialer")
	}

	return &StdoutCaptureAction{
		spec:      spec,
		matchRe:   re,
		fields:    fields,
		delimiter: delimiter,
		dest:      dest,
		sink:      sink,
		dialProvd: deps.DialProvd,
	}, nil
}

func (a *StdoutCaptureAction) Execute(ctx context.Context, ev event.Event) error {
	pidStr, _ := ev.GetValue("pid")
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return fmt.Errorf("actions: CAPTURESOUT: bad pid %q on triggering event: %w", pidStr, err)
	}

	client, err := a.dialProvd(ev.NodeName())
	if err != nil {
		return fmt.Errorf("actions: CAPTURESOUT: dialing provd on %s: %w", ev.NodeName(), err)
	}

	lines, err := client.TraceProcess(ctx, pid, a.matchRe.re.String())
	if err != nil {
		return fmt.Errorf("actions: CAPTURESOUT: submitting trace request: %w", err)
	}

	var records []string
	for line := range lines {
		rec := ExtractRecord(line, a.delimiter, a.fields, ev)
		if rec != "" {
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil
	}
	return a.sink.SendBatch(ctx, records)
}

func (a *StdoutCaptureAction) Type() string           { return captureStdoutRule }
func (a *StdoutCaptureAction) NumConsumerThreads() int { return 1000 }
func (a *StdoutCaptureAction) String() string          { return a.spec }
