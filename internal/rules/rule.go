package rules

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ursprung-go/collection-system/internal/event"
)

const ruleDelim = "->"
const actionDelim = ";"

// Rule pairs a condition expression with the ordered list of raw action
// specifications to run when it matches. Action specs are left unparsed
// here; internal/actions owns turning "DBLOAD mytable" into a runnable
// Action, keeping this package ignorant of the action catalog.
type Rule struct {
	ID         string
	Expr       *ConditionExpr
	ActionSpecs []string
	raw        string
}

// ParseRule parses one line of a rules file: "<condition expr> -> <action1>;<action2>".
func ParseRule(line string) (*Rule, error) {
	pos := strings.Index(line, ruleDelim)
	if pos < 0 {
		return nil, fmt.Errorf("rules: missing %q delimiter in rule %q", ruleDelim, line)
	}
	condPart := strings.TrimSpace(line[:pos])
	actionsPart := strings.TrimSpace(line[pos+len(ruleDelim):])

	expr, err := ParseConditionExpr(condPart)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	var specs []string
	for _, a := range strings.Split(actionsPart, actionDelim) {
		a = strings.TrimSpace(a)
		if a != "" {
			specs = append(specs, a)
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("rules: rule %q has no actions", line)
	}

	sum := md5.Sum([]byte(line))
	return &Rule{
		ID:          hex.EncodeToString(sum[:]),
		Expr:        expr,
		ActionSpecs: specs,
		raw:         line,
	}, nil
}

func (r *Rule) Matches(ev event.Event) bool { return r.Expr.Eval(ev) }

func (r *Rule) String() string { return r.raw }
