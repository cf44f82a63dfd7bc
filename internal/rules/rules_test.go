package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/ursprung-go/collection-system/internal/event"
)

func sysEv(syscall string, pid int, rc int) *event.SyscallEvent {
	return &event.SyscallEvent{Syscall: syscall, Pid: pid, RC: rc, EventTime: time.Unix(0, 0)}
}

func TestConditionOperators(t *testing.T) {
	cases := []struct {
		cond string
		val  string
		want bool
	}{
		{"x>5", "6", true},
		{"x>5", "5", false},
		{"x<5", "4", true},
		{"x=5", "5", true},
		{"x=5", "5.0", true},
		{"x@^py.*", "python", true},
		{"x@^py.*", "java", false},
	}
	for _, c := range cases {
		cond, err := newCondition(c.cond)
		if err != nil {
			t.Fatalf("newCondition(%q): %v", c.cond, err)
		}
		if got := cond.Evaluate(c.val); got != c.want {
			t.Errorf("%s evaluate(%q) = %v, want %v", c.cond, c.val, got, c.want)
		}
	}
}

func TestConditionExprPrecedence(t *testing.T) {
	// syscall_name=execve && (pid>100 || pid<0)
	expr, err := ParseConditionExpr(`syscall_name=execve&&(pid>100||pid<0)`)
	if err != nil {
		t.Fatal(err)
	}
	if !expr.Eval(sysEv("execve", 200, 0)) {
		t.Error("expected match for pid=200")
	}
	if expr.Eval(sysEv("execve", 50, 0)) {
		t.Error("expected no match for pid=50")
	}
	if expr.Eval(sysEv("open", 200, 0)) {
		t.Error("expected no match for wrong syscall")
	}
}

func TestConditionExprOrBindsLooserThanAnd(t *testing.T) {
	// a || b && c should parse as a || (b && c)
	expr, err := ParseConditionExpr(`syscall_name=open||syscall_name=execve&&pid>0`)
	if err != nil {
		t.Fatal(err)
	}
	if !expr.Eval(sysEv("open", -5, 0)) {
		t.Error("left side of || alone should satisfy the expression")
	}
}

func TestParseRuleAndID(t *testing.T) {
	line := `syscall_name=execve -> DBLOAD processes;LOGLOAD /var/log/exec.log`
	r, err := ParseRule(line)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.ID) != 32 {
		t.Fatalf("expected a 32-char hex md5 id, got %q", r.ID)
	}
	if len(r.ActionSpecs) != 2 || r.ActionSpecs[0] != "DBLOAD processes" || r.ActionSpecs[1] != "LOGLOAD /var/log/exec.log" {
		t.Fatalf("bad action specs: %v", r.ActionSpecs)
	}
	if !r.Matches(sysEv("execve", 1, 0)) {
		t.Error("expected rule to match an execve event")
	}
}

func TestEngineLoadAndMatch(t *testing.T) {
	rulesFile := `
# a comment
; another comment

syscall_name=execve -> TRACK
syscall_name=connect -> CAPTURESOUT
`
	e := NewEngine()
	if err := e.Load(strings.NewReader(rulesFile)); err != nil {
		t.Fatal(err)
	}
	if len(e.Rules()) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(e.Rules()))
	}
	matches := e.Matching(sysEv("execve", 1, 0))
	if len(matches) != 1 || matches[0].ActionSpecs[0] != "TRACK" {
		t.Fatalf("bad matches: %v", matches)
	}
}

func TestMalformedConditionRejected(t *testing.T) {
	if _, err := ParseConditionExpr("nooperatorhere"); err == nil {
		t.Fatal("expected an error for a condition with no operator")
	}
}
