package rules

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ursprung-go/collection-system/internal/event"
)

// Engine holds every configured rule and finds which ones match an
// incoming event. It does not execute actions itself; callers pair it
// with an action dispatcher (internal/actions).
type Engine struct {
	rules []*Rule
}

func NewEngine() *Engine { return &Engine{} }

// LoadFile reads a rules file, skipping blank lines and lines beginning
// with '#' or ';'.
func (e *Engine) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return e.Load(f)
}

func (e *Engine) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}
		rule, err := ParseRule(line)
		if err != nil {
			return fmt.Errorf("rules: line %d: %w", lineNo, err)
		}
		e.rules = append(e.rules, rule)
	}
	return sc.Err()
}

func (e *Engine) AddRule(line string) error {
	rule, err := ParseRule(line)
	if err != nil {
		return err
	}
	e.rules = append(e.rules, rule)
	return nil
}

func (e *Engine) HasRules() bool { return len(e.rules) > 0 }

// Matching returns every rule whose condition expression evaluates true
// against ev, in configuration order.
func (e *Engine) Matching(ev event.Event) []*Rule {
	var out []*Rule
	for _, r := range e.rules {
		if r.Matches(ev) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) Rules() []*Rule { return e.rules }
