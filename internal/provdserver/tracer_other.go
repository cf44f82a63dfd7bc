//go:build !(linux && amd64)

package provdserver

import (
	"context"
	"fmt"
	"regexp"
)

// unsupportedTracer reports a clear error instead of silently no-oping
// on platforms/architectures the ptrace implementation doesn't cover;
// CAPTURESOUT rules simply aren't available there.
type unsupportedTracer struct{}

func NewPtraceTracer() Tracer { return unsupportedTracer{} }

func (unsupportedTracer) Start(ctx context.Context, pid int, matchRegex *regexp.Regexp) (<-chan string, error) {
	return nil, fmt.Errorf("provdserver: ptrace tracing is not implemented on this platform")
}

func (unsupportedTracer) Stop(pid int) error { return nil }
