// Package stacktrace captures and symbolizes call stacks for lock records.
//
// Capture grabs raw program counters only; symbolization is deferred until a
// trace is actually rendered into a report, keeping the acquire path cheap.
// Frames belonging to the runtime, the testing harness, and this module's own
// instrumentation are filtered out so reports show application code.
package stacktrace

import (
	"fmt"
	"runtime"
	"strings"
)

// MaxFrames bounds captured stacks. Lock bugs are visible in the top frames;
// deeper capture only slows the acquire path down.
const MaxFrames = 16

// Trace is a captured stack: raw program counters, symbolized on demand.
type Trace []uintptr

// Capture records up to MaxFrames program counters, skipping the given number
// of frames plus Capture itself.
func Capture(skip int) Trace {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return nil
	}
	t := make(Trace, n)
	copy(t, pcs[:n])
	return t
}

// Frames symbolizes the trace into "function (file:line)" strings, filtering
// runtime and instrumentation noise.
func (t Trace) Frames() []string {
	if len(t) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(t)
	out := make([]string, 0, len(t))
	for {
		frame, more := frames.Next()
		if includeFrame(frame.Function, frame.File) {
			out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}

// String renders one frame per line, indented for embedding in reports.
func (t Trace) String() string {
	fs := t.Frames()
	if len(fs) == 0 {
		return "    <stack unavailable>"
	}
	var b strings.Builder
	for i, f := range fs {
		fmt.Fprintf(&b, "    %2d: %s", i, f)
		if i < len(fs)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// includeFrame filters out stack noise. Test files are kept even though they
// live under the module path, so tests can assert on their own frames.
func includeFrame(function, file string) bool {
	if strings.HasSuffix(file, "_test.go") {
		return true
	}
	if strings.HasPrefix(function, "runtime.") || strings.HasPrefix(function, "testing.") {
		return false
	}
	if strings.Contains(file, "github.com/lockwatch/lockwatch") {
		return false
	}
	return true
}
