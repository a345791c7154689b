package named

import (
	"fmt"
	"runtime"
	"strings"
)

// Site identifies a source location: where a resource was registered, or
// where a lock operation happened.
type Site struct {
	File     string
	Line     int
	Function string
}

// CallerSite captures the caller's source location. skip counts additional
// stack frames above the caller of CallerSite itself (0 = direct caller).
func CallerSite(skip int) Site {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Site{}
	}
	s := Site{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		s.Function = shortFuncName(fn.Name())
	}
	return s
}

// IsZero reports whether the site carries no location.
func (s Site) IsZero() bool {
	return s.File == "" && s.Line == 0 && s.Function == ""
}

// String renders "file:line:func()".
func (s Site) String() string {
	if s.IsZero() {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%s()", s.File, s.Line, s.Function)
}

// shortFuncName drops the package path prefix, keeping "pkg.Func" or
// "pkg.(*Type).Method".
func shortFuncName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		return full[i+1:]
	}
	return full
}
