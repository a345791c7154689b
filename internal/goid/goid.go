// Package goid extracts a stable identifier for the current goroutine.
//
// Go deliberately hides goroutine IDs, but diagnostics that attribute lock
// ownership to a goroutine need one. The ID is parsed out of the first line
// of the goroutine's stack header ("goroutine 42 [running]:"). The parse is
// cheap and the buffers are pooled, so callers can use this on hot paths.
package goid

import (
	"bytes"
	"runtime"
	"sync"
)

// Pool of small buffers for the single-line stack capture. Pointer to slice
// avoids an allocation per Put.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

var header = []byte("goroutine ")

// Current returns the runtime ID of the calling goroutine. Returns 0 only if
// the stack header cannot be parsed, which does not happen on any supported
// runtime.
func Current() uint64 {
	bp, _ := bufPool.Get().(*[]byte)
	buf := *bp
	defer bufPool.Put(bp)

	n := runtime.Stack(buf, false)
	return parseHeader(buf[:n])
}

func parseHeader(b []byte) uint64 {
	if !bytes.HasPrefix(b, header) {
		return 0
	}
	b = b[len(header):]
	var id uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
