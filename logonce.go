package lockwatch

import (
	"fmt"
	"sync"
)

// limiter deduplicates diagnostic events for the process lifetime. Warnings
// that would otherwise repeat every monitor cycle (the same long-held lock,
// the same deadlock pair) are emitted once per distinct key.
type limiter struct {
	seen sync.Map
}

// first reports whether key is being seen for the first time.
func (l *limiter) first(key string) bool {
	_, loaded := l.seen.LoadOrStore(key, struct{}{})
	return !loaded
}

// firstf formats a key and reports whether it is new.
func (l *limiter) firstf(format string, args ...any) bool {
	return l.first(fmt.Sprintf(format, args...))
}

// reset clears all tracked keys. Used at shutdown so a re-initialized
// process-wide default manager starts clean, and by tests.
func (l *limiter) reset() {
	l.seen = sync.Map{}
}
