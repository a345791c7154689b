// Package lockstack tracks, per goroutine, the ordered set of locks that
// goroutine is holding or waiting on. The stacks feed deadlock analysis: a
// goroutine whose top entry is pending while another goroutine holds that
// lock (and waits on something the first holds) is a circular wait.
//
// Entries are keyed by an opaque lock identity the caller composes from the
// lock's address and kind, so a read lock and a write lock on the same
// RWMutex are distinct entries.
package lockstack

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lockwatch/lockwatch/internal/goid"
)

// MaxDepth is the per-goroutine stack capacity. Beyond it, pushes degrade
// silently: tracking loses depth, the application loses nothing.
const MaxDepth = 64

// State of a stack entry.
type State uint8

const (
	// Pending means the goroutine has asked for the lock but not yet
	// acquired it. Only the top of a stack may be pending.
	Pending State = iota
	// Locked means the acquisition succeeded and the lock is held.
	Locked
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// Entry is one lock a goroutine is holding or waiting on.
type Entry struct {
	Key   uintptr
	Name  string
	State State
	Since time.Time
}

// GoroutineStack is a copied view of one goroutine's stack.
type GoroutineStack struct {
	GoroutineID uint64
	Entries     []Entry
}

// stack is the fixed-capacity per-goroutine record. The mutex is effectively
// uncontended: the owning goroutine takes it for O(1) push/pop, and the
// snapshot path takes it only long enough to copy the array.
type stack struct {
	mu      sync.Mutex
	entries [MaxDepth]Entry
	depth   int
}

// Registry holds the stacks of every goroutine that has taken a tracked
// lock. Stacks are created lazily and cleared only in bulk via Reset.
type Registry struct {
	clock clockwork.Clock

	mu     sync.Mutex
	stacks map[uint64]*stack
}

// NewRegistry creates an empty registry. A nil clock selects the real clock.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:  clock,
		stacks: make(map[uint64]*stack),
	}
}

// forCurrent returns the calling goroutine's stack, creating it on first use.
// The registry lock covers only the map access.
func (r *Registry) forCurrent() *stack {
	gid := goid.Current()
	r.mu.Lock()
	s, ok := r.stacks[gid]
	if !ok {
		s = &stack{}
		r.stacks[gid] = s
	}
	r.mu.Unlock()
	return s
}

// PushPending appends a pending entry for key. At capacity it does nothing;
// diagnostic degradation, not an error.
func (r *Registry) PushPending(key uintptr, name string) {
	s := r.forCurrent()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth >= MaxDepth {
		return
	}
	s.entries[s.depth] = Entry{
		Key:   key,
		Name:  name,
		State: Pending,
		Since: r.clock.Now(),
	}
	s.depth++
}

// MarkLocked promotes the top entry to Locked if it matches key, refreshing
// its timestamp to the acquisition time.
func (r *Registry) MarkLocked(key uintptr) {
	s := r.forCurrent()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		return
	}
	top := &s.entries[s.depth-1]
	if top.Key == key {
		top.State = Locked
		top.Since = r.clock.Now()
	}
}

// Pop removes the top entry if it matches key.
func (r *Registry) Pop(key uintptr) {
	s := r.forCurrent()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		return
	}
	if s.entries[s.depth-1].Key == key {
		s.depth--
	}
}

// SnapshotCurrent copies up to max entries of the calling goroutine's stack
// and returns the true depth, which may exceed len of the returned slice
// when truncated.
func (r *Registry) SnapshotCurrent(max int) ([]Entry, int) {
	s := r.forCurrent()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.depth
	if n > max {
		n = max
	}
	out := make([]Entry, n)
	copy(out, s.entries[:n])
	return out, s.depth
}

// SnapshotAll copies every goroutine's stack. The registry lock is held only
// to collect the table; each stack is then copied under its own brief lock.
// Analysis always runs on the returned copy with nothing held.
func (r *Registry) SnapshotAll() []GoroutineStack {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.stacks))
	refs := make([]*stack, 0, len(r.stacks))
	for gid, s := range r.stacks {
		ids = append(ids, gid)
		refs = append(refs, s)
	}
	r.mu.Unlock()

	out := make([]GoroutineStack, 0, len(refs))
	for i, s := range refs {
		s.mu.Lock()
		entries := make([]Entry, s.depth)
		copy(entries, s.entries[:s.depth])
		s.mu.Unlock()

		if len(entries) == 0 {
			continue
		}
		out = append(out, GoroutineStack{GoroutineID: ids[i], Entries: entries})
	}
	return out
}

// Reset drops all stacks. Used at manager shutdown; individual stacks are
// never removed while the registry is live.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.stacks = make(map[uint64]*stack)
	r.mu.Unlock()
}
