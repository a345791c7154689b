// Package named provides a registry that maps opaque resource keys (pointers
// or integer handles widened to uintptr) to stable, human-readable names for
// diagnostics.
//
// Names are auto-suffixed with a per-base counter so that repeated
// registrations of the same conceptual resource stay distinguishable:
// registering "recv" twice yields "recv.0" and "recv.1". The registry is a
// shared facility; lock instrumentation uses it for lock names, but anything
// addressable (sockets, buffers, threads) can be registered.
//
// Naming is diagnostic, never load-bearing: every lookup path degrades to a
// usable fallback instead of failing the caller.
package named

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNameTaken is returned by RegisterFmt when the formatted name is already
// bound to a different key. Hand-built names are expected to be unique;
// colliding ones are almost always a bug at the call site.
var ErrNameTaken = errors.New("named: name already registered for a different key")

// maxSnapshot bounds how many entries a single Snapshot copies. Iteration is
// a diagnostic path; a registry bigger than this is itself a finding.
const maxSnapshot = 4096

// Entry is one registered resource.
type Entry struct {
	Key        uintptr
	Name       string // full generated name, e.g. "recv.3"
	Kind       string // resource kind label, e.g. "mutex", "socket"
	FormatHint string // printf verb for rendering the key, e.g. "0x%x", "fd=%d"
	Site       Site   // where the registration happened
}

// Registry holds named resources. The zero value is not usable; construct
// with New. A nil *Registry is safe to call: registration returns the base
// name unsuffixed and lookups report absence, so callers never have to guard
// against an uninitialized diagnostics layer.
type Registry struct {
	mu       sync.RWMutex
	entries  map[uintptr]*Entry
	byName   map[string]uintptr
	counters map[string]uint64

	bufs sync.Pool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:  make(map[uintptr]*Entry),
		byName:   make(map[string]uintptr),
		counters: make(map[string]uint64),
		bufs: sync.Pool{
			New: func() any { return new(strings.Builder) },
		},
	}
}

// Register binds key to an auto-suffixed name derived from baseName and
// returns the full name. Re-registering a key replaces its entry, consuming a
// fresh counter value. On a nil registry it returns baseName unchanged.
func (r *Registry) Register(key uintptr, baseName, kind, formatHint string, site Site) string {
	if r == nil || baseName == "" {
		return baseName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.counters[baseName]
	r.counters[baseName] = n + 1
	name := fmt.Sprintf("%s.%d", baseName, n)

	r.storeLocked(&Entry{
		Key:        key,
		Name:       name,
		Kind:       kind,
		FormatHint: formatHint,
		Site:       site,
	})
	return name
}

// RegisterFmt binds key to an explicitly formatted name with no auto-suffix.
// It fails with ErrNameTaken when the name already belongs to another key.
func (r *Registry) RegisterFmt(key uintptr, kind, formatHint string, site Site, format string, args ...any) (string, error) {
	if r == nil {
		return "", nil
	}
	name := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byName[name]; ok && owner != key {
		return "", fmt.Errorf("%w: %q (key 0x%x vs 0x%x)", ErrNameTaken, name, owner, key)
	}

	r.storeLocked(&Entry{
		Key:        key,
		Name:       name,
		Kind:       kind,
		FormatHint: formatHint,
		Site:       site,
	})
	return name, nil
}

// Update re-names an existing entry with a fresh auto-suffixed name. Useful
// when a resource gets its real identity after creation (e.g. a client ID
// assigned post-handshake). Returns the new name, or "" if key is absent.
func (r *Registry) Update(key uintptr, newBaseName string) string {
	if r == nil || newBaseName == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return ""
	}

	n := r.counters[newBaseName]
	r.counters[newBaseName] = n + 1
	name := fmt.Sprintf("%s.%d", newBaseName, n)

	delete(r.byName, e.Name)
	e.Name = name
	r.byName[name] = key
	return name
}

// Unregister removes the entry for key. Idempotent.
func (r *Registry) Unregister(key uintptr) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		delete(r.byName, e.Name)
		delete(r.entries, key)
	}
}

// Get returns the registered name for key.
func (r *Registry) Get(key uintptr) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e.Name, true
	}
	return "", false
}

// Kind returns the registered kind label for key, or "".
func (r *Registry) Kind(key uintptr) string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e.Kind
	}
	return ""
}

// FormatHint returns the registered format hint for key, or "".
func (r *Registry) FormatHint(key uintptr) string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[key]; ok {
		return e.FormatHint
	}
	return ""
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Describe renders a one-line descriptor for key:
//
//	"kind/name (0xADDR) @ file:line:func()"
//
// or, when key is unregistered, the degraded form "typeHint (0xADDR)".
// Builders are pooled since this runs on hot diagnostic paths.
func (r *Registry) Describe(key uintptr, typeHint string) string {
	var e Entry
	found := false
	if r != nil {
		r.mu.RLock()
		if p, ok := r.entries[key]; ok {
			e = *p
			found = true
		}
		r.mu.RUnlock()
	}

	var b *strings.Builder
	if r != nil {
		b, _ = r.bufs.Get().(*strings.Builder)
		defer r.bufs.Put(b)
	} else {
		b = new(strings.Builder)
	}
	b.Reset()

	if !found {
		fmt.Fprintf(b, "%s (0x%x)", typeHint, key)
		return b.String()
	}

	hint := e.FormatHint
	if hint == "" {
		hint = "0x%x"
	}
	b.WriteString(e.Kind)
	b.WriteByte('/')
	b.WriteString(e.Name)
	b.WriteString(" (")
	fmt.Fprintf(b, hint, key)
	b.WriteByte(')')
	if e.Site.File != "" {
		fmt.Fprintf(b, " @ %s", e.Site)
	}
	return b.String()
}

// Snapshot copies up to max entries (maxSnapshot if max <= 0) and returns
// them with no registry lock held. This is the only iteration primitive:
// consumers always work on a copy, so their callbacks may re-enter the
// registry, or take other tracked locks, without any ordering hazard.
func (r *Registry) Snapshot(max int) []Entry {
	if r == nil {
		return nil
	}
	if max <= 0 || max > maxSnapshot {
		max = maxSnapshot
	}

	r.mu.RLock()
	out := make([]Entry, 0, min(len(r.entries), max))
	for _, e := range r.entries {
		if len(out) == max {
			break
		}
		out = append(out, *e)
	}
	r.mu.RUnlock()
	return out
}

// ForEach invokes fn for each (key, name) pair of a bounded snapshot. The
// callback runs with no registry lock held.
func (r *Registry) ForEach(fn func(key uintptr, name string)) {
	for _, e := range r.Snapshot(0) {
		fn(e.Key, e.Name)
	}
}

// storeLocked replaces any existing entry for e.Key. Caller holds mu.
func (r *Registry) storeLocked(e *Entry) {
	if old, ok := r.entries[e.Key]; ok {
		delete(r.byName, old.Name)
	}
	r.entries[e.Key] = e
	r.byName[e.Name] = e.Key
}
