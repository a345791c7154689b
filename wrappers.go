package lockwatch

import (
	"sync"
	"unsafe"

	"github.com/lockwatch/lockwatch/named"
)

// Mutex is a drop-in replacement for sync.Mutex that reports its
// acquisitions and releases to a Manager. The zero value works but is
// untracked; use NewMutex (or Manager.NewMutex) to get a named, tracked
// instance.
type Mutex struct {
	mu  sync.Mutex
	mgr *Manager
}

// NewMutex creates a tracked mutex registered under baseName with the
// default manager.
func NewMutex(baseName string) *Mutex {
	return Default().NewMutex(baseName)
}

// NewMutex creates a tracked mutex registered under baseName.
func (m *Manager) NewMutex(baseName string) *Mutex {
	l := &Mutex{mgr: m}
	if m != nil {
		m.Named().Register(uintptr(unsafe.Pointer(l)), baseName, "mutex", "0x%x", named.CallerSite(1))
	}
	return l
}

// Name returns the registered name, or "" when untracked.
func (l *Mutex) Name() string {
	if l.mgr == nil {
		return ""
	}
	name, _ := l.mgr.Named().Get(uintptr(unsafe.Pointer(l)))
	return name
}

// Lock acquires the mutex, reporting the pending state before blocking and
// the acquisition after.
func (l *Mutex) Lock() {
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindMutex, site)
	l.mu.Lock()
	l.mgr.TrackLockAcquired(addr, KindMutex, site)
}

// TryLock attempts the acquisition without blocking. Only a successful
// attempt is tracked; there is no pending state to report.
func (l *Mutex) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindMutex, site)
	l.mgr.TrackLockAcquired(addr, KindMutex, site)
	return true
}

// Unlock releases the mutex. Tracking runs first so hold-time accounting
// ends at the release point; the real unlock happens unconditionally.
func (l *Mutex) Unlock() {
	addr := uintptr(unsafe.Pointer(l))
	l.mgr.TrackUnlock(addr, KindMutex, named.CallerSite(1))
	l.mu.Unlock()
}

// Close unregisters the mutex name. The mutex stays usable, just unnamed.
func (l *Mutex) Close() {
	if l.mgr != nil {
		l.mgr.Named().Unregister(uintptr(unsafe.Pointer(l)))
	}
}

// RWMutex is a drop-in replacement for sync.RWMutex that reports to a
// Manager. Read and write acquisitions are tracked as distinct lock kinds,
// so a reader blocked on a writer (or vice versa) is visible to the
// deadlock scan.
type RWMutex struct {
	mu  sync.RWMutex
	mgr *Manager
}

// NewRWMutex creates a tracked RWMutex registered under baseName with the
// default manager.
func NewRWMutex(baseName string) *RWMutex {
	return Default().NewRWMutex(baseName)
}

// NewRWMutex creates a tracked RWMutex registered under baseName.
func (m *Manager) NewRWMutex(baseName string) *RWMutex {
	l := &RWMutex{mgr: m}
	if m != nil {
		m.Named().Register(uintptr(unsafe.Pointer(l)), baseName, "rwlock", "0x%x", named.CallerSite(1))
	}
	return l
}

// Name returns the registered name, or "" when untracked.
func (l *RWMutex) Name() string {
	if l.mgr == nil {
		return ""
	}
	name, _ := l.mgr.Named().Get(uintptr(unsafe.Pointer(l)))
	return name
}

// Lock acquires the write lock.
func (l *RWMutex) Lock() {
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindWrite, site)
	l.mu.Lock()
	l.mgr.TrackLockAcquired(addr, KindWrite, site)
}

// TryLock attempts the write lock without blocking.
func (l *RWMutex) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindWrite, site)
	l.mgr.TrackLockAcquired(addr, KindWrite, site)
	return true
}

// Unlock releases the write lock.
func (l *RWMutex) Unlock() {
	addr := uintptr(unsafe.Pointer(l))
	l.mgr.TrackUnlock(addr, KindWrite, named.CallerSite(1))
	l.mu.Unlock()
}

// RLock acquires the read lock.
func (l *RWMutex) RLock() {
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindRead, site)
	l.mu.RLock()
	l.mgr.TrackLockAcquired(addr, KindRead, site)
}

// TryRLock attempts the read lock without blocking.
func (l *RWMutex) TryRLock() bool {
	if !l.mu.TryRLock() {
		return false
	}
	addr := uintptr(unsafe.Pointer(l))
	site := named.CallerSite(1)
	l.mgr.TrackLockPending(addr, KindRead, site)
	l.mgr.TrackLockAcquired(addr, KindRead, site)
	return true
}

// RUnlock releases the read lock.
func (l *RWMutex) RUnlock() {
	addr := uintptr(unsafe.Pointer(l))
	l.mgr.TrackUnlock(addr, KindRead, named.CallerSite(1))
	l.mu.RUnlock()
}

// Close unregisters the RWMutex name.
func (l *RWMutex) Close() {
	if l.mgr != nil {
		l.mgr.Named().Unregister(uintptr(unsafe.Pointer(l)))
	}
}
