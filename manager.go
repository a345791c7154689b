package lockwatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/lockwatch/lockwatch/internal/goid"
	"github.com/lockwatch/lockwatch/internal/stacktrace"
	"github.com/lockwatch/lockwatch/lockstack"
	"github.com/lockwatch/lockwatch/named"
)

// Manager lifecycle states. Tracking operations are live only in
// stateInitialized; everywhere else they fall through to the real primitive.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateInitialized
	stateShutdown
)

// LockRecord is one live tracked acquisition, held in the manager's index
// from acquire to release.
type LockRecord struct {
	Key        LockKey
	Goroutine  uint64
	AcquiredAt time.Time
	Site       named.Site
	Stack      stacktrace.Trace
}

// OrphanRecord is a release that arrived with no matching record while the
// held counter said records should exist. Orphans are never matched back;
// they are kept only for forensic listing.
type OrphanRecord struct {
	Key        LockKey
	Goroutine  uint64
	ReleasedAt time.Time
	Site       named.Site
	Stack      stacktrace.Trace
}

// usageStats accumulates hold-time statistics per acquisition call site.
type usageStats struct {
	kind  Kind
	count uint64
	total time.Duration
	min   time.Duration
	max   time.Duration
	first time.Time
	last  time.Time
}

// reentryGuard prevents the tracker from tracking itself. A goroutine that
// is already inside a tracking operation must not start another one: the
// inner operation (logging, stack capture, registry access) could touch a
// tracked lock and recurse forever.
type reentryGuard struct {
	mu     sync.Mutex
	active map[uint64]struct{}
}

// enter marks the calling goroutine as inside the tracker. The returned
// release func must run on every exit path; ok is false when the goroutine
// is already inside.
func (g *reentryGuard) enter() (release func(), ok bool) {
	gid := goid.Current()
	g.mu.Lock()
	if _, busy := g.active[gid]; busy {
		g.mu.Unlock()
		return nil, false
	}
	g.active[gid] = struct{}{}
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.active, gid)
		g.mu.Unlock()
	}, true
}

// Manager is the lock debug engine: it owns the live-lock index, the
// orphaned-release list, per-site usage statistics, the per-goroutine lock
// stacks, and the background monitor. All tracking entry points are safe to
// call on a Manager in any lifecycle state.
type Manager struct {
	cfg   config
	log   zerolog.Logger
	clock clockwork.Clock

	state atomic.Int32

	named  *named.Registry
	stacks *lockstack.Registry
	guard  reentryGuard
	warned limiter

	acquired atomic.Uint64
	released atomic.Uint64
	held     atomic.Int64

	mu      sync.RWMutex
	records map[LockKey]*LockRecord

	orphanMu sync.RWMutex
	orphans  []OrphanRecord

	statsMu sync.RWMutex
	stats   map[named.Site]*usageStats

	monitorMu   sync.Mutex
	monitorStop func()
	monitorDone chan struct{}
	trigger     chan struct{}
}

// New constructs a Manager from options. The manager starts uninitialized;
// call Init before tracking does anything.
func New(opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		cfg:    cfg,
		log:    cfg.logger,
		clock:  cfg.clock,
		named:  named.New(),
		stacks: lockstack.NewRegistry(cfg.clock),
		guard:  reentryGuard{active: make(map[uint64]struct{})},
	}
}

// Init transitions the manager to the initialized state. Idempotent while
// live; returns ErrShutdown after Shutdown — a manager is single-use.
func (m *Manager) Init() error {
	if !m.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		switch m.state.Load() {
		case stateInitialized, stateInitializing:
			return nil
		default:
			return ErrShutdown
		}
	}

	m.mu.Lock()
	m.records = make(map[LockKey]*LockRecord)
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats = make(map[named.Site]*usageStats)
	m.statsMu.Unlock()

	m.trigger = make(chan struct{}, 1)

	// Initializing clears before initialized is set, so no tracking call
	// can observe a half-built manager as live.
	m.state.Store(stateInitialized)
	m.log.Debug().Msg("lockwatch: initialized")
	return nil
}

// Shutdown stops the monitor and releases all tracked state. Exactly one
// caller performs cleanup even when Shutdown races with itself (explicit
// call plus process-exit hook).
func (m *Manager) Shutdown() {
	prev := m.state.Swap(stateShutdown)
	if prev == stateShutdown {
		return
	}

	m.StopMonitor()

	m.mu.Lock()
	dropped := len(m.records)
	m.records = nil
	m.mu.Unlock()

	m.orphanMu.Lock()
	orphans := len(m.orphans)
	m.orphans = nil
	m.orphanMu.Unlock()

	m.statsMu.Lock()
	m.stats = nil
	m.statsMu.Unlock()

	m.stacks.Reset()
	m.warned.reset()

	evt := m.log.Debug()
	if dropped > 0 || orphans > 0 {
		evt = m.log.Info().Int("live_records", dropped).Int("orphans", orphans)
	}
	evt.Msg("lockwatch: shut down")
}

// Initialized reports whether tracking is live.
func (m *Manager) Initialized() bool {
	return m != nil && m.state.Load() == stateInitialized
}

// Named exposes the manager's resource-name registry. It is a shared
// facility; other subsystems may register their own resources (sockets,
// buffers) on it so lock reports and their logs share one namespace.
func (m *Manager) Named() *named.Registry {
	if m == nil {
		return nil
	}
	return m.named
}

// Counters returns the historical acquire/release counters and the current
// held count. The values are individually atomic but not mutually
// consistent under concurrent activity.
func (m *Manager) Counters() (acquired, released uint64, held int64) {
	if m == nil {
		return 0, 0, 0
	}
	return m.acquired.Load(), m.released.Load(), m.held.Load()
}

// DetectDeadlocks runs one on-demand cycle scan and returns the findings
// without logging them.
func (m *Manager) DetectDeadlocks() []lockstack.Deadlock {
	if !m.Initialized() {
		return nil
	}
	return m.stacks.DetectDeadlocks()
}

// decrementHeld subtracts one from the held counter unless it is already
// zero. Tracking inconsistencies must never drive the counter negative.
func (m *Manager) decrementHeld() {
	for {
		cur := m.held.Load()
		if cur <= 0 {
			return
		}
		if m.held.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// recordUsage folds one completed hold into the per-site statistics.
func (m *Manager) recordUsage(site named.Site, kind Kind, held time.Duration, at time.Time) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	if m.stats == nil {
		return
	}
	s, ok := m.stats[site]
	if !ok {
		s = &usageStats{kind: kind, min: held, first: at}
		m.stats[site] = s
	}
	s.count++
	s.total += held
	if held < s.min {
		s.min = held
	}
	if held > s.max {
		s.max = held
	}
	s.last = at
}

// ----------------------------------------------------------------------------
// Process-wide default manager
// ----------------------------------------------------------------------------

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Init initializes the process-wide default manager, creating it on first
// use. Repeat calls while live are no-ops (options ignored).
func Init(opts ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil && defaultManager.Initialized() {
		return nil
	}
	m := New(opts...)
	if err := m.Init(); err != nil {
		return err
	}
	defaultManager = m
	return nil
}

// Shutdown shuts down and discards the default manager. A later Init builds
// a fresh one.
func Shutdown() {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		defaultManager.Shutdown()
		defaultManager = nil
	}
}

// Default returns the process-wide manager, or nil before Init. All
// package-level wrappers degrade to plain sync primitives on a nil manager.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}
