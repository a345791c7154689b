/*
Package lockwatch instruments lock usage at runtime: every tracked
acquisition and release is recorded with its goroutine, call site, and
backtrace, so that long holds, deadlocks, and unbalanced unlock calls
surface in logs instead of in a hung process.

The entry points are the Mutex and RWMutex wrappers, drop-in replacements
for their sync counterparts:

	lockwatch.Init()
	defer lockwatch.Shutdown()

	mu := lockwatch.NewMutex("state")
	mu.Lock()
	// ... critical section ...
	mu.Unlock()

A Manager owns all tracking state: an index of live acquisitions keyed by
(address, kind), per-goroutine lock stacks that feed the deadlock scan,
hold-time statistics per call site, and a forensic list of orphaned
releases (unlocks that arrived with no matching acquisition record). The
package-level functions operate on a process-wide default manager; tests
and embedders can run private managers side by side with New.

An optional background monitor (StartMonitor) periodically warns about
locks held past a threshold and reports two-goroutine deadlocks: a
goroutine blocked on a lock it already holds, or two goroutines each
blocked on a lock the other holds. TriggerReport makes the monitor emit a
full state report out of band.

Tracking is diagnostic, never load-bearing. Before Init, after Shutdown,
and on a nil manager the wrappers degrade to plain sync primitives; no
tracking failure can block or break the lock itself. Reporting follows a
strict two-phase discipline: state is copied under internal locks and all
logging happens after they are released, so the instrumentation cannot
deadlock with the locks it instruments.
*/
package lockwatch
