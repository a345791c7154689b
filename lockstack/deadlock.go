package lockstack

import "fmt"

// DeadlockKind distinguishes the two patterns the scan recognizes.
type DeadlockKind uint8

const (
	// SelfRecursive is a goroutine blocked acquiring a non-recursive lock
	// it already holds.
	SelfRecursive DeadlockKind = iota
	// CircularWait is two goroutines each blocked on a lock the other
	// holds.
	CircularWait
)

func (k DeadlockKind) String() string {
	switch k {
	case SelfRecursive:
		return "self-recursive lock"
	case CircularWait:
		return "circular wait"
	default:
		return "unknown"
	}
}

// Deadlock is one finding from a scan. It is plain data: detection collects,
// the caller reports. For SelfRecursive findings the Other* fields are zero
// and HeldKey equals WaitingKey.
type Deadlock struct {
	Kind DeadlockKind

	// Goroutine is the blocked goroutine the finding was discovered from.
	Goroutine   uint64
	WaitingKey  uintptr
	WaitingName string

	// OtherGoroutine holds WaitingKey and is itself blocked on HeldKey,
	// which Goroutine holds.
	OtherGoroutine uint64
	HeldKey        uintptr
	HeldName       string
}

func (d Deadlock) String() string {
	switch d.Kind {
	case SelfRecursive:
		return fmt.Sprintf(
			"deadlock (%s): goroutine %d re-entering %s (0x%x) it already holds",
			d.Kind, d.Goroutine, d.WaitingName, d.WaitingKey)
	case CircularWait:
		return fmt.Sprintf(
			"deadlock (%s): goroutine %d holds %s (0x%x) and waits for %s (0x%x); "+
				"goroutine %d holds %s (0x%x) and waits for %s (0x%x)",
			d.Kind,
			d.Goroutine, d.HeldName, d.HeldKey, d.WaitingName, d.WaitingKey,
			d.OtherGoroutine, d.WaitingName, d.WaitingKey, d.HeldName, d.HeldKey)
	default:
		return fmt.Sprintf("deadlock (unknown kind %d)", d.Kind)
	}
}

// DetectDeadlocks snapshots every goroutine's stack and scans for
// same-goroutine recursive locks and two-goroutine circular waits. It only
// collects; it never aborts, resolves, or logs. The scan is deliberately
// limited to cycles of length two; longer chains surface indirectly once any
// two members of the chain block on each other.
func (r *Registry) DetectDeadlocks() []Deadlock {
	snaps := r.SnapshotAll()
	if len(snaps) == 0 {
		return nil
	}

	var found []Deadlock
	reported := make(map[[2]uint64]struct{})

	for i := range snaps {
		a := &snaps[i]
		waiting, ok := waitingFor(a.Entries)
		if !ok {
			continue
		}

		if holds(a.Entries, waiting.Key) {
			found = append(found, Deadlock{
				Kind:        SelfRecursive,
				Goroutine:   a.GoroutineID,
				WaitingKey:  waiting.Key,
				WaitingName: waiting.Name,
				HeldKey:     waiting.Key,
				HeldName:    waiting.Name,
			})
			continue
		}

		for j := range snaps {
			if i == j {
				continue
			}
			b := &snaps[j]
			if !holds(b.Entries, waiting.Key) {
				continue
			}
			bWaiting, ok := waitingFor(b.Entries)
			if !ok {
				continue
			}
			if !holds(a.Entries, bWaiting.Key) {
				continue
			}

			// Each cycle is discoverable from both ends; report it once.
			pair := orderedPair(a.GoroutineID, b.GoroutineID)
			if _, seen := reported[pair]; seen {
				continue
			}
			reported[pair] = struct{}{}

			found = append(found, Deadlock{
				Kind:           CircularWait,
				Goroutine:      a.GoroutineID,
				WaitingKey:     waiting.Key,
				WaitingName:    waiting.Name,
				OtherGoroutine: b.GoroutineID,
				HeldKey:        bWaiting.Key,
				HeldName:       bWaiting.Name,
			})
		}
	}
	return found
}

// waitingFor returns the lock a goroutine is blocked on: the top entry, and
// only if pending.
func waitingFor(entries []Entry) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	top := entries[len(entries)-1]
	if top.State != Pending {
		return Entry{}, false
	}
	return top, true
}

// holds reports whether key appears as Locked anywhere in the stack.
func holds(entries []Entry, key uintptr) bool {
	for _, e := range entries {
		if e.Key == key && e.State == Locked {
			return true
		}
	}
	return false
}

func orderedPair(a, b uint64) [2]uint64 {
	if a < b {
		return [2]uint64{a, b}
	}
	return [2]uint64{b, a}
}
