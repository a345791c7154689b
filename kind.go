package lockwatch

// Kind identifies which primitive operation a tracked record refers to. Read
// and write sides of an RWMutex are tracked as distinct kinds so a read lock
// release never matches a write lock record.
type Kind uint8

const (
	// KindMutex is an exclusive mutex lock.
	KindMutex Kind = 1
	// KindRead is the shared side of a reader/writer lock.
	KindRead Kind = 2
	// KindWrite is the exclusive side of a reader/writer lock.
	KindWrite Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindMutex:
		return "MUTEX"
	case KindRead:
		return "RWLOCK_READ"
	case KindWrite:
		return "RWLOCK_WRITE"
	default:
		return "UNKNOWN"
	}
}

// LockKey is the identity of a live lock record: one address may carry a
// mutex record, a read record, and a write record simultaneously.
type LockKey struct {
	Addr uintptr
	Kind Kind
}

// stackKey folds the kind into the address's low bits for the lock stack,
// which works on flat uintptr identities. Sync primitives are word-aligned,
// so the low two bits are always free.
func (k LockKey) stackKey() uintptr {
	return k.Addr | uintptr(k.Kind&3)
}
