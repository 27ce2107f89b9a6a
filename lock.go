package capturefile

// lockKind distinguishes a shared (reader) master-node lock from an
// exclusive (writer) one.
type lockKind int

const (
	lockShared lockKind = iota
	lockExclusive
)

// lockAdapter is the small capability a platform-specific implementation
// must provide: exclusive, non-blocking acquisition of the writer-exclusion
// range, and blocking shared/exclusive acquisition of the master-node range.
// There are two implementations, POSIX advisory byte-range locks and
// Windows mandatory byte-range locks, selected at compile time by the
// //go:build constraints of lock_unix.go / lock_windows.go.
type lockAdapter interface {
	// tryWriterLock attempts to acquire the single-byte writer-exclusion
	// lock without blocking. Any failure is treated as the lock being held
	// elsewhere.
	tryWriterLock() error
	// unlockWriter releases the writer-exclusion lock.
	unlockWriter() error
	// lockMasterNodes blocks until the master-node byte range is acquired,
	// shared or exclusive depending on kind.
	lockMasterNodes(kind lockKind) error
	// unlockMasterNodes releases the master-node byte range.
	unlockMasterNodes() error
}
