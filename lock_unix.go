//go:build !windows

package capturefile

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// posixLockAdapter implements lockAdapter using POSIX advisory byte-range
// locks via fcntl(F_SETLK/F_SETLKW), the same syscall family the teacher's
// own platform mmap split would have reached for on this OS family, here
// repurposed for locking instead of mapping (see SPEC_FULL.md section 4).
type posixLockAdapter struct {
	file   *os.File
	config *Configuration
}

func newLockAdapter(f *os.File, config *Configuration) lockAdapter {
	return &posixLockAdapter{file: f, config: config}
}

// The source implementation does not check the return value of its
// lockf/fcntl call and treats any failure path as AlreadyOpen; we follow
// that resolution of the open question from SPEC_FULL.md section 11 by
// mapping any non-nil error from FcntlFlock to the caller's AlreadyOpen path.
func (pl *posixLockAdapter) tryWriterLock() error {
	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  lockStartPosition,
		Len:    lockSize,
	}
	if err := unix.FcntlFlock(pl.file.Fd(), unix.F_SETLK, &lock); err != nil {
		return errors.Wrap(err, "posix lock: try writer lock")
	}
	return nil
}

func (pl *posixLockAdapter) unlockWriter() error {
	lock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  lockStartPosition,
		Len:    lockSize,
	}
	if err := unix.FcntlFlock(pl.file.Fd(), unix.F_SETLK, &lock); err != nil {
		return errors.Wrap(err, "posix lock: unlock writer")
	}
	return nil
}

func (pl *posixLockAdapter) lockMasterNodes(kind lockKind) error {
	lockType := int16(unix.F_RDLCK)
	if kind == lockExclusive {
		lockType = unix.F_WRLCK
	}
	lock := unix.Flock_t{
		Type:   lockType,
		Whence: int16(os.SEEK_SET),
		Start:  int64(pl.config.PageSize),
		Len:    int64(pl.config.MasterNodeSize) * 2,
	}
	if err := unix.FcntlFlock(pl.file.Fd(), unix.F_SETLKW, &lock); err != nil {
		return errors.Wrap(err, "posix lock: lock master nodes")
	}
	return nil
}

func (pl *posixLockAdapter) unlockMasterNodes() error {
	lock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: int16(os.SEEK_SET),
		Start:  int64(pl.config.PageSize),
		Len:    int64(pl.config.MasterNodeSize) * 2,
	}
	if err := unix.FcntlFlock(pl.file.Fd(), unix.F_SETLK, &lock); err != nil {
		return errors.Wrap(err, "posix lock: unlock master nodes")
	}
	return nil
}
