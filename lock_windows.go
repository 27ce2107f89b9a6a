//go:build windows

package capturefile

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// windowsLockAdapter implements lockAdapter using Windows mandatory
// byte-range locks via LockFileEx/UnlockFileEx.
type windowsLockAdapter struct {
	file   *os.File
	config *Configuration
}

func newLockAdapter(f *os.File, config *Configuration) lockAdapter {
	return &windowsLockAdapter{file: f, config: config}
}

func lockFileEx(handle windows.Handle, flags uint32, offset, length int64) error {
	overlapped := new(windows.Overlapped)
	overlapped.Offset = uint32(offset)
	overlapped.OffsetHigh = uint32(offset >> 32)

	lengthLow := uint32(length)
	lengthHigh := uint32(length >> 32)

	return windows.LockFileEx(handle, flags, 0, lengthLow, lengthHigh, overlapped)
}

func unlockFileEx(handle windows.Handle, offset, length int64) error {
	overlapped := new(windows.Overlapped)
	overlapped.Offset = uint32(offset)
	overlapped.OffsetHigh = uint32(offset >> 32)

	lengthLow := uint32(length)
	lengthHigh := uint32(length >> 32)

	return windows.UnlockFileEx(handle, 0, lengthLow, lengthHigh, overlapped)
}

func (wl *windowsLockAdapter) tryWriterLock() error {
	handle := windows.Handle(wl.file.Fd())
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := lockFileEx(handle, flags, lockStartPosition, lockSize); err != nil {
		return errors.Wrap(err, "windows lock: try writer lock")
	}
	return nil
}

func (wl *windowsLockAdapter) unlockWriter() error {
	handle := windows.Handle(wl.file.Fd())
	if err := unlockFileEx(handle, lockStartPosition, lockSize); err != nil {
		return errors.Wrap(err, "windows lock: unlock writer")
	}
	return nil
}

func (wl *windowsLockAdapter) lockMasterNodes(kind lockKind) error {
	handle := windows.Handle(wl.file.Fd())
	var flags uint32
	if kind == lockExclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	start := int64(wl.config.PageSize)
	length := int64(wl.config.MasterNodeSize) * 2
	if err := lockFileEx(handle, flags, start, length); err != nil {
		return errors.Wrap(err, "windows lock: lock master nodes")
	}
	return nil
}

func (wl *windowsLockAdapter) unlockMasterNodes() error {
	handle := windows.Handle(wl.file.Fd())
	start := int64(wl.config.PageSize)
	length := int64(wl.config.MasterNodeSize) * 2
	if err := unlockFileEx(handle, start, length); err != nil {
		return errors.Wrap(err, "windows lock: unlock master nodes")
	}
	return nil
}
