package capturefile

import "github.com/pkg/errors"

// Error taxonomy for capture file operations. Callers should match against
// these with errors.Is; every returned error is wrapped with pkg/errors
// context (operation, path, or offset) via errors.Wrap/Wrapf.
var (
	// ErrAlreadyOpen indicates a writer lock, in-process or OS-level, is
	// already held for this path.
	ErrAlreadyOpen = errors.New("capture file already open for write")
	// ErrNotOpen indicates an operation was issued on a closed handle.
	ErrNotOpen = errors.New("capture file is not open")
	// ErrNotOpenForWrite indicates a mutating operation was issued on a
	// handle opened for read.
	ErrNotOpenForWrite = errors.New("capture file is not open for write")
	// ErrInvalid indicates a header mismatch, unsupported version, dual
	// master-node corruption, or non-consecutive serials after retries.
	ErrInvalid = errors.New("invalid capture file")
	// ErrOutOfRange indicates a record number outside [1, RecordCount()].
	ErrOutOfRange = errors.New("record number out of range")
)
