package capturefile

import (
	"sync"

	"github.com/pkg/errors"
)

// writerRegistry is a process-wide set of absolute paths currently open for
// write, guarded by a single mutex. OS-level advisory locks do not always
// exclude a second open within the same process, so this registry double
// checks explicitly -- the same role the teacher's package-level
// sync.Pool/atomic coordination plays for node recycling, here applied to
// writer-exclusivity bookkeeping instead.
type writerRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

var globalWriterRegistry = &writerRegistry{paths: make(map[string]struct{})}

// register adds path to the registry, failing with ErrAlreadyOpen if it is
// already present.
func (wr *writerRegistry) register(path string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	if _, exists := wr.paths[path]; exists {
		return errors.Wrapf(ErrAlreadyOpen, "capture file %q is already open for write in this process", path)
	}
	wr.paths[path] = struct{}{}
	return nil
}

// unregister removes path from the registry. It is a no-op if absent.
func (wr *writerRegistry) unregister(path string) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	delete(wr.paths, path)
}
