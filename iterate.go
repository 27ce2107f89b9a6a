package capturefile

import "github.com/pkg/errors"

// recordIterator builds a RecordIterator starting at the 1-based record
// number start, snapshotting the rightmost path so later appends on cf
// don't affect records already in flight.
func (cf *CaptureFile) recordIterator(start uint64) (*RecordIterator, error) {
	if start < 1 {
		return nil, errors.Wrapf(ErrOutOfRange, "record number %d out of range", start)
	}

	path := cf.currentMaster.RightmostPath.Clone()
	height := path.NumberOfLevels()
	power := pow(cf.config.FanOut, height)

	it := &RecordIterator{
		cf:      cf,
		records: make(chan recordOrErr, 64),
		cancel:  make(chan struct{}),
	}

	go it.walk(start-1, path, height, power)

	return it, nil
}

// pow computes base**exp as a uint64, with pow(base, 0) == 1.
func pow(base uint32, exp int) uint64 {
	result := uint64(1)
	for i := 0; i < exp; i++ {
		result *= uint64(base)
	}
	return result
}

// walk is the top-level generator goroutine body. height == 0 means the
// tree is empty (a freshly created file with no committed records yet);
// unlike walking off the end of an empty rightmost-node slice, this returns
// immediately with no records instead of failing.
func (it *RecordIterator) walk(indexRemaining uint64, path *RightmostPath, height int, power uint64) {
	defer close(it.records)
	if height == 0 {
		return
	}
	it.walkLevel(indexRemaining, path, height, power)
}

// walkLevel mirrors the original implementation's record_generator: it
// descends the rightmost spine level by level, emitting leaves directly at
// height 1 and recursing into persisted perfect subtrees at every other
// level, then continues to the next (shallower) rightmost level once the
// current one is exhausted.
func (it *RecordIterator) walkLevel(indexRemaining uint64, path *RightmostPath, height int, power uint64) bool {
	node := path.RightmostNodeAt(height)
	power /= uint64(it.cf.config.FanOut)

	startingChildIndex := indexRemaining / power
	indexRemaining %= power

	children := node.Children()
	for childIndex := int(startingChildIndex); childIndex < len(children); childIndex++ {
		child := children[childIndex]
		if height == 1 {
			if !it.emit(child) {
				return false
			}
		} else {
			if !it.walkSubtree(indexRemaining, child, height-1, power) {
				return false
			}
		}
		indexRemaining = 0
	}

	if height > 1 {
		return it.walkLevel(indexRemaining, path, height-1, power)
	}
	return true
}

// walkSubtree mirrors the original implementation's
// record_generator_for_perfect_subtree: it walks a fully persisted subtree
// rooted at startingNode, whose interior nodes are immutable and therefore
// safe to read through the shared block/full-node caches.
func (it *RecordIterator) walkSubtree(indexRemaining uint64, startingNode DataCoordinates, height int, power uint64) bool {
	power /= uint64(it.cf.config.FanOut)

	startingChildIndex := indexRemaining / power
	indexRemaining %= power

	children, err := it.cf.fullNode(startingNode)
	if err != nil {
		it.sendErr(err)
		return false
	}

	for childIndex := int(startingChildIndex); childIndex < len(children); childIndex++ {
		child := children[childIndex]
		if height == 1 {
			if !it.emit(child) {
				return false
			}
		} else {
			if !it.walkSubtree(indexRemaining, child, height-1, power) {
				return false
			}
		}
		indexRemaining = 0
	}
	return true
}

func (it *RecordIterator) emit(coord DataCoordinates) bool {
	data, err := it.cf.sizedDataBlock(coord)
	if err != nil {
		it.sendErr(err)
		return false
	}
	select {
	case it.records <- recordOrErr{data: data}:
		return true
	case <-it.cancel:
		return false
	}
}

func (it *RecordIterator) sendErr(err error) {
	select {
	case it.records <- recordOrErr{err: err}:
	case <-it.cancel:
	}
}

// Next advances the iterator and reports whether a record is available.
func (it *RecordIterator) Next() bool {
	if it.done {
		return false
	}
	r, ok := <-it.records
	if !ok {
		it.done = true
		return false
	}
	if r.err != nil {
		it.err = r.err
		it.done = true
		return false
	}
	it.current = r.data
	return true
}

// Record returns the record most recently produced by Next.
func (it *RecordIterator) Record() []byte {
	return it.current
}

// Err returns the first error encountered during iteration, if any.
func (it *RecordIterator) Err() error {
	return it.err
}

// Close stops the background walk early. It is safe to call multiple
// times and safe to skip if the iterator was drained to completion.
func (it *RecordIterator) Close() {
	it.closeOnce.Do(func() {
		close(it.cancel)
	})
	it.done = true
}
