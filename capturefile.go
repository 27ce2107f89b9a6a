package capturefile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Open creates-or-opens the capture file named by opts.FilePath.
//
// If the file does not already exist and it is opened for write, or if
// opts.ForceNewEmptyFile is set, a new file is created first and its
// initial metadata is set to opts.InitialMetadata.
//
// Only one handle, within or across processes, can hold opts.ToWrite at a
// time for a given path; a second attempt returns ErrAlreadyOpen. Any
// number of read handles may coexist with each other and with one write
// handle.
func Open(opts CaptureFileOpts) (*CaptureFile, error) {
	log := NewDisabledLogger()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	_, statErr := os.Stat(opts.FilePath)
	needsCreate := opts.ForceNewEmptyFile || (opts.ToWrite && os.IsNotExist(statErr))

	if needsCreate {
		if err := createFile(opts.FilePath, opts.InitialMetadata); err != nil {
			return nil, errors.Wrapf(err, "capturefile: create %q", opts.FilePath)
		}
	}

	cf := &CaptureFile{
		filePath: opts.FilePath,
		log:      log,
	}

	if err := cf.open(opts.ToWrite); err != nil {
		return nil, err
	}

	return cf, nil
}

// open performs the actual OS-level open, lock acquisition, and initial
// refresh for Open, once any needed file creation has completed. createFile
// does not go through it: it builds its temporary handle directly.
func (cf *CaptureFile) open(toWrite bool) error {
	if cf.opened {
		return errors.Wrapf(ErrAlreadyOpen, "capture file %q is already open", cf.filePath)
	}

	if toWrite {
		if err := globalWriterRegistry.register(cf.filePath); err != nil {
			return err
		}
	}

	flags := os.O_RDONLY
	if toWrite {
		flags = os.O_RDWR
	}

	file, err := os.OpenFile(cf.filePath, flags, 0o600)
	if err != nil {
		if toWrite {
			globalWriterRegistry.unregister(cf.filePath)
		}
		return errors.Wrapf(err, "capturefile: open %q", cf.filePath)
	}

	cf.file = file
	cf.toWrite = toWrite

	config, err := ReadConfiguration(cf.file)
	if err != nil {
		cf.file.Close()
		if toWrite {
			globalWriterRegistry.unregister(cf.filePath)
		}
		return err
	}
	cf.config = config
	cf.lock = newLockAdapter(cf.file, cf.config)
	cf.blockCache = newLRUCache[uint64, []byte](lruCacheSize)
	cf.fullNodeCache = newLRUCache[DataCoordinates, []DataCoordinates](lruCacheSize)

	if toWrite {
		if err := cf.lock.tryWriterLock(); err != nil {
			cf.file.Close()
			globalWriterRegistry.unregister(cf.filePath)
			return errors.Wrapf(ErrAlreadyOpen, "capture file %q is already open for write", cf.filePath)
		}
	}

	cf.opened = true

	if err := cf.Refresh(); err != nil {
		return err
	}

	cf.log.Debug().Str("path", cf.filePath).Bool("write", toWrite).Msg("capturefile opened")
	return nil
}

// Close releases locks and the underlying OS handle. Uncommitted records
// and metadata are discarded. Closing an already-closed handle is a no-op.
func (cf *CaptureFile) Close() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.opened {
		return nil
	}
	cf.opened = false

	if cf.toWrite {
		if err := cf.lock.unlockWriter(); err != nil {
			cf.log.Debug().Err(err).Msg("error releasing writer lock")
		}
		globalWriterRegistry.unregister(cf.filePath)
	}

	err := cf.file.Close()
	cf.file = nil
	cf.log.Debug().Str("path", cf.filePath).Msg("capturefile closed")
	return err
}

// Refresh re-reads the master nodes and updates this handle's in-memory
// state to reflect the most recent commit visible on disk. Use Refresh to
// see records added by another handle after this one was opened or last
// refreshed; a write handle never needs it since no other handle can write
// concurrently.
func (cf *CaptureFile) Refresh() error {
	if !cf.opened {
		return errors.Wrapf(ErrNotOpen, "cannot refresh %q because it is not open", cf.filePath)
	}

	var lastErr error
	for attempt := 0; attempt < masterRetryCount; attempt++ {
		if err := cf.refreshOnce(); err != nil {
			lastErr = err
			if !errors.Is(err, ErrInvalid) {
				cf.Close()
				return err
			}
			if attempt == 0 {
				continue
			}
			if attempt == 1 {
				time.Sleep(4 * time.Second)
				continue
			}
			cf.Close()
			return err
		}
		return nil
	}
	cf.Close()
	return lastErr
}

func (cf *CaptureFile) refreshOnce() error {
	kind := lockShared
	if cf.toWrite {
		kind = lockExclusive
	}
	if err := cf.lock.lockMasterNodes(kind); err != nil {
		return errors.Wrap(err, "capturefile: lock master nodes")
	}
	defer cf.lock.unlockMasterNodes()

	slotA, errA := cf.decodeMasterNodeAt(cf.config.MasterNodePositions[0])
	slotB, errB := cf.decodeMasterNodeAt(cf.config.MasterNodePositions[1])
	if errA != nil {
		return errA
	}
	if errB != nil {
		return errB
	}

	var current *MasterNode
	switch {
	case slotA == nil && slotB == nil:
		return errors.Wrap(ErrInvalid, "both master nodes are corrupt")
	case slotA != nil && slotB != nil:
		delta := (uint64(slotA.Serial) - uint64(slotB.Serial)) & 0xFFFFFFFF
		switch delta {
		case 1:
			current = slotA
		case 0xFFFFFFFF:
			current = slotB
		default:
			return errors.Wrap(ErrInvalid, "master nodes are valid but have non-consecutive serial numbers")
		}
	case slotA != nil:
		current = slotA
	default:
		current = slotB
	}

	cf.currentMaster = current
	cf.compressionBlock = NewByteStreamFrom(current.CompressionBlockContents)
	cf.recordCount = current.ComputeRecordCount(cf.config.FanOut)
	cf.metadata = nil
	cf.metadataLoaded = false
	return nil
}

func (cf *CaptureFile) decodeMasterNodeAt(position uint64) (*MasterNode, error) {
	buf := make([]byte, cf.config.MasterNodeSize)
	if _, err := cf.file.ReadAt(buf, int64(position)); err != nil {
		return nil, errors.Wrapf(err, "capturefile: read master node at %d", position)
	}
	return DecodeMasterNode(buf, cf.config)
}

// GetMetadata returns the binary metadata stored in this capture file, or
// nil if none is set.
func (cf *CaptureFile) GetMetadata() ([]byte, error) {
	if !cf.opened {
		return nil, errors.Wrapf(ErrNotOpen, "cannot get metadata of %q because it is not open", cf.filePath)
	}
	if cf.currentMaster.MetadataPointer.IsNull() {
		return nil, nil
	}
	if !cf.metadataLoaded {
		data, err := cf.sizedDataBlock(cf.currentMaster.MetadataPointer)
		if err != nil {
			return nil, err
		}
		cf.metadata = data
		cf.metadataLoaded = true
	}
	return cf.metadata, nil
}

// SetMetadata stores binary data associated with this capture file as a
// whole, visible to readers only once Commit is called. Passing nil clears
// the metadata.
func (cf *CaptureFile) SetMetadata(data []byte) error {
	if !cf.opened {
		return errors.Wrapf(ErrNotOpen, "cannot set metadata of %q because it is not open", cf.filePath)
	}
	if !cf.toWrite {
		return errors.Wrapf(ErrNotOpenForWrite, "cannot set metadata of %q because it is not open for write", cf.filePath)
	}

	if data == nil {
		cf.currentMaster.MetadataPointer = NullCoordinates
		cf.metadata = nil
		cf.metadataLoaded = true
		return nil
	}

	ptr, err := cf.addDataBlock(data)
	if err != nil {
		return err
	}
	cf.currentMaster.MetadataPointer = ptr
	cf.metadata = data
	cf.metadataLoaded = true
	return nil
}

// AddRecord appends record to this capture file without committing it and
// returns the new record count.
func (cf *CaptureFile) AddRecord(record []byte) (uint64, error) {
	if !cf.opened {
		return 0, errors.Wrapf(ErrNotOpen, "cannot add a record to %q because it is not open", cf.filePath)
	}
	if !cf.toWrite {
		return 0, errors.Wrapf(ErrNotOpenForWrite, "cannot add a record to %q because it is not open for write", cf.filePath)
	}

	coord, err := cf.addDataBlock(record)
	if err != nil {
		return 0, err
	}

	if err := cf.currentMaster.RightmostPath.AddChildToRightmostNode(coord, 1, cf); err != nil {
		return 0, err
	}

	cf.recordCount++
	return cf.recordCount, nil
}

// Commit makes all records added and metadata set since the last commit (or
// since this handle was opened for write) durable and visible to other
// handles. Either everything since the last commit is committed, or, on
// failure, nothing is.
func (cf *CaptureFile) Commit() error {
	if !cf.opened {
		return errors.Wrapf(ErrNotOpen, "cannot commit %q because it is not open", cf.filePath)
	}
	if !cf.toWrite {
		return errors.Wrapf(ErrNotOpenForWrite, "cannot commit %q because it is not open for write", cf.filePath)
	}
	return cf.commit()
}

func (cf *CaptureFile) commit() error {
	if err := cf.file.Sync(); err != nil {
		return errors.Wrap(err, "capturefile: pre-commit sync")
	}

	cf.currentMaster.IncrementSerial()

	if err := cf.lock.lockMasterNodes(lockExclusive); err != nil {
		return errors.Wrap(err, "capturefile: lock master nodes for commit")
	}
	defer cf.lock.unlockMasterNodes()

	cf.currentMaster.CompressionBlockContents = cf.compressionBlock.Bytes()

	encoded, err := cf.currentMaster.Encode(cf.config)
	if err != nil {
		return err
	}

	if _, err := cf.file.WriteAt(encoded, int64(cf.currentMaster.Position(cf.config))); err != nil {
		return errors.Wrap(err, "capturefile: write master node")
	}

	if err := cf.file.Sync(); err != nil {
		return errors.Wrap(err, "capturefile: post-commit sync")
	}

	cf.log.Debug().Str("path", cf.filePath).Uint32("serial", cf.currentMaster.Serial).Uint64("records", cf.recordCount).Msg("capturefile committed")
	return nil
}

// RecordCount returns the number of records visible to this handle as of
// its last open or Refresh. If open for write, it reflects uncommitted
// appends too.
func (cf *CaptureFile) RecordCount() uint64 {
	return cf.recordCount
}

// Config returns a copy of the on-disk configuration this handle was opened
// with.
func (cf *CaptureFile) Config() Configuration {
	return *cf.config
}

// TreeHeight returns the number of levels in the rightmost-path index, 0
// for an empty capture file.
func (cf *CaptureFile) TreeHeight() int {
	return cf.currentMaster.RightmostPath.NumberOfLevels()
}

// String summarizes this handle's path, mode, and record count.
func (cf *CaptureFile) String() string {
	if cf.file == nil {
		return cf.filePath + " currently closed"
	}
	mode := "reading"
	if cf.toWrite {
		mode = "writing"
	}
	return fmt.Sprintf("%q opened for %s with %d records", cf.filePath, mode, cf.recordCount)
}

// fileLimit returns the first file byte not yet covered by persisted full
// pages, per the current master node.
func (cf *CaptureFile) fileLimit() uint64 {
	return cf.currentMaster.FileLimit
}

// coordinatesForNextNewDataBlock returns the coordinates the next call to
// addDataBlock will use.
func (cf *CaptureFile) coordinatesForNextNewDataBlock() DataCoordinates {
	return DataCoordinates{
		CompressedBlockStart: cf.fileLimit(),
		DataStart:            uint32(cf.compressionBlock.Position()),
	}
}

// addDataBlock appends dataBlock to the write-side compression buffer
// without committing it, returning the coordinates at which it was written.
func (cf *CaptureFile) addDataBlock(dataBlock []byte) (DataCoordinates, error) {
	coord := cf.coordinatesForNextNewDataBlock()
	cf.compressionBlock.WriteSized(dataBlock)
	if err := cf.compressAndWriteIfFull(); err != nil {
		return DataCoordinates{}, err
	}
	return coord, nil
}

// compressAndWriteIfFull flushes the write-side compression buffer as a
// size-prefixed zlib block once it reaches the configured threshold.
func (cf *CaptureFile) compressAndWriteIfFull() error {
	if cf.compressionBlock.Position() < int(cf.config.CompressionBlockSize) {
		return nil
	}

	var compressed bytes.Buffer
	writer, err := zlib.NewWriterLevel(&compressed, zlib.DefaultCompression)
	if err != nil {
		return errors.Wrap(err, "capturefile: init compressor")
	}
	if _, err := writer.Write(cf.compressionBlock.Bytes()); err != nil {
		return errors.Wrap(err, "capturefile: compress block")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "capturefile: finalize compressed block")
	}

	cf.compressionBlock = NewByteStream()

	fileSize, err := cf.fileSize()
	if err != nil {
		return err
	}

	if cf.fileLimit()+4+uint64(compressed.Len()) > fileSize {
		if err := cf.growFile(fileSize); err != nil {
			return err
		}
	}

	sizePrefix := make([]byte, sizePrefixSize)
	putUint32BE(sizePrefix, uint32(compressed.Len()))

	if err := cf.writeFullPages(sizePrefix); err != nil {
		return err
	}
	if err := cf.writeFullPages(compressed.Bytes()); err != nil {
		return err
	}
	return nil
}

// growFile extends the file by min(5MiB, file_limit) rounded up to a whole
// page, but never more than doubling, to reduce fragmentation. Unlike the
// original implementation's defensive seek(0) before truncating (needed
// because Python's buffered file object might otherwise re-read the page at
// its current offset), os.File.Truncate operates purely on the file
// descriptor and is independent of any current seek position, so no
// equivalent seek is required here.
func (cf *CaptureFile) growFile(currentSize uint64) error {
	growth := minUint64(maxCompressionGrowth, cf.fileLimit())
	growth = roundUpToPage(growth, uint64(cf.config.PageSize))

	if err := cf.file.Truncate(int64(currentSize + growth)); err != nil {
		return errors.Wrap(err, "capturefile: grow file")
	}
	cf.log.Debug().Uint64("new_size", currentSize+growth).Msg("capturefile grew")
	return nil
}

func (cf *CaptureFile) fileSize() (uint64, error) {
	info, err := cf.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "capturefile: stat")
	}
	return uint64(info.Size()), nil
}

// writeFullPages appends rawBytes to the end of the file data (file_limit)
// in whole-page increments. The remainder that doesn't complete a page is
// held in the master node's ContentsOfLastPage until the next call.
func (cf *CaptureFile) writeFullPages(rawBytes []byte) error {
	pageSize := uint64(cf.config.PageSize)
	posInLastPage := cf.fileLimit() % pageSize
	totalLen := posInLastPage + uint64(len(rawBytes))
	fullPagesLen := totalLen / pageSize * pageSize

	last := cf.currentMaster.ContentsOfLastPage

	if fullPagesLen > 0 {
		writeAt := int64(cf.fileLimit() / pageSize * pageSize)

		buf := make([]byte, 0, fullPagesLen)
		buf = append(buf, last[:posInLastPage]...)
		fullPageRemainderLen := fullPagesLen - posInLastPage
		buf = append(buf, rawBytes[:fullPageRemainderLen]...)

		if _, err := cf.file.WriteAt(buf, writeAt); err != nil {
			return errors.Wrap(err, "capturefile: write full pages")
		}

		rawBytesRemainderLen := uint64(len(rawBytes)) - fullPageRemainderLen
		unwrittenPageLen := pageSize - rawBytesRemainderLen
		newLast := make([]byte, pageSize)
		copy(newLast, rawBytes[fullPageRemainderLen:])
		copy(newLast[rawBytesRemainderLen:], make([]byte, unwrittenPageLen))
		cf.currentMaster.ContentsOfLastPage = newLast
	} else {
		copy(last[posInLastPage:totalLen], rawBytes)
	}

	cf.currentMaster.FileLimit += uint64(len(rawBytes))
	return nil
}

// fetchData returns size bytes starting at startPosition, transparently
// spanning the boundary between data already written in full pages and the
// partial tail still held only in the master node.
func (cf *CaptureFile) fetchData(startPosition uint64, size int) ([]byte, error) {
	pageSize := uint64(cf.config.PageSize)
	writtenLimit := cf.fileLimit() / pageSize * pageSize
	endPosition := startPosition + uint64(size)

	if startPosition < writtenLimit {
		if endPosition <= writtenLimit {
			buf := make([]byte, size)
			if _, err := cf.file.ReadAt(buf, int64(startPosition)); err != nil {
				return nil, errors.Wrapf(err, "capturefile: read at %d", startPosition)
			}
			return buf, nil
		}

		writtenSize := writtenLimit - startPosition
		unwrittenSize := uint64(size) - writtenSize

		written := make([]byte, writtenSize)
		if _, err := cf.file.ReadAt(written, int64(startPosition)); err != nil {
			return nil, errors.Wrapf(err, "capturefile: read at %d", startPosition)
		}

		out := make([]byte, size)
		copy(out, written)
		copy(out[writtenSize:], cf.currentMaster.ContentsOfLastPage[:unwrittenSize])
		return out, nil
	}

	unwrittenStart := startPosition - writtenLimit
	out := make([]byte, size)
	copy(out, cf.currentMaster.ContentsOfLastPage[unwrittenStart:unwrittenStart+uint64(size)])
	return out, nil
}

func (cf *CaptureFile) fetchSizedData(startPosition uint64) ([]byte, error) {
	sizeBuf, err := cf.fetchData(startPosition, sizePrefixSize)
	if err != nil {
		return nil, err
	}
	size := getUint32BE(sizeBuf)
	return cf.fetchData(startPosition+sizePrefixSize, int(size))
}

// block returns the decompressed bytes of the compression block starting at
// filePosition, either the live write buffer (if filePosition is the
// current file_limit) or the cached decompressed image of a persisted
// compressed block.
func (cf *CaptureFile) block(filePosition uint64) ([]byte, error) {
	if filePosition == cf.fileLimit() {
		return cf.compressionBlock.Bytes(), nil
	}
	if cached, ok := cf.blockCache.get(filePosition); ok {
		return cached, nil
	}

	compressedBytes, err := cf.fetchSizedData(filePosition)
	if err != nil {
		return nil, err
	}

	reader, err := zlib.NewReader(bytes.NewReader(compressedBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "capturefile: decompress block at %d", filePosition)
	}
	defer reader.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(reader); err != nil {
		return nil, errors.Wrapf(err, "capturefile: decompress block at %d", filePosition)
	}

	cf.blockCache.put(filePosition, out.Bytes())
	return out.Bytes(), nil
}

// fullNode returns the fan_out child coordinates stored at child, reading
// through the full-node cache and, transitively, the block cache.
func (cf *CaptureFile) fullNode(child DataCoordinates) ([]DataCoordinates, error) {
	if cached, ok := cf.fullNodeCache.get(child); ok {
		return cached, nil
	}

	block, err := cf.block(child.CompressedBlockStart)
	if err != nil {
		return nil, err
	}

	children := make([]DataCoordinates, cf.config.FanOut)
	offset := int(child.DataStart)
	for i := range children {
		dc, err := DecodeDataCoordinates(block, offset)
		if err != nil {
			return nil, err
		}
		children[i] = dc
		offset += dataCoordinatesSize
	}

	cf.fullNodeCache.put(child, children)
	return children, nil
}

// sizedDataBlock returns the record bytes located at dc.
func (cf *CaptureFile) sizedDataBlock(dc DataCoordinates) ([]byte, error) {
	block, err := cf.block(dc.CompressedBlockStart)
	if err != nil {
		return nil, err
	}
	if int(dc.DataStart)+sizePrefixSize > len(block) {
		return nil, errors.Errorf("capturefile: coordinate %+v out of bounds of block (len %d)", dc, len(block))
	}
	size := getUint32BE(block[dc.DataStart : dc.DataStart+sizePrefixSize])
	start := int(dc.DataStart) + sizePrefixSize
	end := start + int(size)
	if end > len(block) {
		return nil, errors.Errorf("capturefile: record at %+v extends past block (len %d)", dc, len(block))
	}
	out := make([]byte, size)
	copy(out, block[start:end])
	return out, nil
}

// RecordAt returns the record stored at the 1-based recordNumber.
func (cf *CaptureFile) RecordAt(recordNumber uint64) ([]byte, error) {
	if !cf.opened {
		return nil, errors.Wrapf(ErrNotOpen, "cannot get record from %q because it is not open", cf.filePath)
	}
	if recordNumber < 1 || recordNumber > cf.recordCount {
		return nil, errors.Wrapf(ErrOutOfRange, "record number %d out of range [1, %d]", recordNumber, cf.recordCount)
	}

	nodes := cf.currentMaster.RightmostPath.nodes
	height := len(nodes)

	leafToRoot := leafToRootPath(recordNumber-1, height, cf.config.FanOut)
	rootToLeafPath := make([]int, height)
	for i, v := range leafToRoot {
		rootToLeafPath[height-1-i] = v
	}
	rootToLeafNodes := make([]*RightmostNode, height)
	for i, n := range nodes {
		rootToLeafNodes[height-1-i] = n
	}

	var childIndex int
	var currentNode *RightmostNode
	consumed := 0
	for i := 0; i < height; i++ {
		childIndex = rootToLeafPath[i]
		currentNode = rootToLeafNodes[i]
		consumed = i + 1
		if childIndex != currentNode.ChildCount() {
			break
		}
	}

	current := currentNode.Children()[childIndex]

	for i := consumed; i < height; i++ {
		childIndex = rootToLeafPath[i]
		children, err := cf.fullNode(current)
		if err != nil {
			return nil, err
		}
		current = children[childIndex]
	}

	return cf.sizedDataBlock(current)
}

// RecordRange returns the records from start (inclusive) to stop
// (exclusive), both 1-based, as a contiguous slice. It is the Go analogue
// of the original implementation's cf[start:stop] slice access.
func (cf *CaptureFile) RecordRange(start, stop uint64) ([][]byte, error) {
	if start < 1 {
		return nil, errors.Wrapf(ErrOutOfRange, "range start %d must be >= 1", start)
	}
	if stop < start {
		return nil, nil
	}

	it, err := cf.recordIterator(start)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make([][]byte, 0, stop-start)
	for uint64(len(out)) < stop-start && it.Next() {
		out = append(out, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Records returns a finite, lazy iterator over records starting at start
// (1-based) through the record count as it existed when Records was called.
// Later appends on this handle are not reflected in an already-created
// iterator.
func (cf *CaptureFile) Records(start uint64) *RecordIterator {
	it, err := cf.recordIterator(start)
	if err != nil {
		return &RecordIterator{err: err, done: true}
	}
	return it
}

func leafToRootPath(position uint64, height int, fanOut uint32) []int {
	path := make([]int, height)
	for i := 0; i < height; i++ {
		path[i] = int(position % uint64(fanOut))
		position /= uint64(fanOut)
	}
	return path
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func roundUpToPage(n, pageSize uint64) uint64 {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

func putUint32BE(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func getUint32BE(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// createFile builds a brand new capture file at path. It is built first as
// a temporary file in the same directory so a crash or error mid-creation
// never leaves a half-built file at the target path, then renamed into
// place, mirroring the original implementation's NamedTemporaryFile + move
// strategy.
func createFile(path string, initialMetadata []byte) error {
	if err := globalWriterRegistry.register(path); err != nil {
		return err
	}
	defer globalWriterRegistry.unregister(path)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".capturefile-tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	config := DefaultConfiguration()
	if err := config.Write(tmp); err != nil {
		tmp.Close()
		return err
	}

	cf := &CaptureFile{
		filePath:         tmpPath,
		toWrite:          true,
		file:             tmp,
		opened:           true,
		config:           config,
		currentMaster:    NewEmptyMasterNode(config),
		compressionBlock: NewByteStream(),
		log:              NewDisabledLogger(),
		lock:             newLockAdapter(tmp, config),
	}

	if err := cf.SetMetadata(initialMetadata); err != nil {
		tmp.Close()
		return err
	}

	// Commit twice so both slots hold valid, consecutive masters.
	if err := cf.commit(); err != nil {
		tmp.Close()
		return err
	}
	if err := cf.commit(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Truncate(int64(config.PageSize) * initialFilePages); err != nil {
		tmp.Close()
		return errors.Wrap(err, "pre-grow new file")
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename temp file into place")
	}
	return nil
}
