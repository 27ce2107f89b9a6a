package capturefile

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// CaptureFileOpts initializes a CaptureFile.
type CaptureFileOpts struct {
	// FilePath: the path to the capture file on disk
	FilePath string
	// ToWrite: whether this handle should be opened for write
	ToWrite bool
	// InitialMetadata: metadata recorded when a new file is created
	InitialMetadata []byte
	// ForceNewEmptyFile: always create a new, empty file, overwriting any existing one
	ForceNewEmptyFile bool
	// Logger: structured logger for lifecycle events. A disabled logger is used when nil
	Logger *zerolog.Logger
}

// CaptureFile contains the open file handle and all in-memory state needed to
// service appends, commits, and record lookups.
type CaptureFile struct {
	// filePath: path to the capture file
	filePath string
	// toWrite: whether this handle is open for write
	toWrite bool
	// file: the open OS file handle; raw bytes are always returned to callers,
	// string encoding selection is left to external collaborators (see
	// SPEC_FULL.md section 6.1)
	file *os.File
	// opened: whether the handle currently holds an open file
	opened bool
	// config: the fixed on-disk configuration header
	config *Configuration
	// currentMaster: the in-memory form of the most recently read/written commit
	currentMaster *MasterNode
	// compressionBlock: the live write-side compression buffer
	compressionBlock *ByteStream
	// metadata: cached decoded metadata, cleared on refresh
	metadata []byte
	// metadataLoaded: whether metadata has been fetched since the last refresh
	metadataLoaded bool
	// recordCount: the number of records visible to this handle
	recordCount uint64
	// blockCache: LRU of compressed-block-offset -> decompressed bytes
	blockCache *lruCache[uint64, []byte]
	// fullNodeCache: LRU of coordinate -> fan_out child coordinates
	fullNodeCache *lruCache[DataCoordinates, []DataCoordinates]
	// lock: platform lock adapter over the open file
	lock lockAdapter
	// log: structured logger for this handle
	log zerolog.Logger
	// mu: guards opened and the close sequence against a concurrent Close
	// from another goroutine; other operations assume single-threaded use
	// of a given handle
	mu sync.Mutex
}

// RecordIterator is a finite, lazy sequence of records starting at a fixed
// record number, isolated from subsequent appends by a snapshot of the
// rightmost path taken at creation. The walk runs on a background
// goroutine that streams decoded records over a channel; Next pulls one at
// a time so a caller never has to materialize the whole range up front.
type RecordIterator struct {
	cf      *CaptureFile
	records chan recordOrErr
	cancel  chan struct{}
	closeOnce sync.Once

	current []byte
	err     error
	done    bool
}

// recordOrErr carries one decoded record, or a terminal error, from the
// iterator's walking goroutine to its consumer.
type recordOrErr struct {
	data []byte
	err  error
}

const (
	// DefaultPageSize is the minimum I/O granule for appending data.
	DefaultPageSize = 4096
	// DefaultCompressionBlockSize is the default size threshold for flushing
	// the write-side compression buffer.
	DefaultCompressionBlockSize = 32768
	// DefaultFanOut is the default maximum number of children per tree node.
	DefaultFanOut = 32
	// CurrentVersion is the highest on-disk format version this code supports.
	CurrentVersion = 2

	// initialFilePages is the number of pages a brand new capture file is
	// pre-grown to, to minimize fragmentation from incremental appends.
	initialFilePages = 100

	// maxCompressionGrowth caps how much the file is grown in a single step.
	maxCompressionGrowth = 5 * 1024 * 1024

	// lockStartPosition is the start of the single-byte writer-exclusion lock,
	// chosen far outside any byte range ever used for data.
	lockStartPosition int64 = 0x7FFFFFFFFFFFFFFE
	// lockSize is the byte length of the writer-exclusion lock range.
	lockSize int64 = 1

	// masterRetryCount is the number of refresh attempts before giving up on a
	// transiently inconsistent pair of master node serials.
	masterRetryCount = 3
)

// captureFileMagic is the current on-disk magic string.
var captureFileMagic = [11]byte{'M', 'i', 'o', 'C', 'a', 'p', 't', 'u', 'r', 'e', 0}

// legacyCaptureFileMagic is accepted for backward compatibility with files
// written before the format was renamed.
var legacyCaptureFileMagic = [11]byte{'W', 'e', 'b', 'C', 'a', 'p', 't', 'u', 'r', 'e', 0}
