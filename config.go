package capturefile

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// configHeaderSize is the on-disk size of the fixed configuration header:
// an 11-byte magic followed by four big-endian uint32 fields.
const configHeaderSize = 11 + 4*4

// Configuration holds the fixed-layout values stored in the first page of a
// capture file, plus derived geometry computed from them.
type Configuration struct {
	// Version: the format version this file was written with.
	Version uint32
	// PageSize: minimum I/O granule for appending data.
	PageSize uint32
	// CompressionBlockSize: threshold at which the write buffer is flushed.
	CompressionBlockSize uint32
	// FanOut: maximum children per tree node.
	FanOut uint32

	// MasterNodeSize: 2*PageSize + CompressionBlockSize.
	MasterNodeSize uint64
	// MasterNodePositions: absolute file offsets of the two master node slots.
	MasterNodePositions [2]uint64
	// InitialFileLimit: file_limit for a brand new, empty capture file.
	InitialFileLimit uint64
}

// DefaultConfiguration returns a Configuration using the package defaults.
func DefaultConfiguration() *Configuration {
	return newConfiguration(CurrentVersion, DefaultPageSize, DefaultCompressionBlockSize, DefaultFanOut)
}

func newConfiguration(version, pageSize, compressionBlockSize, fanOut uint32) *Configuration {
	c := &Configuration{
		Version:              version,
		PageSize:             pageSize,
		CompressionBlockSize: compressionBlockSize,
		FanOut:               fanOut,
	}
	c.deriveLayout()
	return c
}

func (c *Configuration) deriveLayout() {
	c.MasterNodeSize = uint64(c.PageSize)*2 + uint64(c.CompressionBlockSize)
	c.MasterNodePositions = [2]uint64{
		uint64(c.PageSize),
		uint64(c.PageSize) + c.MasterNodeSize,
	}
	c.InitialFileLimit = c.MasterNodePositions[1] + c.MasterNodeSize
}

// ReadConfiguration reads and validates the fixed header at offset 0 of the
// given file. Fails with ErrInvalid on magic mismatch or an unsupported
// version.
func ReadConfiguration(f *os.File) (*Configuration, error) {
	buf := make([]byte, configHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(err, "config: read header")
	}

	var magic [11]byte
	copy(magic[:], buf[0:11])
	if magic != captureFileMagic && magic != legacyCaptureFileMagic {
		return nil, errors.Wrapf(ErrInvalid, "%s is not a valid capture file", f.Name())
	}

	version := binary.BigEndian.Uint32(buf[11:15])
	if version > CurrentVersion {
		return nil, errors.Wrapf(ErrInvalid, "%s was created in version %d format; highest supported version is %d", f.Name(), version, CurrentVersion)
	}

	pageSize := binary.BigEndian.Uint32(buf[15:19])
	compressionBlockSize := binary.BigEndian.Uint32(buf[19:23])
	fanOut := binary.BigEndian.Uint32(buf[23:27])

	return newConfiguration(version, pageSize, compressionBlockSize, fanOut), nil
}

// Write zero-fills a buffer of InitialFileLimit bytes with the header packed
// at offset 0 and writes it to f.
func (c *Configuration) Write(f *os.File) error {
	buf := make([]byte, c.InitialFileLimit)
	copy(buf[0:11], captureFileMagic[:])
	binary.BigEndian.PutUint32(buf[11:15], c.Version)
	binary.BigEndian.PutUint32(buf[15:19], c.PageSize)
	binary.BigEndian.PutUint32(buf[19:23], c.CompressionBlockSize)
	binary.BigEndian.PutUint32(buf[23:27], c.FanOut)

	if _, err := f.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "config: write header")
	}
	return nil
}
