package capturefile

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// masterNodeHeaderSize is the encoded size of a master node's fixed header:
// serial (u32), file_limit (u64), compression_block_len (u32).
const masterNodeHeaderSize = 4 + 8 + 4

// MasterNode is the in-memory form of a single commit: where the latest
// root is, where the next write goes, and the partially-written tail of
// data that hasn't reached a whole page or a full compression block yet.
type MasterNode struct {
	// Serial: wraps at 2^32; the larger of the two slots (mod 2^32 delta) is current.
	Serial uint32
	// FileLimit: first file byte not yet covered by persisted full pages.
	FileLimit uint64
	// MetadataPointer: coordinates of the user metadata blob, or null.
	MetadataPointer DataCoordinates
	// RightmostPath: the mutable spine of the tree index.
	RightmostPath *RightmostPath
	// ContentsOfLastPage: the partial last page not yet flushed to disk, always PageSize bytes.
	ContentsOfLastPage []byte
	// CompressionBlockContents: the live write-side compression buffer's bytes.
	CompressionBlockContents []byte
}

// NewEmptyMasterNode returns the initial master node for a brand new capture
// file: serial 0, an empty rightmost path, and a zero-filled last page.
func NewEmptyMasterNode(config *Configuration) *MasterNode {
	return &MasterNode{
		Serial:                   0,
		FileLimit:                config.InitialFileLimit,
		MetadataPointer:          NullCoordinates,
		RightmostPath:            NewRightmostPath(),
		ContentsOfLastPage:       make([]byte, config.PageSize),
		CompressionBlockContents: nil,
	}
}

// IncrementSerial advances the serial number, wrapping at 2^32.
func (mn *MasterNode) IncrementSerial() {
	mn.Serial++
}

// Position returns the absolute file offset at which this master node
// should be written: a master node with an even serial is written to slot 0,
// an odd serial to slot 1 (serial % 2 indexes MasterNodePositions).
func (mn *MasterNode) Position(config *Configuration) uint64 {
	return config.MasterNodePositions[mn.Serial%2]
}

// ComputeRecordCount returns the number of records represented by this
// master node's rightmost path.
func (mn *MasterNode) ComputeRecordCount(fanOut uint32) uint64 {
	return mn.RightmostPath.ComputeRecordCount(fanOut)
}

// Encode returns the CRC-prefixed, fixed-size (MasterNodeSize bytes) binary
// representation of this master node, ready to be written at Position().
//
// Layout of the body (preceded by its own 4-byte CRC-32, not included in
// this method's "body" accounting):
//
//	16 bytes header: serial (u32), file_limit (u64), compression_block_len (u32)
//	12 bytes: metadata pointer coordinate
//	rightmost path: count (u32) + height-prefixed children
//	zero padding to offset page_size-4 of the body
//	page_size bytes: contents_of_last_page
//	compression_block_size bytes: compression buffer, zero-padded
//
// The body plus its leading CRC fills exactly one page up to page_size-4 of
// this method's body offsets; this asymmetry (page_size bytes are stored for
// the last page, but only page_size-4 bytes of header+path padding precede
// it) is intentional and must be preserved bit-for-bit for file compatibility.
func (mn *MasterNode) Encode(config *Configuration) ([]byte, error) {
	bs := NewByteStream()
	bs.WriteUint32(mn.Serial)
	bs.WriteUint64(mn.FileLimit)
	bs.WriteUint32(uint32(len(mn.CompressionBlockContents)))

	mn.MetadataPointer.Encode(bs)
	mn.RightmostPath.WriteRightmostNodes(bs)

	maxBodyHeaderSize := int(config.PageSize) - 4
	if bs.Position() > maxBodyHeaderSize {
		return nil, errors.Errorf("master node: rightmost path too large to fit in a page (%d > %d)", bs.Position(), maxBodyHeaderSize)
	}

	bs.ZeroFillTo(maxBodyHeaderSize)
	bs.Write(mn.ContentsOfLastPage)

	paddedCompressionBlock := make([]byte, config.CompressionBlockSize)
	copy(paddedCompressionBlock, mn.CompressionBlockContents)
	bs.Write(paddedCompressionBlock)

	bs.ZeroFillTo(int(config.MasterNodeSize) - 4)

	body := bs.Bytes()
	crc := crc32.ChecksumIEEE(body)

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], crc)
	copy(out[4:], body)
	return out, nil
}

// DecodeMasterNode validates the leading CRC-32 against the rest of
// slotBuffer (which must be exactly config.MasterNodeSize bytes, CRC
// included) and, if valid, decodes the master node. A bad CRC returns
// (nil, nil) -- the caller distinguishes "corrupt slot" from "read error".
func DecodeMasterNode(slotBuffer []byte, config *Configuration) (*MasterNode, error) {
	if len(slotBuffer) != int(config.MasterNodeSize) {
		return nil, errors.Errorf("master node: expected %d bytes, got %d", config.MasterNodeSize, len(slotBuffer))
	}

	recordedCRC := binary.BigEndian.Uint32(slotBuffer[0:4])
	body := slotBuffer[4:]
	if crc32.ChecksumIEEE(body) != recordedCRC {
		return nil, nil
	}

	serial := binary.BigEndian.Uint32(body[0:4])
	fileLimit := binary.BigEndian.Uint64(body[4:12])
	compressionBlockLen := binary.BigEndian.Uint32(body[12:16])

	metadataPointer, err := DecodeDataCoordinates(body, masterNodeHeaderSize)
	if err != nil {
		return nil, err
	}

	rightmostPath, err := DecodeRightmostPath(body, masterNodeHeaderSize+dataCoordinatesSize)
	if err != nil {
		return nil, err
	}

	// The 4-byte CRC is not part of `body`, but page_size counted it when the
	// layout was derived, so the last-page region starts page_size-4 bytes in.
	lastPageStart := int(config.PageSize) - 4
	compressionBlockStart := lastPageStart + int(config.PageSize)
	compressionBlockEnd := compressionBlockStart + int(compressionBlockLen)

	contentsOfLastPage := make([]byte, config.PageSize)
	copy(contentsOfLastPage, body[lastPageStart:compressionBlockStart])

	compressionBlockContents := make([]byte, compressionBlockLen)
	copy(compressionBlockContents, body[compressionBlockStart:compressionBlockEnd])

	return &MasterNode{
		Serial:                   serial,
		FileLimit:                fileLimit,
		MetadataPointer:          metadataPointer,
		RightmostPath:            rightmostPath,
		ContentsOfLastPage:       contentsOfLastPage,
		CompressionBlockContents: compressionBlockContents,
	}, nil
}
