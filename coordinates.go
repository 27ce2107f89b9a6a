package capturefile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// dataCoordinatesSize is the encoded size of a DataCoordinates: u64 + u32.
	dataCoordinatesSize = 12
	// heightPrefixedCoordinatesSize is the encoded size of a height-prefixed
	// DataCoordinates: u8 + u64 + u32, used only inside the rightmost path.
	heightPrefixedCoordinatesSize = 13
	// sizePrefixSize is the encoded size of a sized-block length prefix.
	sizePrefixSize = 4
)

// DataCoordinates addresses any datum inside any compression block: the
// absolute file offset of the compressed block that contains it, and the
// byte offset of the datum within that block once decompressed.
type DataCoordinates struct {
	// CompressedBlockStart: absolute file offset of the size-prefixed
	// compressed block, or the writer's current file_limit to denote "still
	// in the in-memory compression buffer".
	CompressedBlockStart uint64
	// DataStart: byte offset within the uncompressed block of a 4-byte
	// big-endian size prefix followed by the datum.
	DataStart uint32
}

// NullCoordinates is the zero-value sentinel meaning "no data".
var NullCoordinates = DataCoordinates{}

// IsNull reports whether these coordinates are the null sentinel.
func (dc DataCoordinates) IsNull() bool {
	return dc.CompressedBlockStart == 0 && dc.DataStart == 0
}

// Encode appends the 12-byte big-endian representation of dc to the stream.
func (dc DataCoordinates) Encode(bs *ByteStream) {
	bs.WriteUint64(dc.CompressedBlockStart)
	bs.WriteUint32(dc.DataStart)
}

// EncodeTo writes the 12-byte big-endian representation of dc into buf at
// offset, which must have at least dataCoordinatesSize bytes remaining.
func (dc DataCoordinates) EncodeTo(buf []byte, offset int) {
	binary.BigEndian.PutUint64(buf[offset:offset+8], dc.CompressedBlockStart)
	binary.BigEndian.PutUint32(buf[offset+8:offset+12], dc.DataStart)
}

// DecodeDataCoordinates reads the 12-byte big-endian form from buf at offset.
func DecodeDataCoordinates(buf []byte, offset int) (DataCoordinates, error) {
	if offset+dataCoordinatesSize > len(buf) {
		return DataCoordinates{}, errors.Errorf("coordinates: short buffer at offset %d", offset)
	}
	return DataCoordinates{
		CompressedBlockStart: binary.BigEndian.Uint64(buf[offset : offset+8]),
		DataStart:            binary.BigEndian.Uint32(buf[offset+8 : offset+12]),
	}, nil
}

// EncodeWithHeight appends the 13-byte height-prefixed form used only inside
// the master node's rightmost-path serialization.
func (dc DataCoordinates) EncodeWithHeight(bs *ByteStream, height int) {
	bs.WriteByte(byte(height))
	dc.Encode(bs)
}

// DecodeDataCoordinatesWithHeight reads the 13-byte height-prefixed form
// from buf at offset, returning the height and the coordinates.
func DecodeDataCoordinatesWithHeight(buf []byte, offset int) (int, DataCoordinates, error) {
	if offset+heightPrefixedCoordinatesSize > len(buf) {
		return 0, DataCoordinates{}, errors.Errorf("coordinates: short buffer at offset %d", offset)
	}
	height := int(buf[offset])
	dc, err := DecodeDataCoordinates(buf, offset+1)
	if err != nil {
		return 0, DataCoordinates{}, err
	}
	return height, dc, nil
}
