package capturefile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ByteStream is a growable in-memory buffer supporting big-endian
// size-prefixed read/write helpers, analogous to the teacher's use of a
// plain byte slice behind atomic.Value but specialized here for sequential
// encode/decode instead of random-access mutation.
//
//	0..N: arbitrary written bytes
//
// A ByteStream tracks a single cursor used for both read and write; this
// mirrors BytesIO in the original implementation, where writes always
// happen at the current position and reads advance it.
type ByteStream struct {
	buf []byte
	pos int
}

// NewByteStream returns an empty ByteStream ready for writing.
func NewByteStream() *ByteStream {
	return &ByteStream{}
}

// NewByteStreamFrom wraps existing bytes, positioning the cursor at the end
// so that further writes append (mirrors seeding the write-side compression
// buffer from a master node's saved contents on refresh).
func NewByteStreamFrom(data []byte) *ByteStream {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ByteStream{buf: buf, pos: len(buf)}
}

// Position returns the current cursor offset.
func (bs *ByteStream) Position() int {
	return bs.pos
}

// Len returns the total number of bytes written so far.
func (bs *ByteStream) Len() int {
	return len(bs.buf)
}

// Bytes returns a snapshot of the buffer's contents.
func (bs *ByteStream) Bytes() []byte {
	out := make([]byte, len(bs.buf))
	copy(out, bs.buf)
	return out
}

// Seek moves the cursor to the given absolute offset, growing the buffer
// with zero bytes if necessary.
func (bs *ByteStream) Seek(offset int) {
	bs.growTo(offset)
	bs.pos = offset
}

// Reset clears the stream back to empty.
func (bs *ByteStream) Reset() {
	bs.buf = bs.buf[:0]
	bs.pos = 0
}

func (bs *ByteStream) growTo(n int) {
	if n <= len(bs.buf) {
		return
	}
	if n <= cap(bs.buf) {
		old := len(bs.buf)
		bs.buf = bs.buf[:n]
		clear(bs.buf[old:])
		return
	}
	grown := make([]byte, n)
	copy(grown, bs.buf)
	bs.buf = grown
}

// Write appends raw bytes at the current position, overwriting in place if
// the cursor is before the end.
func (bs *ByteStream) Write(p []byte) {
	end := bs.pos + len(p)
	bs.growTo(end)
	copy(bs.buf[bs.pos:end], p)
	bs.pos = end
}

// WriteByte writes a single byte.
func (bs *ByteStream) WriteByte(b byte) {
	bs.Write([]byte{b})
}

// WriteUint32 writes a big-endian 4-byte unsigned integer.
func (bs *ByteStream) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	bs.Write(b[:])
}

// WriteUint64 writes a big-endian 8-byte unsigned integer.
func (bs *ByteStream) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	bs.Write(b[:])
}

// WriteSized writes a 4-byte big-endian length prefix followed by data.
func (bs *ByteStream) WriteSized(data []byte) {
	bs.WriteUint32(uint32(len(data)))
	bs.Write(data)
}

// ZeroFillTo pads the stream with zero bytes up to the given absolute
// position, without moving the cursor backwards.
func (bs *ByteStream) ZeroFillTo(end int) {
	if end <= bs.pos {
		return
	}
	bs.Write(make([]byte, end-bs.pos))
}

// ReadByte reads a single byte at the current position and advances.
func (bs *ByteStream) ReadByte() (byte, error) {
	b, err := bs.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint32 reads a big-endian 4-byte unsigned integer and advances.
func (bs *ByteStream) ReadUint32() (uint32, error) {
	b, err := bs.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64 reads a big-endian 8-byte unsigned integer and advances.
func (bs *ByteStream) ReadUint64() (uint64, error) {
	b, err := bs.read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadSized reads a 4-byte big-endian length prefix and that many bytes.
func (bs *ByteStream) ReadSized() ([]byte, error) {
	size, err := bs.ReadUint32()
	if err != nil {
		return nil, err
	}
	return bs.read(int(size))
}

func (bs *ByteStream) read(n int) ([]byte, error) {
	if bs.pos+n > len(bs.buf) {
		return nil, errors.Errorf("bytestream: short read at offset %d wanting %d bytes, have %d", bs.pos, n, len(bs.buf)-bs.pos)
	}
	out := bs.buf[bs.pos : bs.pos+n]
	bs.pos += n
	return out, nil
}
