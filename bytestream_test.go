package capturefile

import "testing"

func TestByteStreamWriteRead(t *testing.T) {
	t.Run("uint32 round trip", func(t *testing.T) {
		bs := NewByteStream()
		bs.WriteUint32(0xDEADBEEF)

		bs.Seek(0)
		v, err := bs.ReadUint32()
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if v != 0xDEADBEEF { t.Errorf("got %x, want %x", v, 0xDEADBEEF) }
	})

	t.Run("uint64 round trip", func(t *testing.T) {
		bs := NewByteStream()
		bs.WriteUint64(0x0102030405060708)

		bs.Seek(0)
		v, err := bs.ReadUint64()
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if v != 0x0102030405060708 { t.Errorf("got %x, want %x", v, 0x0102030405060708) }
	})

	t.Run("sized round trip", func(t *testing.T) {
		bs := NewByteStream()
		bs.WriteSized([]byte("hello"))
		bs.WriteSized([]byte("world!"))

		bs.Seek(0)
		first, err := bs.ReadSized()
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if string(first) != "hello" { t.Errorf("got %q, want %q", first, "hello") }

		second, err := bs.ReadSized()
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if string(second) != "world!" { t.Errorf("got %q, want %q", second, "world!") }
	})

	t.Run("zero fill does not move cursor backwards", func(t *testing.T) {
		bs := NewByteStream()
		bs.WriteByte('a')
		bs.ZeroFillTo(0)
		if bs.Position() != 1 { t.Errorf("zero fill moved cursor backwards: pos=%d", bs.Position()) }
	})

	t.Run("short read returns error", func(t *testing.T) {
		bs := NewByteStreamFrom([]byte{1, 2, 3})
		bs.Seek(0)
		if _, err := bs.ReadUint64(); err == nil { t.Errorf("expected short read error, got nil") }
	})

	t.Run("from seeds cursor at end", func(t *testing.T) {
		bs := NewByteStreamFrom([]byte("abc"))
		if bs.Position() != 3 { t.Errorf("got position %d, want 3", bs.Position()) }
		bs.WriteByte('d')
		if string(bs.Bytes()) != "abcd" { t.Errorf("got %q, want %q", bs.Bytes(), "abcd") }
	})
}
