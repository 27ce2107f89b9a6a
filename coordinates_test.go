package capturefile

import "testing"

func TestDataCoordinatesCodec(t *testing.T) {
	t.Run("encode decode round trip", func(t *testing.T) {
		dc := DataCoordinates{CompressedBlockStart: 123456789, DataStart: 4096}

		bs := NewByteStream()
		dc.Encode(bs)

		decoded, err := DecodeDataCoordinates(bs.Bytes(), 0)
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if decoded != dc { t.Errorf("got %+v, want %+v", decoded, dc) }
	})

	t.Run("null coordinates report IsNull", func(t *testing.T) {
		if !NullCoordinates.IsNull() { t.Errorf("expected NullCoordinates to be null") }

		nonNull := DataCoordinates{CompressedBlockStart: 1}
		if nonNull.IsNull() { t.Errorf("expected non-zero coordinates to not be null") }
	})

	t.Run("height prefixed round trip", func(t *testing.T) {
		dc := DataCoordinates{CompressedBlockStart: 42, DataStart: 17}

		bs := NewByteStream()
		dc.EncodeWithHeight(bs, 3)

		height, decoded, err := DecodeDataCoordinatesWithHeight(bs.Bytes(), 0)
		if err != nil { t.Errorf("unexpected error: %s", err) }
		if height != 3 { t.Errorf("got height %d, want 3", height) }
		if decoded != dc { t.Errorf("got %+v, want %+v", decoded, dc) }
	})

	t.Run("short buffer is an error", func(t *testing.T) {
		if _, err := DecodeDataCoordinates([]byte{1, 2, 3}, 0); err == nil {
			t.Errorf("expected error decoding short buffer, got nil")
		}
	})
}
