package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Action: ActionFetch, TableID: 1, IndexID: 0, KeyLen: 4}
	buf := make([]byte, HeaderLen)
	Encode(h, buf)
	got := Decode(buf)
	assert.Equal(t, h, got)
}

func TestFetchHitWireExample(t *testing.T) {
	// 11 46 01 00 00 00 00 04 -- version 0x11, action 'F', table 1, index 0, key_len 4
	buf := []byte{0x11, 0x46, 0x01, 0x00, 0x00, 0x00, 0x00, 0x04}
	h := Decode(buf)
	assert.Equal(t, byte(0x11), h.Version)
	assert.Equal(t, ActionFetch, h.Action)
	assert.Equal(t, byte(1), h.TableID)
	assert.Equal(t, byte(0), h.IndexID)
	assert.Equal(t, uint32(4), h.KeyLen)
}

func TestFrameLengthRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	FrameLength(22, buf)
	assert.Equal(t, uint32(22), DecodeFrameLength(buf))
}
