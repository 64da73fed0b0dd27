package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

func mustEncode(t *testing.T, pkt *protocol.Packet) []byte {
	t.Helper()
	data, err := protocol.Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

// TestEncodeDecodeAllKinds verifies each member of the union survives the wire.
func TestEncodeDecodeAllKinds(t *testing.T) {
	lz := bytes.Repeat([]byte{0xAB}, 40)

	testCases := []struct {
		name string
		pkt  *protocol.Packet
	}{
		{"PeerAnnounce", protocol.Announce("living-room-pc")},
		{"FrameBegin", protocol.FrameBegin(0x5EC0FFEE, 0xFFFFFFFF)},
		{"TileBatch", protocol.TileBatch(0xA1B2C3D4, 42, []protocol.Tile{
			{X: 0, Y: 0, Scheme: protocol.SchemeLZ4, Data: lz},
			{X: 64, Y: 1056, Scheme: protocol.SchemeJPEG, Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}},
		})},
		{"CursorUpdate", protocol.Cursor(1919, 1079)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := mustEncode(t, tc.pkt)
			if len(encoded) != protocol.Size(tc.pkt) {
				t.Errorf("Size mismatch: projected %d, encoded %d", protocol.Size(tc.pkt), len(encoded))
			}

			decoded, err := protocol.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Kind != tc.pkt.Kind {
				t.Fatalf("Kind mismatch: got %s, want %s", decoded.Kind, tc.pkt.Kind)
			}
			if decoded.Hostname != tc.pkt.Hostname || decoded.FrameID != tc.pkt.FrameID ||
				decoded.Session != tc.pkt.Session ||
				decoded.X != tc.pkt.X || decoded.Y != tc.pkt.Y {
				t.Errorf("Field mismatch: got %+v, want %+v", decoded, tc.pkt)
			}
			if len(decoded.Tiles) != len(tc.pkt.Tiles) {
				t.Fatalf("Tile count mismatch: got %d, want %d", len(decoded.Tiles), len(tc.pkt.Tiles))
			}
			for i, tile := range decoded.Tiles {
				want := tc.pkt.Tiles[i]
				if tile.X != want.X || tile.Y != want.Y || tile.Scheme != want.Scheme || !bytes.Equal(tile.Data, want.Data) {
					t.Errorf("Tile %d mismatch: got %+v, want %+v", i, tile, want)
				}
			}
		})
	}
}

// TestDecodeRejectsMalformed verifies that anything off-schema is refused
// with ErrMalformed rather than partially accepted.
func TestDecodeRejectsMalformed(t *testing.T) {
	valid := mustEncode(t, protocol.TileBatch(9, 7, []protocol.Tile{
		{X: 32, Y: 32, Scheme: protocol.SchemeLZ4, Data: []byte{1, 2, 3}},
	}))

	mutate := func(fn func([]byte) []byte) []byte {
		c := append([]byte(nil), valid...)
		return fn(c)
	}

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"header only prefix", valid[:3]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 0; return b })},
		{"bad version", mutate(func(b []byte) []byte { b[2] = 9; return b })},
		{"unknown kind", mutate(func(b []byte) []byte { b[3] = 0x7F; return b })},
		{"truncated", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0)},
		{"misaligned tile", mutate(func(b []byte) []byte { b[protocol.BatchOverhead+1] = 33; return b })},
		{"unknown scheme", mutate(func(b []byte) []byte { b[protocol.BatchOverhead+4] = 9; return b })},
		{"zero tiles", mutate(func(b []byte) []byte {
			b[protocol.BatchOverhead-2], b[protocol.BatchOverhead-1] = 0, 0
			return b[:protocol.BatchOverhead]
		})},
		{"raw tile wrong size", mustEncode(t, protocol.TileBatch(9, 1, []protocol.Tile{
			{X: 0, Y: 0, Scheme: protocol.SchemeRaw, Data: []byte{1}},
		}))},
		{"oversized datagram", make([]byte, protocol.MaxDatagram+1)},
		{"random text", []byte("hello, is anyone listening on this port?")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := protocol.Decode(tc.data)
			if err == nil {
				t.Fatalf("Expected error, got packet %+v", pkt)
			}
			if !errors.Is(err, protocol.ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

// TestEncodeRejectsInvalid covers packets that must never reach the wire.
func TestEncodeRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *protocol.Packet
	}{
		{"empty hostname", protocol.Announce("")},
		{"long hostname", protocol.Announce(string(bytes.Repeat([]byte("h"), protocol.MaxHostname+1)))},
		{"empty batch", protocol.TileBatch(9, 1, nil)},
		{"unknown kind", &protocol.Packet{Kind: 0x55}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := protocol.Encode(tc.pkt); err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}

// TestDecodeDoesNotAlias verifies tile data is copied out of the receive buffer.
func TestDecodeDoesNotAlias(t *testing.T) {
	encoded := mustEncode(t, protocol.TileBatch(9, 3, []protocol.Tile{
		{X: 0, Y: 0, Scheme: protocol.SchemeLZ4, Data: []byte("original")},
	}))

	decoded, err := protocol.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	for i := range encoded {
		encoded[i] = 0xFF
	}

	if !bytes.Equal(decoded.Tiles[0].Data, []byte("original")) {
		t.Errorf("Tile data was aliased: got %q", decoded.Tiles[0].Data)
	}
}

// TestMaxTilePayloadFillsDatagram checks the derived budget constants.
func TestMaxTilePayloadFillsDatagram(t *testing.T) {
	pkt := protocol.TileBatch(9, 1, []protocol.Tile{
		{X: 0, Y: 0, Scheme: protocol.SchemeJPEG, Data: make([]byte, protocol.MaxTilePayload)},
	})
	if got := protocol.Size(pkt); got != protocol.MaxDatagram {
		t.Fatalf("Expected a max-size tile to fill the datagram exactly, got %d bytes", got)
	}
	if _, err := protocol.Decode(mustEncode(t, pkt)); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
}

// TestFrameHeaderLayout pins the session and frame id positions both frame
// kinds share.
func TestFrameHeaderLayout(t *testing.T) {
	begin := mustEncode(t, protocol.FrameBegin(0x01020304, 0x0A0B0C0D))
	want := []byte{0xC7, 0x1A, 1, byte(protocol.KindFrameBegin), 1, 2, 3, 4, 0x0A, 0x0B, 0x0C, 0x0D}
	if !bytes.Equal(begin, want) {
		t.Fatalf("FrameBegin = % x, want % x", begin, want)
	}

	batch := mustEncode(t, protocol.TileBatch(0x01020304, 0x0A0B0C0D, []protocol.Tile{
		{X: 0, Y: 0, Scheme: protocol.SchemeLZ4, Data: []byte{1}},
	}))
	if !bytes.Equal(batch[protocol.HeaderSize:protocol.HeaderSize+8], want[protocol.HeaderSize:]) {
		t.Fatalf("TileBatch header = % x", batch[:protocol.BatchOverhead])
	}
}
