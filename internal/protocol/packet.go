// Package protocol defines the CrystalLink wire format: a tagged union of
// datagram packets carrying peer announcements, frame markers, tile batches
// and cursor positions.
package protocol

import "fmt"

// Frame geometry shared by both ends of a session.
const (
	TileEdge  = 32                             // tile width and height in pixels
	Channels  = 4                              // RGBA, one byte per channel
	TileBytes = TileEdge * TileEdge * Channels // raw tile payload size
)

// MaxDatagram is the largest datagram either side emits or accepts.
const MaxDatagram = 1400

// Envelope layout: Magic(2) + Version(1) + Kind(1).
const (
	Magic      uint16 = 0xC71A
	Version    uint8  = 1
	HeaderSize        = 4
)

// Fixed overheads used when projecting serialized sizes.
const (
	// BatchOverhead is the TileBatch envelope: header + Session(4) +
	// FrameID(4) + Count(2).
	BatchOverhead = HeaderSize + 4 + 4 + 2
	// TileOverhead is the per-tile prefix: X(2) + Y(2) + Scheme(1) + Length(2).
	TileOverhead = 7
	// MaxTilePayload is the largest tile data that fits a batch on its own.
	MaxTilePayload = MaxDatagram - BatchOverhead - TileOverhead
	// MaxHostname bounds the PeerAnnounce hostname (one length byte).
	MaxHostname = 255
)

// Kind is the packet discriminant.
type Kind uint8

const (
	KindAnnounce   Kind = 0x01 // PeerAnnounce{hostname}
	KindFrameBegin Kind = 0x02 // FrameBegin{session, frame_id}
	KindTileBatch  Kind = 0x03 // TileBatch{session, frame_id, tiles}
	KindCursor     Kind = 0x04 // CursorUpdate{x, y}
)

func (k Kind) String() string {
	switch k {
	case KindAnnounce:
		return "PeerAnnounce"
	case KindFrameBegin:
		return "FrameBegin"
	case KindTileBatch:
		return "TileBatch"
	case KindCursor:
		return "CursorUpdate"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Scheme tags how a tile's Data is compressed. Receivers dispatch decode
// strictly on this value.
type Scheme uint8

const (
	SchemeRaw  Scheme = 0 // TileBytes of RGBA, uncompressed
	SchemeLZ4  Scheme = 1 // LZ4 block that expands to TileBytes
	SchemeJPEG Scheme = 2 // baseline JPEG of a TileEdge x TileEdge image
)

// Valid reports whether s is a known scheme.
func (s Scheme) Valid() bool {
	return s <= SchemeJPEG
}

func (s Scheme) String() string {
	switch s {
	case SchemeRaw:
		return "raw"
	case SchemeLZ4:
		return "lz4"
	case SchemeJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
}

// Tile is one encoded grid cell. X and Y are pixel coordinates of the
// tile's top-left corner and are always multiples of TileEdge.
type Tile struct {
	X      uint16
	Y      uint16
	Scheme Scheme
	Data   []byte
}

// Packet is the tagged union carried in a single datagram. Only the fields
// relevant to Kind are meaningful.
//
// Session is a random id picked once per sender run. Frame ids are only
// ordered within one session, so a restarted sender is recognised from any
// of its frame datagrams.
type Packet struct {
	Kind Kind

	Hostname string // KindAnnounce
	Session  uint32 // KindFrameBegin, KindTileBatch
	FrameID  uint32 // KindFrameBegin, KindTileBatch
	Tiles    []Tile // KindTileBatch
	X, Y     uint16 // KindCursor
}

// Announce builds a PeerAnnounce packet.
func Announce(hostname string) *Packet {
	return &Packet{Kind: KindAnnounce, Hostname: hostname}
}

// FrameBegin builds a FrameBegin packet.
func FrameBegin(session, frameID uint32) *Packet {
	return &Packet{Kind: KindFrameBegin, Session: session, FrameID: frameID}
}

// TileBatch builds a TileBatch packet.
func TileBatch(session, frameID uint32, tiles []Tile) *Packet {
	return &Packet{Kind: KindTileBatch, Session: session, FrameID: frameID, Tiles: tiles}
}

// Cursor builds a CursorUpdate packet.
func Cursor(x, y uint16) *Packet {
	return &Packet{Kind: KindCursor, X: x, Y: y}
}

// TileSize returns the serialized size of t inside a batch.
func TileSize(t Tile) int {
	return TileOverhead + len(t.Data)
}

// Size returns the exact serialized size of pkt without encoding it.
func Size(pkt *Packet) int {
	switch pkt.Kind {
	case KindAnnounce:
		return HeaderSize + 1 + len(pkt.Hostname)
	case KindFrameBegin:
		return HeaderSize + 4 + 4
	case KindTileBatch:
		n := BatchOverhead
		for _, t := range pkt.Tiles {
			n += TileSize(t)
		}
		return n
	case KindCursor:
		return HeaderSize + 4
	default:
		return HeaderSize
	}
}
