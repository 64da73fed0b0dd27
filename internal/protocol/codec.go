package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed packet")

// Encode serializes a Packet into a single datagram.
func Encode(pkt *Packet) ([]byte, error) {
	buf := make([]byte, HeaderSize, Size(pkt))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(pkt.Kind)

	switch pkt.Kind {
	case KindAnnounce:
		if len(pkt.Hostname) == 0 || len(pkt.Hostname) > MaxHostname {
			return nil, fmt.Errorf("hostname length %d out of range 1~%d", len(pkt.Hostname), MaxHostname)
		}
		buf = append(buf, byte(len(pkt.Hostname)))
		buf = append(buf, pkt.Hostname...)

	case KindFrameBegin:
		buf = binary.BigEndian.AppendUint32(buf, pkt.Session)
		buf = binary.BigEndian.AppendUint32(buf, pkt.FrameID)

	case KindTileBatch:
		if len(pkt.Tiles) == 0 {
			return nil, errors.New("tile batch is empty")
		}
		if len(pkt.Tiles) > math.MaxUint16 {
			return nil, fmt.Errorf("tile batch holds %d tiles", len(pkt.Tiles))
		}
		buf = binary.BigEndian.AppendUint32(buf, pkt.Session)
		buf = binary.BigEndian.AppendUint32(buf, pkt.FrameID)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(pkt.Tiles)))
		for _, t := range pkt.Tiles {
			if len(t.Data) > math.MaxUint16 {
				return nil, fmt.Errorf("tile (%d,%d) data is %d bytes", t.X, t.Y, len(t.Data))
			}
			buf = binary.BigEndian.AppendUint16(buf, t.X)
			buf = binary.BigEndian.AppendUint16(buf, t.Y)
			buf = append(buf, byte(t.Scheme))
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(t.Data)))
			buf = append(buf, t.Data...)
		}

	case KindCursor:
		buf = binary.BigEndian.AppendUint16(buf, pkt.X)
		buf = binary.BigEndian.AppendUint16(buf, pkt.Y)

	default:
		return nil, fmt.Errorf("cannot encode %s", pkt.Kind)
	}

	return buf, nil
}

// Decode parses and validates a datagram. Anything that does not match the
// schema exactly (including trailing bytes) is rejected with ErrMalformed.
func Decode(data []byte) (*Packet, error) {
	if len(data) > MaxDatagram {
		return nil, fmt.Errorf("%w: %d bytes exceeds datagram limit %d", ErrMalformed, len(data), MaxDatagram)
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: too short: %d bytes (need at least %d)", ErrMalformed, len(data), HeaderSize)
	}
	if m := binary.BigEndian.Uint16(data[0:2]); m != Magic {
		return nil, fmt.Errorf("%w: bad magic %#04x", ErrMalformed, m)
	}
	if data[2] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, data[2])
	}

	r := reader{buf: data[HeaderSize:]}
	pkt := &Packet{Kind: Kind(data[3])}

	switch pkt.Kind {
	case KindAnnounce:
		n := int(r.u8())
		host := r.bytes(n)
		if r.err == nil && (n == 0 || !utf8.Valid(host)) {
			return nil, fmt.Errorf("%w: invalid hostname", ErrMalformed)
		}
		pkt.Hostname = string(host)

	case KindFrameBegin:
		pkt.Session = r.u32()
		pkt.FrameID = r.u32()

	case KindTileBatch:
		pkt.Session = r.u32()
		pkt.FrameID = r.u32()
		count := int(r.u16())
		if r.err == nil && count == 0 {
			return nil, fmt.Errorf("%w: empty tile batch", ErrMalformed)
		}
		pkt.Tiles = make([]Tile, 0, count)
		for i := 0; i < count && r.err == nil; i++ {
			t := Tile{X: r.u16(), Y: r.u16(), Scheme: Scheme(r.u8())}
			t.Data = r.bytes(int(r.u16()))
			if r.err != nil {
				break
			}
			if err := validateTile(t); err != nil {
				return nil, err
			}
			pkt.Tiles = append(pkt.Tiles, t)
		}

	case KindCursor:
		pkt.X = r.u16()
		pkt.Y = r.u16()

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, data[3])
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %s truncated", ErrMalformed, pkt.Kind)
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformed, len(r.buf), pkt.Kind)
	}
	return pkt, nil
}

func validateTile(t Tile) error {
	if t.X%TileEdge != 0 || t.Y%TileEdge != 0 {
		return fmt.Errorf("%w: tile (%d,%d) not aligned to %d", ErrMalformed, t.X, t.Y, TileEdge)
	}
	if !t.Scheme.Valid() {
		return fmt.Errorf("%w: tile (%d,%d) has unknown scheme %d", ErrMalformed, t.X, t.Y, uint8(t.Scheme))
	}
	if len(t.Data) == 0 {
		return fmt.Errorf("%w: tile (%d,%d) has no data", ErrMalformed, t.X, t.Y)
	}
	if t.Scheme == SchemeRaw && len(t.Data) != TileBytes {
		return fmt.Errorf("%w: raw tile (%d,%d) is %d bytes", ErrMalformed, t.X, t.Y, len(t.Data))
	}
	return nil
}

// reader consumes big-endian fields and latches the first short read.
type reader struct {
	buf []byte
	err error
}

var errShort = errors.New("short buffer")

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf) {
		r.err = errShort
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// bytes returns a copy so decoded packets never alias the receive buffer.
func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
