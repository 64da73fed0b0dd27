// Package batch packs encoded tiles into datagram-sized TileBatch packets
// without ever splitting a tile across two datagrams.
package batch

import (
	"errors"
	"fmt"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

// ErrTileTooLarge is wrapped by TooLargeError.
var ErrTileTooLarge = errors.New("tile exceeds payload budget")

// TooLargeError reports a tile that cannot fit a batch on its own.
type TooLargeError struct {
	X, Y   uint16
	Size   int // serialized envelope + tile size
	Budget int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("tile (%d,%d) needs %d bytes, budget is %d", e.X, e.Y, e.Size, e.Budget)
}

func (e *TooLargeError) Unwrap() error { return ErrTileTooLarge }

// Batcher greedily packs tiles in order. It holds no per-frame state and is
// safe for concurrent use.
type Batcher struct {
	budget int
}

// New returns a Batcher whose batches never serialize to more than budget
// bytes. Zero selects protocol.MaxDatagram.
func New(budget int) (*Batcher, error) {
	if budget == 0 {
		budget = protocol.MaxDatagram
	}
	if budget > protocol.MaxDatagram {
		return nil, fmt.Errorf("budget %d exceeds datagram limit %d", budget, protocol.MaxDatagram)
	}
	if budget < protocol.BatchOverhead+protocol.TileOverhead+1 {
		return nil, fmt.Errorf("budget %d cannot hold a single tile", budget)
	}
	return &Batcher{budget: budget}, nil
}

// Budget is the maximum serialized size of one batch.
func (b *Batcher) Budget() int {
	return b.budget
}

// Pack splits tiles into TileBatch packets carrying session and frameID. The running
// size is the projected serialized size (envelope plus every tile prefix),
// not the sum of payload lengths. Tiles that cannot fit even alone are
// returned in dropped and described by the joined error; every other tile
// lands in exactly one batch, and no batch is empty.
func (b *Batcher) Pack(session, frameID uint32, tiles []protocol.Tile) (batches []*protocol.Packet, dropped []protocol.Tile, err error) {
	var (
		errs    []error
		current []protocol.Tile
		size    = protocol.BatchOverhead
	)

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, protocol.TileBatch(session, frameID, current))
			current = nil
			size = protocol.BatchOverhead
		}
	}

	for _, t := range tiles {
		ts := protocol.TileSize(t)
		if protocol.BatchOverhead+ts > b.budget {
			dropped = append(dropped, t)
			errs = append(errs, &TooLargeError{X: t.X, Y: t.Y, Size: protocol.BatchOverhead + ts, Budget: b.budget})
			continue
		}
		if size+ts > b.budget || len(current) == maxTilesPerBatch {
			flush()
		}
		current = append(current, t)
		size += ts
	}
	flush()

	return batches, dropped, errors.Join(errs...)
}

// maxTilesPerBatch is the count field's limit; unreachable with real
// budgets but keeps the encoder's invariant explicit.
const maxTilesPerBatch = 1<<16 - 1
