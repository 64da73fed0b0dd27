package tilecodec

import "encoding/binary"

// Class is the content category that drives scheme selection.
type Class uint8

const (
	// Synthetic content (text, UI chrome, flat fills) must be reproduced exactly.
	Synthetic Class = iota
	// Photographic content (photos, video, gradients) tolerates bounded loss.
	Photographic
)

func (c Class) String() string {
	if c == Photographic {
		return "photographic"
	}
	return "synthetic"
}

// DefaultColorThreshold is the distinct colour count above which a tile is
// considered for lossy coding.
const DefaultColorThreshold = 64

// A tile whose horizontally adjacent pixels are identical at least half the
// time is synthetic regardless of its colour count.
const (
	pairsPerTile = edge * (edge - 1)
	minFlatPairs = pairsPerTile / 2
)

// classifier keeps a reusable colour set so classification does not
// allocate per tile.
type classifier struct {
	threshold int
	seen      map[uint32]struct{}
}

func newClassifier(threshold int) *classifier {
	if threshold <= 0 {
		threshold = DefaultColorThreshold
	}
	return &classifier{threshold: threshold, seen: make(map[uint32]struct{}, threshold+1)}
}

// classify combines colour cardinality with a flat-run measure of high
// frequency energy. Low-cardinality tiles are synthetic outright; high
// cardinality tiles are still synthetic when most neighbours are identical
// (anti-aliased text on a flat background), otherwise photographic.
func (c *classifier) classify(pix []byte) Class {
	if c.distinctAtMost(pix) {
		return Synthetic
	}
	if flatRuns(pix) >= minFlatPairs {
		return Synthetic
	}
	return Photographic
}

// distinctAtMost reports whether pix holds no more than threshold colours,
// stopping as soon as the threshold is exceeded.
func (c *classifier) distinctAtMost(pix []byte) bool {
	clear(c.seen)
	for i := 0; i+channels <= len(pix); i += channels {
		c.seen[binary.LittleEndian.Uint32(pix[i:])] = struct{}{}
		if len(c.seen) > c.threshold {
			return false
		}
	}
	return true
}

// flatRuns counts horizontally adjacent pixel pairs with identical colour.
func flatRuns(pix []byte) int {
	n := 0
	for row := 0; row < edge; row++ {
		base := row * edge * channels
		for col := 1; col < edge; col++ {
			a := base + (col-1)*channels
			b := a + channels
			if binary.LittleEndian.Uint32(pix[a:]) == binary.LittleEndian.Uint32(pix[b:]) {
				n++
			}
		}
	}
	return n
}
