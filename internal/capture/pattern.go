package capture

import (
	"fmt"
	"sync"

	"github.com/hoangnecon/CrystalLink/internal/frame"
)

const (
	barWidth   = 48
	barStep    = 8 // pixels per frame
	cursorStep = 3 // pointer pixels per frame
)

// Pattern is a synthetic source: a static gradient with a vertical bar
// sweeping across it and a pointer bouncing around the frame. Only the
// columns the bar leaves and enters change between frames, which makes it a
// good diff workload.
type Pattern struct {
	width, height int
	background    []byte

	mu     sync.Mutex
	tick   int
	cx, cy int
	dx, dy int
}

// NewPattern returns a Pattern of the given size.
func NewPattern(width, height int) (*Pattern, error) {
	bg, err := frame.NewBuffer(width, height)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := y*bg.Stride() + x*4
			bg.Pix[off+0] = byte(x * 255 / width)
			bg.Pix[off+1] = byte(y * 255 / height)
			bg.Pix[off+2] = 0x60
			bg.Pix[off+3] = 0xff
		}
	}
	return &Pattern{
		width:      width,
		height:     height,
		background: bg.Pix,
		dx:         cursorStep,
		dy:         cursorStep,
	}, nil
}

func (p *Pattern) Size() (int, int) { return p.width, p.height }

// Capture renders the next frame.
func (p *Pattern) Capture(dst *frame.Buffer) error {
	if dst.Width != p.width || dst.Height != p.height {
		return fmt.Errorf("pattern is %dx%d, destination is %dx%d", p.width, p.height, dst.Width, dst.Height)
	}

	p.mu.Lock()
	tick := p.tick
	p.tick++
	p.moveCursor()
	p.mu.Unlock()

	copy(dst.Pix, p.background)

	span := p.width + barWidth
	x0 := (tick*barStep)%span - barWidth
	stride := dst.Stride()
	for y := 0; y < p.height; y++ {
		for x := max(x0, 0); x < min(x0+barWidth, p.width); x++ {
			off := y*stride + x*4
			dst.Pix[off+0], dst.Pix[off+1], dst.Pix[off+2], dst.Pix[off+3] = 0xf0, 0xf0, 0xf0, 0xff
		}
	}
	return nil
}

// Cursor reports the pointer position of the last captured frame.
func (p *Pattern) Cursor() (int, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cx, p.cy, true
}

func (p *Pattern) moveCursor() {
	p.cx += p.dx
	p.cy += p.dy
	if p.cx < 0 || p.cx >= p.width {
		p.dx = -p.dx
		p.cx = min(max(p.cx, 0), p.width-1)
	}
	if p.cy < 0 || p.cy >= p.height {
		p.dy = -p.dy
		p.cy = min(max(p.cy, 0), p.height-1)
	}
}
