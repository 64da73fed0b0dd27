// Package present hands reconstructed frames to whatever displays them.
// Window-system surfaces live outside this module; the presenters here
// write image files and serve the latest frame over HTTP.
package present

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/reassembly"
)

// Presenter consumes composited frames. The image is only valid for the
// duration of the call.
type Presenter interface {
	Present(img *image.RGBA) error
}

// Multi fans a frame out to several presenters and joins their errors.
type Multi []Presenter

func (m Multi) Present(img *image.RGBA) error {
	var errs []error
	for _, p := range m {
		if err := p.Present(img); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cursorArm is the half length of the crosshair drawn for the pointer.
const cursorArm = 6

// Composite draws the cursor overlay into fb, which must be a copy of the
// framebuffer rather than the reassembler's own pixels.
func Composite(fb *frame.Buffer, c reassembly.Cursor) {
	if !c.Visible {
		return
	}
	// Black outline first, white core on top, so the pointer shows on any
	// background.
	for d := -cursorArm - 1; d <= cursorArm+1; d++ {
		for w := -1; w <= 1; w++ {
			plot(fb, c.X+d, c.Y+w, 0x00)
			plot(fb, c.X+w, c.Y+d, 0x00)
		}
	}
	for d := -cursorArm; d <= cursorArm; d++ {
		plot(fb, c.X+d, c.Y, 0xff)
		plot(fb, c.X, c.Y+d, 0xff)
	}
}

func plot(fb *frame.Buffer, x, y int, v byte) {
	if x < 0 || y < 0 || x >= fb.Width || y >= fb.Height {
		return
	}
	off := y*fb.Stride() + x*4
	fb.Pix[off], fb.Pix[off+1], fb.Pix[off+2], fb.Pix[off+3] = v, v, v, 0xff
}

var pngEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

// PNGFile rewrites one PNG file per frame. Each write goes to a temporary
// file that is renamed over the target, so readers never see a torn image.
type PNGFile struct {
	Path string
	buf  bytes.Buffer
}

func (p *PNGFile) Present(img *image.RGBA) error {
	p.buf.Reset()
	if err := pngEncoder.Encode(&p.buf, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.Path), ".crystallink-*.png")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(p.buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p.Path)
}

// Latest keeps a copy of the most recent frame for on-demand readers such
// as the monitor's /frame.png.
type Latest struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func (l *Latest) Present(img *image.RGBA) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.img == nil || l.img.Rect != img.Rect {
		l.img = image.NewRGBA(img.Rect)
	}
	copy(l.img.Pix, img.Pix)
	return nil
}

// WritePNG encodes the latest frame to w. It reports false when no frame
// has been presented yet.
func (l *Latest) WritePNG(w io.Writer) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.img == nil {
		return false, nil
	}
	return true, pngEncoder.Encode(w, l.img)
}
