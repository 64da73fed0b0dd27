package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoangnecon/CrystalLink/internal/frame"
)

func TestPatternMoves(t *testing.T) {
	p, err := NewPattern(160, 90)
	if err != nil {
		t.Fatalf("NewPattern: %v", err)
	}
	a, _ := frame.NewBuffer(160, 90)
	b, _ := frame.NewBuffer(160, 90)

	if err := p.Capture(a); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	x0, y0, _ := p.Cursor()
	if err := p.Capture(b); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	x1, y1, ok := p.Cursor()

	if bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("consecutive frames are identical")
	}
	if !ok || (x0 == x1 && y0 == y1) {
		t.Fatal("cursor did not move")
	}
	for i := 3; i < len(b.Pix); i += 4 {
		if b.Pix[i] != 0xff {
			t.Fatal("pattern is not opaque")
		}
	}

	wrong, _ := frame.NewBuffer(10, 10)
	if err := p.Capture(wrong); err == nil {
		t.Fatal("capture into a wrong-size buffer should fail")
	}
}

func TestPatternCursorStaysInFrame(t *testing.T) {
	p, _ := NewPattern(40, 30)
	buf, _ := frame.NewBuffer(40, 30)
	for i := 0; i < 500; i++ {
		p.Capture(buf)
		x, y, _ := p.Cursor()
		if x < 0 || y < 0 || x >= 40 || y >= 30 {
			t.Fatalf("cursor left the frame at (%d,%d)", x, y)
		}
	}
}

func writePNG(t *testing.T, path string, c color.RGBA, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], []byte{c.R, c.G, c.B, c.A})
	}
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(fh, img); err != nil {
		t.Fatal(err)
	}
	fh.Close()
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestFileLoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screen.png")
	writePNG(t, path, color.RGBA{200, 10, 10, 255}, 20, 20)

	f, err := NewFile(path, 32, 32)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	buf, _ := frame.NewBuffer(32, 32)
	f.Capture(buf)
	if got := buf.Pix[0:4]; !bytes.Equal(got, []byte{200, 10, 10, 255}) {
		t.Fatalf("pixel (0,0) = %v", got)
	}
	// Outside the 20x20 image the frame is opaque black.
	off := 25*buf.Stride() + 25*4
	if got := buf.Pix[off : off+4]; !bytes.Equal(got, []byte{0, 0, 0, 255}) {
		t.Fatalf("pixel (25,25) = %v", got)
	}

	writePNG(t, path, color.RGBA{10, 200, 10, 255}, 40, 40)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.Capture(buf)
		if bytes.Equal(buf.Pix[off:off+4], []byte{10, 200, 10, 255}) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("file change was not picked up")
}

func TestFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path, 32, 32); err == nil {
		t.Fatal("expected a decode error")
	}
}
