package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hoangnecon/CrystalLink/internal/frame"
	"github.com/hoangnecon/CrystalLink/internal/util"
)

// File serves a still PNG or JPEG image and reloads it whenever the file
// changes on disk. The image is drawn at the origin of a fixed-size frame;
// anything larger is cropped and uncovered pixels stay black.
type File struct {
	path    string
	width   int
	height  int
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	pix []byte
}

// NewFile loads path and starts watching it. Run must be called to process
// reloads.
func NewFile(path string, width, height int) (*File, error) {
	f := &File{path: filepath.Clean(path), width: width, height: height}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	// Watch the directory: editors often replace files instead of writing
	// them in place, which would orphan a watch on the file itself.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	f.watcher = watcher
	return f, nil
}

func (f *File) Size() (int, int) { return f.width, f.height }

// Capture copies the most recently loaded image into dst.
func (f *File) Capture(dst *frame.Buffer) error {
	if dst.Width != f.width || dst.Height != f.height {
		return fmt.Errorf("source is %dx%d, destination is %dx%d", f.width, f.height, dst.Width, dst.Height)
	}
	f.mu.RLock()
	copy(dst.Pix, f.pix)
	f.mu.RUnlock()
	return nil
}

// Run processes file events until ctx is cancelled. A failed reload keeps
// serving the previous image.
func (f *File) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := f.reload(); err != nil {
					util.LogWarning("reload %s: %v", f.path, err)
					continue
				}
				util.LogInfo("reloaded %s", f.path)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			util.LogWarning("watcher: %v", err)

		case <-ctx.Done():
			return
		}
	}
}

// Close stops watching.
func (f *File) Close() error {
	return f.watcher.Close()
}

func (f *File) reload() error {
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer fh.Close()

	img, _, err := image.Decode(fh)
	if err != nil {
		return fmt.Errorf("decode %s: %w", f.path, err)
	}

	buf, err := frame.NewBuffer(f.width, f.height)
	if err != nil {
		return err
	}
	buf.Fill(0, 0, 0, 0xff)
	dst := buf.RGBA()
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Over)

	f.mu.Lock()
	f.pix = buf.Pix
	f.mu.Unlock()
	return nil
}
