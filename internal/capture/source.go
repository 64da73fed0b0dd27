// Package capture provides frame sources for the sender. OS screen capture
// is platform specific and lives outside this module; these sources cover
// test patterns and still images.
package capture

import "github.com/hoangnecon/CrystalLink/internal/frame"

// Source delivers fixed-resolution RGBA frames on demand.
type Source interface {
	// Size is the constant frame resolution.
	Size() (width, height int)
	// Capture writes the current frame into dst, which has Size.
	Capture(dst *frame.Buffer) error
}

// CursorSource is implemented by sources that know where the pointer is.
type CursorSource interface {
	Cursor() (x, y int, ok bool)
}

// Closer is implemented by sources that hold resources.
type Closer interface {
	Close() error
}
