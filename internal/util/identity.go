package util

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hoangnecon/CrystalLink/internal/protocol"
)

// Hostname returns the name this process announces itself with. When the
// OS hostname is unavailable a random "crystal-xxxxxxxx" name is used so
// peers can still tell instances apart in logs.
func Hostname() string {
	name, err := os.Hostname()
	name = strings.TrimSpace(name)
	if err != nil || name == "" {
		return "crystal-" + uuid.NewString()[:8]
	}
	if len(name) > protocol.MaxHostname {
		name = name[:protocol.MaxHostname]
		for !utf8.ValidString(name) {
			name = name[:len(name)-1]
		}
	}
	return name
}

// SessionID returns a random stream id. Receivers restart their frame
// watermark whenever it changes, so each sender run must pick a fresh one.
func SessionID() uint32 {
	return uuid.New().ID()
}
