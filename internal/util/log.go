// Package util provides logging, identity and process-wide health counters.
package util

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"golang.org/x/time/rate"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr (pterm's default).

func LogDebug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...any) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Throttle gates a noisy log line so a flood of bad input costs one line per
// interval. Suppressed calls are counted and reported with the next line
// that gets through.
type Throttle struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	suppressed int
}

// NewThrottle allows one line per interval with no burst.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Warn logs at warning level if the throttle allows it.
func (t *Throttle) Warn(format string, args ...any) {
	if !t.limiter.Allow() {
		t.mu.Lock()
		t.suppressed++
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	if n > 0 {
		msg = fmt.Sprintf("%s (%d similar suppressed)", msg, n)
	}
	pterm.DefaultLogger.Warn(msg)
}
