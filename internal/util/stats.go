package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide health counter set. Every field is cumulative
// since process start.
var Stats = &stats{}

type stats struct {
	BytesSent   atomic.Int64 // datagram bytes handed to the socket
	BytesRecv   atomic.Int64 // datagram bytes read from the socket
	PacketsSent atomic.Int64
	PacketsRecv atomic.Int64

	Malformed     atomic.Int64 // inbound datagrams that failed schema validation
	SendDropped   atomic.Int64 // outbound datagrams dropped by a full queue or write error
	TilesSent     atomic.Int64
	TilesOversize atomic.Int64 // encoded tiles too large for any batch
	TilesApplied  atomic.Int64
	TilesStale    atomic.Int64 // tiles discarded behind the staleness window
	DecodeFailed  atomic.Int64 // tiles whose payload did not decode
	Frames        atomic.Int64 // frames emitted (sender) or begun (receiver)

	Locks    atomic.Int64 // Searching -> Locked transitions
	Timeouts atomic.Int64 // Locked -> Searching transitions
}

func (s *stats) AddSent(n int) {
	s.BytesSent.Add(int64(n))
	s.PacketsSent.Add(1)
}

func (s *stats) AddRecv(n int) {
	s.BytesRecv.Add(int64(n))
	s.PacketsRecv.Add(1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs stream statistics every
// 10 seconds while there is traffic. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if line, ok := formatStats(prev, cur, reportInterval.Seconds()); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, frames, tiles, loss int64
}

func takeSnapshot() snapshot {
	return snapshot{
		sent:   Stats.BytesSent.Load(),
		recv:   Stats.BytesRecv.Load(),
		frames: Stats.Frames.Load(),
		tiles:  Stats.TilesSent.Load() + Stats.TilesApplied.Load(),
		loss:   Stats.Malformed.Load() + Stats.SendDropped.Load() + Stats.TilesStale.Load() + Stats.DecodeFailed.Load(),
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the delta between two snapshots. ok is false when
// nothing moved, so an idle session stays quiet.
func formatStats(prev, cur snapshot, secs float64) (line string, ok bool) {
	out := float64(cur.sent-prev.sent) / secs
	in := float64(cur.recv-prev.recv) / secs
	if out <= 10 && in <= 10 {
		return "", false
	}
	return fmt.Sprintf("In: %s/s | Out: %s/s | %5.1f fps | %6d tiles | %d lost",
		formatBytes(in),
		formatBytes(out),
		float64(cur.frames-prev.frames)/secs,
		cur.tiles-prev.tiles,
		cur.loss-prev.loss,
	), true
}
