package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/asheshgoplani/panedeck/internal/host"
)

const (
	// defaultPollInterval is the buffer re-scan cadence.
	defaultPollInterval = 200 * time.Millisecond

	// stableTicksHint is how many unchanged snapshots in a row suggest the
	// command is sitting in an interactive program rather than producing
	// output. Logged as a hint; not part of the exit policy.
	stableTicksHint = 25
)

// BufferPoller watches by serializing the pane's full buffer on a fixed
// interval and re-scanning it for the marker pair. It needs nothing from the
// pane beyond Snapshot, so it works against any host.
type BufferPoller struct {
	// Interval overrides the poll cadence. Zero means the default.
	Interval time.Duration
}

// Watch implements Watcher.
func (b *BufferPoller) Watch(ctx context.Context, pane host.Pane, req Request) Result {
	interval := b.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	re := endPattern(req.EndMarker)
	deadline := time.NewTimer(req.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLen, stableTicks int
	for {
		select {
		case <-ctx.Done():
			return abortedResult()

		case <-deadline.C:
			text, err := pane.Snapshot()
			if err != nil {
				text = ""
			}
			return timeoutResult(normalize(text), req)

		case <-ticker.C:
			if req.aborted() {
				return abortedResult()
			}
			if !pane.Connected() {
				return disconnectedResult()
			}

			text, err := pane.Snapshot()
			if err != nil {
				// Serialization failures read as an empty buffer.
				text = ""
			}
			text = normalize(text)

			if res, ok := tryExtract(text, req, re); ok {
				return res
			}

			// Buffer-length stability: a long-unchanged buffer usually
			// means an interactive command is waiting for keystrokes.
			if len(text) == lastLen {
				stableTicks++
				if stableTicks == stableTicksHint {
					capLog.Debug("buffer_stable",
						slog.String("end_marker", req.EndMarker),
						slog.Int("ticks", stableTicks))
				}
			} else {
				stableTicks = 0
				lastLen = len(text)
			}
		}
	}
}
