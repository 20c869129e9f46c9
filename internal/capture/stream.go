package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asheshgoplani/panedeck/internal/host"
)

// defaultHealthInterval is the cadence of the disconnect/abort check that
// runs independently of stream traffic. A dead session produces no chunks,
// so without it a disconnect would only surface at the full timeout.
const defaultHealthInterval = 500 * time.Millisecond

// StreamCapture watches by subscribing to the pane's raw output stream and
// scanning the growing accumulator after every chunk. Requires a pane whose
// Subscribe replays output buffered across the attach window, since the
// wrapped command is written before the watch starts.
type StreamCapture struct {
	// HealthInterval overrides the health-check cadence. Zero means the
	// default.
	HealthInterval time.Duration
}

// Watch implements Watcher. The subscription is released exactly once on
// every exit path.
func (s *StreamCapture) Watch(ctx context.Context, pane host.Pane, req Request) Result {
	ch, cancel, err := pane.Subscribe()
	if err != nil {
		return Result{Error: fmt.Sprintf("Stream capture failed: %v", err)}
	}
	var once sync.Once
	unsubscribe := func() { once.Do(cancel) }
	defer unsubscribe()

	health := s.HealthInterval
	if health <= 0 {
		health = defaultHealthInterval
	}

	re := endPattern(req.EndMarker)
	deadline := time.NewTimer(req.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(health)
	defer ticker.Stop()

	var acc strings.Builder
	for {
		select {
		case <-ctx.Done():
			return abortedResult()

		case <-deadline.C:
			return timeoutResult(acc.String(), req)

		case <-ticker.C:
			if req.aborted() {
				return abortedResult()
			}
			if !pane.Connected() {
				return disconnectedResult()
			}

		case chunk, ok := <-ch:
			if !ok {
				// Stream closed under us: the pane went away.
				return disconnectedResult()
			}
			acc.WriteString(normalize(chunk))
			if req.aborted() {
				return abortedResult()
			}
			if res, found := tryExtract(acc.String(), req, re); found {
				return res
			}
		}
	}
}
