package capture

import "time"

// NewWatcher builds the watcher for a configured strategy name. Unknown
// strategies fall back to the buffer poller, which works against any pane.
func NewWatcher(strategy string, pollInterval, healthInterval time.Duration) Watcher {
	if strategy == "stream" {
		return &StreamCapture{HealthInterval: healthInterval}
	}
	return &BufferPoller{Interval: pollInterval}
}
