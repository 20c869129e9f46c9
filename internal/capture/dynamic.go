package capture

import (
	"context"
	"sync"

	"github.com/asheshgoplani/panedeck/internal/host"
)

// Dynamic is a Watcher whose underlying strategy can be swapped at runtime,
// which is how config hot reload reaches capture. Watches already in flight
// keep the strategy they started with.
type Dynamic struct {
	mu sync.RWMutex
	w  Watcher
}

// NewDynamic wraps an initial strategy.
func NewDynamic(w Watcher) *Dynamic {
	return &Dynamic{w: w}
}

// Set replaces the strategy for future watches.
func (d *Dynamic) Set(w Watcher) {
	d.mu.Lock()
	d.w = w
	d.mu.Unlock()
}

// Watch implements Watcher.
func (d *Dynamic) Watch(ctx context.Context, pane host.Pane, req Request) Result {
	d.mu.RLock()
	w := d.w
	d.mu.RUnlock()
	return w.Watch(ctx, pane, req)
}
