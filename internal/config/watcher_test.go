package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[capture]\nstrategy = \"poll\"\n"), 0600))

	var mu sync.Mutex
	var got []Config
	stop, err := Watch(path, func(cfg Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("[capture]\nstrategy = \"stream\"\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "stream", got[len(got)-1].Capture.Strategy)
}

func TestWatchSkipsInvalidIntermediateState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[capture]\nstrategy = \"poll\"\n"), 0600))

	var mu sync.Mutex
	var got []Config
	stop, err := Watch(path, func(cfg Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer stop()

	// A broken write must not reach onChange; the next good write does.
	require.NoError(t, os.WriteFile(path, []byte("strategy = "), 0600))
	time.Sleep(2 * debounceWindow)
	require.NoError(t, os.WriteFile(path, []byte("[capture]\nstrategy = \"stream\"\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, cfg := range got {
		assert.Equal(t, "stream", cfg.Capture.Strategy)
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[capture]\nstrategy = \"poll\"\n"), 0600))

	fired := make(chan struct{}, 1)
	stop, err := Watch(path, func(Config) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0600))

	select {
	case <-fired:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(3 * debounceWindow):
	}
}
