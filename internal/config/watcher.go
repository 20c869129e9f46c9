package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/panedeck/internal/logging"
)

var cfgLog = logging.ForComponent(logging.CompConfig)

// debounceWindow coalesces the burst of fsnotify events editors emit on
// save.
const debounceWindow = 200 * time.Millisecond

// Watch reloads the config file whenever it changes and hands the result to
// onChange. Invalid intermediate states (partial writes, syntax errors) are
// logged and skipped. The returned stop function releases the watcher.
func Watch(path string, onChange func(Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors rename-and-replace on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounceWindow)
					timerC = timer.C
				} else {
					timer.Reset(debounceWindow)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				cfg, err := Load(path)
				if err != nil {
					cfgLog.Warn("config_reload_failed", slog.String("error", err.Error()))
					continue
				}
				cfgLog.Info("config_reloaded", slog.String("path", path))
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cfgLog.Warn("config_watch_error", slog.String("error", err.Error()))
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return stop, nil
}
