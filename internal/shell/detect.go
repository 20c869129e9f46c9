// Package shell classifies the interactive shell attached to a pane and
// builds dialect-specific wrapped command lines. Dialect matters twice: exit
// status syntax ($? vs fish's $status) and the escaping that keeps a
// malformed user command from swallowing the end marker.
package shell

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/panedeck/internal/host"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

var shellLog = logging.ForComponent(logging.CompShell)

// Type is a shell dialect.
type Type string

const (
	// TypeSh is the safe POSIX subset used when nothing better is known.
	TypeSh   Type = "sh"
	TypeBash Type = "bash"
	TypeZsh  Type = "zsh"
	TypeFish Type = "fish"
)

// bufferScanLines bounds how much recent buffer text the signature scan
// looks at.
const bufferScanLines = 50

// Detector classifies a session's shell. Positive identifications are cached
// per session id; the sh fallback is not, so a later banner or title change
// can still upgrade the answer.
type Detector struct {
	mu    sync.Mutex
	cache map[string]Type
	sf    singleflight.Group
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{cache: make(map[string]Type)}
}

// Detect runs the detection cascade: cache, buffer signatures, profile
// command, pane title, then the sh fallback. Concurrent detections for the
// same session collapse into one pass.
func (d *Detector) Detect(sessionID string, pane host.Pane) Type {
	d.mu.Lock()
	if t, ok := d.cache[sessionID]; ok {
		d.mu.Unlock()
		return t
	}
	d.mu.Unlock()

	v, _, _ := d.sf.Do(sessionID, func() (interface{}, error) {
		return d.detect(sessionID, pane), nil
	})
	return v.(Type)
}

// Forget drops the cached dialect for a session. Used when a pane is known to
// have restarted its shell.
func (d *Detector) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.cache, sessionID)
	d.mu.Unlock()
}

func (d *Detector) detect(sessionID string, pane host.Pane) Type {
	if t, ok := d.scanBuffer(pane); ok {
		d.store(sessionID, t, "buffer")
		return t
	}
	if t, ok := classify(pane.Profile().Command); ok {
		d.store(sessionID, t, "profile")
		return t
	}
	if t, ok := classify(pane.Title()); ok {
		d.store(sessionID, t, "title")
		return t
	}
	// Unknown is never cached so the next command re-detects.
	return TypeSh
}

func (d *Detector) store(sessionID string, t Type, source string) {
	d.mu.Lock()
	d.cache[sessionID] = t
	d.mu.Unlock()
	shellLog.Debug("dialect_detected",
		slog.String("session_id", sessionID),
		slog.String("shell", string(t)),
		slog.String("source", source))
}

// scanBuffer looks for dialect signatures in recent buffer text: shell names
// in banners, version strings, and fish's distinctive greeting.
func (d *Detector) scanBuffer(pane host.Pane) (Type, bool) {
	buf, err := pane.Snapshot()
	if err != nil || buf == "" {
		return "", false
	}

	lines := strings.Split(buf, "\n")
	if len(lines) > bufferScanLines {
		lines = lines[len(lines)-bufferScanLines:]
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.ToLower(lines[i])
		switch {
		case strings.Contains(line, "welcome to fish") || strings.Contains(line, "fish, version"):
			return TypeFish, true
		case strings.Contains(line, "gnu bash, version") || strings.Contains(line, "bash-"):
			return TypeBash, true
		case strings.Contains(line, "zsh:") || strings.Contains(line, "zsh, version"):
			return TypeZsh, true
		}
	}
	return "", false
}

// classify maps a shell path, command string, or title to a dialect by
// keyword. Longer names are checked first so "fish" in "/usr/bin/fish -l"
// does not lose to the trailing "sh".
func classify(s string) (Type, bool) {
	s = strings.ToLower(s)
	if s == "" {
		return "", false
	}
	switch {
	case strings.Contains(s, "fish"):
		return TypeFish, true
	case strings.Contains(s, "bash"):
		return TypeBash, true
	case strings.Contains(s, "zsh"):
		return TypeZsh, true
	case strings.Contains(s, "sh"):
		return TypeSh, true
	}
	return "", false
}
