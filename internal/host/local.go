//go:build !windows

package host

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

const (
	// defaultScrollback is the number of lines a local pane retains.
	defaultScrollback = 2000

	// replayCap bounds the raw-output tail replayed to new subscribers.
	replayCap = 16 * 1024
)

// LocalHost runs panes as local PTYs. It exists for the dev harness and for
// integration tests; the engine itself only sees the Host/Pane interfaces.
type LocalHost struct {
	mu         sync.Mutex
	tabs       []Tab
	scrollback int
	splitSeq   int
}

// NewLocalHost creates an empty local host.
func NewLocalHost() *LocalHost {
	return &LocalHost{scrollback: defaultScrollback}
}

// Tabs returns the current tab tree.
func (h *LocalHost) Tabs() []Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	tabs := make([]Tab, len(h.tabs))
	copy(tabs, h.tabs)
	return tabs
}

// OpenPane starts shellCmd under a new PTY and adds it as a plain tab.
// An empty shellCmd falls back to $SHELL, then /bin/sh.
func (h *LocalHost) OpenPane(title, shellCmd string) (*LocalPane, error) {
	p, err := h.startPane(title, shellCmd)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.tabs = append(h.tabs, Tab{Pane: p})
	h.mu.Unlock()
	return p, nil
}

// OpenSplit starts n panes under one split group. Focus starts on pane 0.
func (h *LocalHost) OpenSplit(title, shellCmd string, n int) (*SplitGroup, error) {
	if n < 2 {
		return nil, fmt.Errorf("split needs at least 2 panes, got %d", n)
	}
	panes := make([]Pane, 0, n)
	for i := 0; i < n; i++ {
		p, err := h.startPane(fmt.Sprintf("%s [%d]", title, i), shellCmd)
		if err != nil {
			for _, prev := range panes {
				prev.(*LocalPane).Close()
			}
			return nil, err
		}
		panes = append(panes, p)
	}

	h.mu.Lock()
	h.splitSeq++
	group := &SplitGroup{
		ID:    fmt.Sprintf("split-%d", h.splitSeq),
		Panes: panes,
	}
	h.tabs = append(h.tabs, Tab{Split: group})
	h.mu.Unlock()
	return group, nil
}

// CloseAll closes every pane owned by the host.
func (h *LocalHost) CloseAll() {
	h.mu.Lock()
	tabs := h.tabs
	h.tabs = nil
	h.mu.Unlock()

	for _, t := range tabs {
		if t.Pane != nil {
			t.Pane.(*LocalPane).Close()
		}
		if t.Split != nil {
			for _, p := range t.Split.Panes {
				p.(*LocalPane).Close()
			}
		}
	}
}

func (h *LocalHost) startPane(title, shellCmd string) (*LocalPane, error) {
	if shellCmd == "" {
		shellCmd = os.Getenv("SHELL")
	}
	if shellCmd == "" {
		shellCmd = "/bin/sh"
	}

	cmd := exec.Command(shellCmd)
	cmd.Env = append(os.Environ(), "TERM=dumb")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	p := &LocalPane{
		title:      title,
		profile:    ProfileInfo{Name: "Local", Command: shellCmd},
		ptmx:       ptmx,
		cmd:        cmd,
		scrollback: h.scrollback,
		subs:       make(map[int]chan string),
		connected:  true,
	}
	go p.readLoop()
	return p, nil
}

// LocalPane is a pane backed by a local PTY.
type LocalPane struct {
	title   string
	profile ProfileInfo
	ptmx    *os.File
	cmd     *exec.Cmd

	mu         sync.Mutex
	scrollback int
	lines      []string
	partial    string
	replay     []byte
	subs       map[int]chan string
	nextSub    int
	connected  bool
}

// WriteInput writes raw text to the PTY.
func (p *LocalPane) WriteInput(text string) error {
	p.mu.Lock()
	open := p.connected
	p.mu.Unlock()
	if !open {
		return fmt.Errorf("pane %q is closed", p.title)
	}
	if _, err := p.ptmx.WriteString(text); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Snapshot returns the retained scrollback as text.
func (p *LocalPane) Snapshot() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.partial == "" {
		return strings.Join(p.lines, "\n"), nil
	}
	if len(p.lines) == 0 {
		return p.partial, nil
	}
	return strings.Join(p.lines, "\n") + "\n" + p.partial, nil
}

// Subscribe attaches to the raw output stream. The tail of recent output is
// replayed as the first chunk so markers emitted during the attach window are
// still observed.
func (p *LocalPane) Subscribe() (<-chan string, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan string, subBuffer)
	if len(p.replay) > 0 {
		ch <- string(p.replay)
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Connected reports whether the shell process is still attached.
func (p *LocalPane) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Title returns the pane title.
func (p *LocalPane) Title() string { return p.title }

// Profile returns the pane's profile metadata.
func (p *LocalPane) Profile() ProfileInfo { return p.profile }

// Close terminates the shell and marks the pane disconnected.
func (p *LocalPane) Close() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	p.mu.Unlock()

	p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()
}

// readLoop pumps PTY output into the scrollback buffer, the replay tail, and
// all live subscribers.
func (p *LocalPane) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			p.ingest(buf[:n])
		}
		if err != nil {
			// PTY read errors mean the shell went away.
			p.mu.Lock()
			wasConnected := p.connected
			p.connected = false
			for id, ch := range p.subs {
				delete(p.subs, id)
				close(ch)
			}
			p.mu.Unlock()
			if wasConnected {
				hostLog.Debug("pane_disconnected",
					slog.String("title", p.title),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (p *LocalPane) ingest(data []byte) {
	chunk := strings.ReplaceAll(string(data), "\r\n", "\n")
	chunk = strings.ReplaceAll(chunk, "\r", "\n")

	p.mu.Lock()
	defer p.mu.Unlock()

	// Scrollback: accumulate complete lines, keep the trailing partial.
	text := p.partial + chunk
	parts := strings.Split(text, "\n")
	p.partial = parts[len(parts)-1]
	p.lines = append(p.lines, parts[:len(parts)-1]...)
	if len(p.lines) > p.scrollback {
		p.lines = p.lines[len(p.lines)-p.scrollback:]
	}

	// Replay tail for late subscribers.
	p.replay = append(p.replay, chunk...)
	if len(p.replay) > replayCap {
		p.replay = p.replay[len(p.replay)-replayCap:]
	}

	// Fan out. A full subscriber loses the chunk rather than blocking the
	// read loop; the replay tail covers short stalls.
	for id, ch := range p.subs {
		select {
		case ch <- chunk:
		default:
			hostLog.Warn("subscriber_overflow", slog.Int("sub", id), slog.String("title", p.title))
		}
	}
}
