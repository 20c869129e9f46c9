package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Wire message types for the terminal app control socket. The socket speaks
// JSON frames; requests carry an id echoed back on the matching result.
const (
	msgWrite       = "write"
	msgSnapshot    = "snapshot"
	msgTree        = "tree"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgResult      = "result"
	msgOutput      = "output"
	msgStatus      = "status"
)

// callTimeout bounds a single request/response round trip.
const callTimeout = 5 * time.Second

type wsFrame struct {
	Type      string      `json:"type"`
	ID        int64       `json:"id,omitempty"`
	Pane      string      `json:"pane,omitempty"`
	Data      string      `json:"data,omitempty"`
	Sub       int64       `json:"sub,omitempty"`
	OK        bool        `json:"ok,omitempty"`
	Error     string      `json:"error,omitempty"`
	Connected *bool       `json:"connected,omitempty"`
	Tree      []wsTreeTab `json:"tree,omitempty"`
}

type wsTreeTab struct {
	SplitID string       `json:"split_id,omitempty"`
	Focus   int          `json:"focus,omitempty"`
	Panes   []wsPaneInfo `json:"panes"`
}

type wsPaneInfo struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	ProfileName    string `json:"profile_name,omitempty"`
	ProfileCommand string `json:"profile_command,omitempty"`
	Connected      bool   `json:"connected"`
}

// RemoteHost is a websocket client to a terminal application's control
// socket. Pane identity is stable: the same remote pane id always yields the
// same *RemotePane, so registry mappings survive tree refreshes.
type RemoteHost struct {
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex // websocket writes must not interleave

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan wsFrame
	panes   map[string]*RemotePane
	subs    map[int64]chan string
	tabs    []Tab
	closed  bool
}

// DialRemote connects to the terminal app's control socket.
// Input writes are throttled so large pastes cannot flood the app.
func DialRemote(url string) (*RemoteHost, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	h := &RemoteHost{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(200), 40),
		pending: make(map[int64]chan wsFrame),
		panes:   make(map[string]*RemotePane),
		subs:    make(map[int64]chan string),
	}
	go h.readPump()
	if err := h.refreshTree(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Tabs refreshes and returns the tab tree. On a transport failure the last
// known tree is returned so stale lookups degrade instead of vanishing.
func (h *RemoteHost) Tabs() []Tab {
	if err := h.refreshTree(); err != nil {
		hostLog.Warn("tree_refresh_failed", slog.String("error", err.Error()))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	tabs := make([]Tab, len(h.tabs))
	copy(tabs, h.tabs)
	return tabs
}

// Close shuts down the connection and disconnects all panes.
func (h *RemoteHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.conn.Close()
}

func (h *RemoteHost) refreshTree() error {
	resp, err := h.call(wsFrame{Type: msgTree})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	tabs := make([]Tab, 0, len(resp.Tree))
	for _, t := range resp.Tree {
		if t.SplitID == "" && len(t.Panes) == 1 {
			tabs = append(tabs, Tab{Pane: h.paneLocked(t.Panes[0], seen)})
			continue
		}
		group := &SplitGroup{ID: t.SplitID, FocusIndex: t.Focus}
		for _, info := range t.Panes {
			group.Panes = append(group.Panes, h.paneLocked(info, seen))
		}
		tabs = append(tabs, Tab{Split: group})
	}
	h.tabs = tabs

	// Panes gone from the tree are closed on the remote side.
	for id, p := range h.panes {
		if !seen[id] {
			p.setConnected(false)
			delete(h.panes, id)
		}
	}
	return nil
}

// paneLocked returns the stable RemotePane for a remote pane id, creating it
// on first sight. Caller holds h.mu.
func (h *RemoteHost) paneLocked(info wsPaneInfo, seen map[string]bool) *RemotePane {
	seen[info.ID] = true
	p, ok := h.panes[info.ID]
	if !ok {
		p = &RemotePane{host: h, id: info.ID}
		h.panes[info.ID] = p
	}
	p.update(info)
	return p
}

func (h *RemoteHost) call(req wsFrame) (wsFrame, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return wsFrame{}, fmt.Errorf("control socket closed")
	}
	h.nextID++
	req.ID = h.nextID
	ch := make(chan wsFrame, 1)
	h.pending[req.ID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, req.ID)
		h.mu.Unlock()
	}()

	if err := h.send(req); err != nil {
		return wsFrame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			// teardown closed the pending channel: the connection is gone.
			return wsFrame{}, fmt.Errorf("control socket connection lost")
		}
		if !resp.OK {
			return resp, fmt.Errorf("remote error: %s", resp.Error)
		}
		return resp, nil
	case <-time.After(callTimeout):
		return wsFrame{}, fmt.Errorf("control socket call %s timed out", req.Type)
	}
}

func (h *RemoteHost) send(f wsFrame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write control frame: %w", err)
	}
	return nil
}

func (h *RemoteHost) readPump() {
	for {
		var f wsFrame
		if err := h.conn.ReadJSON(&f); err != nil {
			h.teardown(err)
			return
		}
		switch f.Type {
		case msgResult:
			h.mu.Lock()
			if ch, ok := h.pending[f.ID]; ok {
				ch <- f
			}
			h.mu.Unlock()
		case msgOutput:
			// The send stays under h.mu: cancel closes the channel under the
			// same lock, so an unlocked send could hit a closed channel and
			// panic.
			h.mu.Lock()
			if ch, ok := h.subs[f.Sub]; ok {
				select {
				case ch <- f.Data:
				default:
					hostLog.Warn("subscriber_overflow", slog.Int64("sub", f.Sub))
				}
			}
			h.mu.Unlock()
		case msgStatus:
			h.mu.Lock()
			p := h.panes[f.Pane]
			h.mu.Unlock()
			if p != nil && f.Connected != nil {
				p.setConnected(*f.Connected)
			}
		}
	}
}

// teardown fails pending calls and disconnects every pane after a transport
// failure.
func (h *RemoteHost) teardown(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		hostLog.Warn("control_socket_lost", slog.String("error", err.Error()))
	}
	h.closed = true
	for id, ch := range h.pending {
		delete(h.pending, id)
		close(ch)
	}
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	for _, p := range h.panes {
		p.setConnected(false)
	}
}

// RemotePane is a pane proxied over the control socket.
type RemotePane struct {
	host *RemoteHost
	id   string

	mu        sync.Mutex
	title     string
	profile   ProfileInfo
	connected bool
}

// WriteInput sends raw text to the remote pane, rate limited.
func (p *RemotePane) WriteInput(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := p.host.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("input throttle: %w", err)
	}
	_, err := p.host.call(wsFrame{Type: msgWrite, Pane: p.id, Data: text})
	return err
}

// Snapshot fetches the remote pane's buffer contents.
func (p *RemotePane) Snapshot() (string, error) {
	resp, err := p.host.call(wsFrame{Type: msgSnapshot, Pane: p.id})
	if err != nil {
		return "", err
	}
	return resp.Data, nil
}

// Subscribe attaches to the remote pane's output stream.
func (p *RemotePane) Subscribe() (<-chan string, func(), error) {
	resp, err := p.host.call(wsFrame{Type: msgSubscribe, Pane: p.id})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoStream, err)
	}
	subID := resp.Sub

	ch := make(chan string, subBuffer)
	h := p.host
	h.mu.Lock()
	h.subs[subID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[subID]; ok {
			delete(h.subs, subID)
			close(sub)
		}
		h.mu.Unlock()
		_, _ = h.call(wsFrame{Type: msgUnsubscribe, Sub: subID})
	}
	return ch, cancel, nil
}

// Connected reports the last known connection state of the remote pane.
func (p *RemotePane) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Title returns the pane's display title.
func (p *RemotePane) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

// Profile returns the pane's profile metadata.
func (p *RemotePane) Profile() ProfileInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

func (p *RemotePane) update(info wsPaneInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = info.Title
	p.profile = ProfileInfo{Name: info.ProfileName, Command: info.ProfileCommand}
	p.connected = info.Connected
}

func (p *RemotePane) setConnected(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = v
}
