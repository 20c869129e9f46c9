// Package registry assigns stable identities to terminal panes and resolves
// caller-supplied locators to live sessions. A pane keeps the same session id
// for its whole lifetime, including across reconnects of the underlying
// connection; the id becomes unresolvable only when the pane leaves the
// host's tab tree.
package registry

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/asheshgoplani/panedeck/internal/host"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

var regLog = logging.ForComponent(logging.CompRegistry)

// ErrNoSession is returned when a locator does not resolve to a live session.
// It is a result, not a fault: callers surface it as a structured failure.
var ErrNoSession = errors.New("no session found matching locator")

// Session describes one live pane with its split-layout placement.
type Session struct {
	ID       string
	Pane     host.Pane
	TabIndex int
	Title    string

	IsSplit      bool
	SplitGroupID string
	PaneIndex    int
	TotalPanes   int
	IsFocused    bool
}

// Locator selects a target session. Fields are tried in strict priority
// order: SessionID, TabIndex, Title, ProfileName. A SessionID that matches no
// live session is a hard miss; it never falls back to another session, so a
// command cannot land on the wrong target. With no fields set, resolution
// prefers the focused split pane, then the first enumerated session.
type Locator struct {
	SessionID   string
	TabIndex    *int
	Title       string
	ProfileName string
}

func (l Locator) empty() bool {
	return l.SessionID == "" && l.TabIndex == nil && l.Title == "" && l.ProfileName == ""
}

// Registry owns the bidirectional pane/id mapping. The forward map is keyed
// by pane identity; entries for panes that left the tab tree are pruned
// during enumeration, which is the closest Go gets to ownership-scoped
// cleanup on pane disposal.
type Registry struct {
	host host.Host

	mu      sync.Mutex
	forward map[host.Pane]string
	reverse map[string]host.Pane

	onPrune func(sessionID string)
}

// New creates a registry over the given host.
func New(h host.Host) *Registry {
	return &Registry{
		host:    h,
		forward: make(map[host.Pane]string),
		reverse: make(map[string]host.Pane),
	}
}

// OnPrune registers a callback invoked with the id of every session dropped
// during enumeration, so per-session state elsewhere (dialect cache) can be
// evicted with it. Set once during wiring, before the registry is used.
func (r *Registry) OnPrune(fn func(sessionID string)) {
	r.onPrune = fn
}

// GetOrCreateID returns the session id for a pane, minting a new one on first
// sight. Idempotent: the same pane always yields the same id.
func (r *Registry) GetOrCreateID(p host.Pane) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idLocked(p)
}

func (r *Registry) idLocked(p host.Pane) string {
	if id, ok := r.forward[p]; ok {
		return id
	}
	id := uuid.NewString()
	r.forward[p] = id
	r.reverse[id] = p
	regLog.Debug("session_created", slog.String("session_id", id), slog.String("title", p.Title()))
	return id
}

// Enumerate walks the host's tab tree and returns all live sessions. A plain
// terminal tab yields one session; a split tab is flattened into one session
// per child pane with split metadata attached. Mappings for panes no longer
// in the tree are dropped.
func (r *Registry) Enumerate() []Session {
	tabs := r.host.Tabs()

	r.mu.Lock()

	var sessions []Session
	live := make(map[host.Pane]bool)

	for tabIndex, tab := range tabs {
		switch {
		case tab.Pane != nil:
			live[tab.Pane] = true
			sessions = append(sessions, Session{
				ID:       r.idLocked(tab.Pane),
				Pane:     tab.Pane,
				TabIndex: tabIndex,
				Title:    tab.Pane.Title(),
			})
		case tab.Split != nil:
			total := len(tab.Split.Panes)
			for i, p := range tab.Split.Panes {
				live[p] = true
				sessions = append(sessions, Session{
					ID:           r.idLocked(p),
					Pane:         p,
					TabIndex:     tabIndex,
					Title:        p.Title(),
					IsSplit:      true,
					SplitGroupID: tab.Split.ID,
					PaneIndex:    i,
					TotalPanes:   total,
					IsFocused:    i == tab.Split.FocusIndex,
				})
			}
		}
	}

	var pruned []string
	for p, id := range r.forward {
		if !live[p] {
			delete(r.forward, p)
			delete(r.reverse, id)
			pruned = append(pruned, id)
			regLog.Debug("session_pruned", slog.String("session_id", id))
		}
	}
	r.mu.Unlock()

	// Callbacks run outside the lock; they may take their own.
	if r.onPrune != nil {
		for _, id := range pruned {
			r.onPrune(id)
		}
	}
	return sessions
}

// Resolve finds the session a locator points at. See Locator for priority and
// fallback rules.
func (r *Registry) Resolve(loc Locator) (Session, error) {
	sessions := r.Enumerate()

	if loc.SessionID != "" {
		for _, s := range sessions {
			if s.ID == loc.SessionID {
				return s, nil
			}
		}
		// Exact-id misses never fall back.
		return Session{}, ErrNoSession
	}

	if loc.TabIndex != nil {
		for _, s := range sessions {
			if s.TabIndex == *loc.TabIndex {
				return s, nil
			}
		}
	}

	if loc.Title != "" {
		want := strings.ToLower(loc.Title)
		for _, s := range sessions {
			if strings.Contains(strings.ToLower(s.Title), want) {
				return s, nil
			}
		}
	}

	if loc.ProfileName != "" {
		want := strings.ToLower(loc.ProfileName)
		for _, s := range sessions {
			if strings.Contains(strings.ToLower(s.Pane.Profile().Name), want) {
				return s, nil
			}
		}
	}

	if loc.empty() {
		for _, s := range sessions {
			if s.IsSplit && s.IsFocused {
				return s, nil
			}
		}
		if len(sessions) > 0 {
			return sessions[0], nil
		}
	}

	return Session{}, ErrNoSession
}
