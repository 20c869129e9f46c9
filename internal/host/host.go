// Package host abstracts the terminal application that owns the panes this
// engine drives. A Pane is a write-only input channel plus a scrollback
// buffer; there is no stdout or exit-code channel. Implementations: LocalHost
// (panes backed by local PTYs, used by the dev harness and integration tests)
// and RemoteHost (a websocket client speaking to a terminal app's control
// socket).
package host

import (
	"errors"

	"github.com/asheshgoplani/panedeck/internal/logging"
)

var hostLog = logging.ForComponent(logging.CompHost)

// subBuffer is the per-subscriber channel depth. A subscriber that falls this
// far behind loses chunks (logged, never blocks the producer).
const subBuffer = 256

// ErrNoStream is returned by Subscribe when the pane cannot provide a raw
// output event stream. Callers fall back to buffer polling.
var ErrNoStream = errors.New("pane does not expose an output stream")

// ProfileInfo describes the profile a pane was created from.
type ProfileInfo struct {
	// Name is the user-visible profile name.
	Name string

	// Command is the declared shell path or command line, if any.
	Command string
}

// Pane is a single interactive terminal surface. It may be a whole tab or one
// cell inside a split layout.
type Pane interface {
	// WriteInput writes raw text to the pane's input channel.
	WriteInput(text string) error

	// Snapshot serializes the pane's retained scrollback buffer to text.
	// A serialization failure yields ("", err); callers treat that as an
	// empty buffer rather than a fatal condition.
	Snapshot() (string, error)

	// Subscribe attaches to the pane's raw output stream. The returned
	// channel carries output chunks; recently buffered output is replayed
	// first so a marker emitted just before subscribing is not missed.
	// The cancel function detaches the subscription; extra calls are
	// no-ops. Returns ErrNoStream when unsupported.
	Subscribe() (<-chan string, func(), error)

	// Connected reports whether the pane's underlying connection is open.
	Connected() bool

	// Title returns the pane's display title.
	Title() string

	// Profile returns the pane's profile metadata.
	Profile() ProfileInfo
}

// SplitGroup is a split layout holding two or more panes.
type SplitGroup struct {
	// ID identifies the split group within the host.
	ID string

	// Panes are the member panes in layout order.
	Panes []Pane

	// FocusIndex is the pane keyboard focus is currently routed to.
	FocusIndex int
}

// Tab is one entry in the host's tab tree: either a plain terminal pane or a
// split layout. Exactly one of Pane and Split is set.
type Tab struct {
	Pane  Pane
	Split *SplitGroup
}

// Host enumerates the terminal application's tab tree.
type Host interface {
	Tabs() []Tab
}
