package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/panedeck/internal/host"
)

type fakePane struct {
	title     string
	profile   host.ProfileInfo
	connected bool
}

func (p *fakePane) WriteInput(string) error                   { return nil }
func (p *fakePane) Snapshot() (string, error)                 { return "", nil }
func (p *fakePane) Subscribe() (<-chan string, func(), error) { return nil, nil, host.ErrNoStream }
func (p *fakePane) Connected() bool                           { return p.connected }
func (p *fakePane) Title() string                             { return p.title }
func (p *fakePane) Profile() host.ProfileInfo                 { return p.profile }

type fakeHost struct {
	tabs []host.Tab
}

func (h *fakeHost) Tabs() []host.Tab { return h.tabs }

func newPane(title string) *fakePane {
	return &fakePane{title: title, connected: true}
}

func intPtr(i int) *int { return &i }

func TestGetOrCreateIDIdempotent(t *testing.T) {
	p := newPane("one")
	r := New(&fakeHost{tabs: []host.Tab{{Pane: p}}})

	id1 := r.GetOrCreateID(p)
	id2 := r.GetOrCreateID(p)
	require.NotEmpty(t, id1)
	assert.Equal(t, id1, id2)

	// resolve({sessionId}) finds exactly that pane
	sess, err := r.Resolve(Locator{SessionID: id1})
	require.NoError(t, err)
	assert.Same(t, p, sess.Pane.(*fakePane))
}

func TestEnumerateAssignsStableIDs(t *testing.T) {
	a, b := newPane("a"), newPane("b")
	r := New(&fakeHost{tabs: []host.Tab{{Pane: a}, {Pane: b}}})

	first := r.Enumerate()
	second := r.Enumerate()
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
}

func TestEnumerateFlattensSplits(t *testing.T) {
	panes := []host.Pane{newPane("left"), newPane("mid"), newPane("right")}
	h := &fakeHost{tabs: []host.Tab{
		{Pane: newPane("plain")},
		{Split: &host.SplitGroup{ID: "sg-1", Panes: panes, FocusIndex: 1}},
	}}
	r := New(h)

	sessions := r.Enumerate()
	require.Len(t, sessions, 4)

	assert.False(t, sessions[0].IsSplit)

	focused := 0
	for i, s := range sessions[1:] {
		assert.True(t, s.IsSplit)
		assert.Equal(t, "sg-1", s.SplitGroupID)
		assert.Equal(t, i, s.PaneIndex)
		assert.Equal(t, 3, s.TotalPanes)
		assert.Equal(t, 1, s.TabIndex)
		if s.IsFocused {
			focused++
			assert.Equal(t, 1, s.PaneIndex)
		}
	}
	assert.Equal(t, 1, focused, "exactly one pane holds focus")
}

func TestResolveSessionIDNeverFallsBack(t *testing.T) {
	a := newPane("a")
	r := New(&fakeHost{tabs: []host.Tab{{Pane: a}}})
	r.Enumerate()

	_, err := r.Resolve(Locator{SessionID: "not-a-real-id"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResolveStaleSessionID(t *testing.T) {
	a := newPane("a")
	h := &fakeHost{tabs: []host.Tab{{Pane: a}}}
	r := New(h)
	id := r.GetOrCreateID(a)

	// Pane closes: it disappears from the tab tree.
	h.tabs = nil
	_, err := r.Resolve(Locator{SessionID: id})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResolvePriorityOrder(t *testing.T) {
	a := newPane("alpha build")
	b := newPane("beta")
	b.profile = host.ProfileInfo{Name: "Alpha Profile"}
	r := New(&fakeHost{tabs: []host.Tab{{Pane: a}, {Pane: b}}})
	sessions := r.Enumerate()

	// sessionId beats everything else
	sess, err := r.Resolve(Locator{SessionID: sessions[1].ID, Title: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, sessions[1].ID, sess.ID)

	// tabIndex beats title
	sess, err = r.Resolve(Locator{TabIndex: intPtr(1), Title: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, sessions[1].ID, sess.ID)

	// title substring is case-insensitive and beats profileName
	sess, err = r.Resolve(Locator{Title: "ALPHA", ProfileName: "alpha profile"})
	require.NoError(t, err)
	assert.Equal(t, sessions[0].ID, sess.ID)

	// profileName substring match
	sess, err = r.Resolve(Locator{ProfileName: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, sessions[1].ID, sess.ID)
}

func TestResolveEmptyLocatorPrefersFocusedSplitPane(t *testing.T) {
	focused := newPane("focused")
	h := &fakeHost{tabs: []host.Tab{
		{Pane: newPane("first")},
		{Split: &host.SplitGroup{ID: "sg", Panes: []host.Pane{newPane("other"), focused}, FocusIndex: 1}},
	}}
	r := New(h)

	sess, err := r.Resolve(Locator{})
	require.NoError(t, err)
	assert.Same(t, focused, sess.Pane.(*fakePane))
}

func TestResolveEmptyLocatorFallsBackToFirstSession(t *testing.T) {
	first := newPane("first")
	r := New(&fakeHost{tabs: []host.Tab{{Pane: first}, {Pane: newPane("second")}}})

	sess, err := r.Resolve(Locator{})
	require.NoError(t, err)
	assert.Same(t, first, sess.Pane.(*fakePane))
}

func TestResolveNoSessions(t *testing.T) {
	r := New(&fakeHost{})
	_, err := r.Resolve(Locator{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResolveSuppliedButUnmatchedLocator(t *testing.T) {
	r := New(&fakeHost{tabs: []host.Tab{{Pane: newPane("only")}}})

	// A supplied locator that matches nothing does not fall back to the
	// first session.
	_, err := r.Resolve(Locator{Title: "no such title"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPruneDropsClosedPanes(t *testing.T) {
	a, b := newPane("a"), newPane("b")
	h := &fakeHost{tabs: []host.Tab{{Pane: a}, {Pane: b}}}
	r := New(h)
	sessions := r.Enumerate()
	idA := sessions[0].ID

	// Close pane b.
	h.tabs = []host.Tab{{Pane: a}}
	sessions = r.Enumerate()
	require.Len(t, sessions, 1)
	assert.Equal(t, idA, sessions[0].ID, "surviving pane keeps its id")
}

func TestPruneNotifiesHook(t *testing.T) {
	a, b := newPane("a"), newPane("b")
	h := &fakeHost{tabs: []host.Tab{{Pane: a}, {Pane: b}}}
	r := New(h)

	var dropped []string
	r.OnPrune(func(id string) { dropped = append(dropped, id) })

	sessions := r.Enumerate()
	idB := sessions[1].ID
	assert.Empty(t, dropped)

	// Pane b closes: per-session caches keyed on its id get evicted.
	h.tabs = []host.Tab{{Pane: a}}
	r.Enumerate()
	assert.Equal(t, []string{idB}, dropped)
}
