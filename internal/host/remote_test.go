package host

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControlSocket is a minimal terminal-app control socket: one plain tab
// and one split, canned snapshot text, subscriptions that echo every write
// back as output.
type fakeControlSocket struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conn    *websocket.Conn
	nextSub int64
	subs    map[int64]string // sub id -> pane id
	buffers map[string]string
}

func newFakeControlSocket() *fakeControlSocket {
	return &fakeControlSocket{
		subs: make(map[int64]string),
		buffers: map[string]string{
			"p1": "GNU bash, version 5.2\n$ ",
			"p2": "left pane\n",
			"p3": "right pane\n",
		},
	}
}

func (f *fakeControlSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var req wsFrame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := wsFrame{Type: msgResult, ID: req.ID, OK: true}
		switch req.Type {
		case msgTree:
			resp.Tree = []wsTreeTab{
				{Panes: []wsPaneInfo{{ID: "p1", Title: "main", ProfileName: "Default", Connected: true}}},
				{SplitID: "sg-1", Focus: 1, Panes: []wsPaneInfo{
					{ID: "p2", Title: "left", Connected: true},
					{ID: "p3", Title: "right", Connected: true},
				}},
			}
		case msgSnapshot:
			if req.Pane == "drop" {
				// Simulates the terminal app dying mid-call.
				conn.Close()
				return
			}
			f.mu.Lock()
			resp.Data = f.buffers[req.Pane]
			f.mu.Unlock()
		case msgWrite:
			f.mu.Lock()
			f.buffers[req.Pane] += req.Data
			for sub, pane := range f.subs {
				if pane == req.Pane {
					f.writeLocked(wsFrame{Type: msgOutput, Sub: sub, Data: req.Data})
				}
			}
			f.mu.Unlock()
		case msgSubscribe:
			f.mu.Lock()
			f.nextSub++
			f.subs[f.nextSub] = req.Pane
			resp.Sub = f.nextSub
			f.mu.Unlock()
		case msgUnsubscribe:
			f.mu.Lock()
			delete(f.subs, req.Sub)
			f.mu.Unlock()
		default:
			resp.OK = false
			resp.Error = "unknown message type"
		}
		f.mu.Lock()
		f.writeLocked(resp)
		f.mu.Unlock()
	}
}

func (f *fakeControlSocket) writeLocked(frame wsFrame) {
	_ = f.conn.WriteJSON(frame)
}

func (f *fakeControlSocket) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func dialFake(t *testing.T) (*RemoteHost, *fakeControlSocket) {
	t.Helper()
	fake := newFakeControlSocket()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	h, err := DialRemote("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, fake
}

func TestRemoteHostTabs(t *testing.T) {
	h, _ := dialFake(t)

	tabs := h.Tabs()
	require.Len(t, tabs, 2)
	require.NotNil(t, tabs[0].Pane)
	assert.Equal(t, "main", tabs[0].Pane.Title())
	assert.Equal(t, "Default", tabs[0].Pane.Profile().Name)
	assert.True(t, tabs[0].Pane.Connected())

	require.NotNil(t, tabs[1].Split)
	assert.Equal(t, "sg-1", tabs[1].Split.ID)
	assert.Equal(t, 1, tabs[1].Split.FocusIndex)
	require.Len(t, tabs[1].Split.Panes, 2)
}

func TestRemotePaneIdentityIsStable(t *testing.T) {
	h, _ := dialFake(t)

	first := h.Tabs()
	second := h.Tabs()
	// Registry mappings key on pane identity, so refreshes must return the
	// same Pane values for the same remote ids.
	assert.Same(t, first[0].Pane.(*RemotePane), second[0].Pane.(*RemotePane))
	assert.Same(t, first[1].Split.Panes[0].(*RemotePane), second[1].Split.Panes[0].(*RemotePane))
}

func TestRemotePaneSnapshotAndWrite(t *testing.T) {
	h, _ := dialFake(t)
	pane := h.Tabs()[0].Pane

	text, err := pane.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, text, "GNU bash")

	require.NoError(t, pane.WriteInput("echo hi\n"))
	text, err = pane.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, text, "echo hi")
}

func TestRemotePaneSubscribe(t *testing.T) {
	h, fake := dialFake(t)
	pane := h.Tabs()[0].Pane

	ch, cancel, err := pane.Subscribe()
	require.NoError(t, err)

	require.NoError(t, pane.WriteInput("marker_text\n"))

	select {
	case chunk := <-ch:
		assert.Equal(t, "marker_text\n", chunk)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribed output never arrived")
	}

	cancel()
	require.Eventually(t, func() bool { return fake.subCount() == 0 },
		5*time.Second, 20*time.Millisecond, "unsubscribe must reach the remote side")
}

func TestRemotePaneCancelDuringOutputBurst(t *testing.T) {
	h, _ := dialFake(t)
	pane := h.Tabs()[0].Pane

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = pane.WriteInput("x")
		}
	}()

	// Unsubscribe fires the moment a capture completes, usually with trailing
	// output frames still in flight. Closing the channel must never race the
	// read pump's send.
	for i := 0; i < 50; i++ {
		ch, cancel, err := pane.Subscribe()
		require.NoError(t, err)
		select {
		case <-ch:
		case <-time.After(time.Second):
		}
		cancel()
	}
	close(stop)
	wg.Wait()
}

func TestRemoteCallFailsFastOnConnectionLoss(t *testing.T) {
	h, _ := dialFake(t)

	_, err := h.call(wsFrame{Type: msgSnapshot, Pane: "drop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestRemoteHostDialFailure(t *testing.T) {
	_, err := DialRemote("ws://127.0.0.1:1/control")
	assert.Error(t, err)
}

func TestRemoteHostClosedCallsFail(t *testing.T) {
	h, _ := dialFake(t)
	pane := h.Tabs()[0].Pane
	require.NoError(t, h.Close())

	err := pane.WriteInput("x")
	assert.Error(t, err)
}
