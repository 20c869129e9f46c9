package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/asheshgoplani/panedeck/internal/host"
)

type stubWatcher struct{ tag string }

func (s *stubWatcher) Watch(context.Context, host.Pane, Request) Result {
	return Result{Output: s.tag}
}

func TestDynamicSwapsStrategy(t *testing.T) {
	d := NewDynamic(&stubWatcher{tag: "first"})
	pane := newPollPane("")

	res := d.Watch(context.Background(), pane, pollReq(time.Second))
	assert.Equal(t, "first", res.Output)

	d.Set(&stubWatcher{tag: "second"})
	res = d.Watch(context.Background(), pane, pollReq(time.Second))
	assert.Equal(t, "second", res.Output)
}
