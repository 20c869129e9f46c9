package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/asheshgoplani/panedeck/internal/host"
)

type fakePane struct {
	buf     string
	bufErr  error
	title   string
	profile host.ProfileInfo
	scans   int
}

func (p *fakePane) WriteInput(string) error { return nil }
func (p *fakePane) Snapshot() (string, error) {
	p.scans++
	return p.buf, p.bufErr
}
func (p *fakePane) Subscribe() (<-chan string, func(), error) { return nil, nil, host.ErrNoStream }
func (p *fakePane) Connected() bool                           { return true }
func (p *fakePane) Title() string                             { return p.title }
func (p *fakePane) Profile() host.ProfileInfo                 { return p.profile }

func TestDetectFromBufferBanner(t *testing.T) {
	tests := []struct {
		name string
		buf  string
		want Type
	}{
		{"fish greeting", "Welcome to fish, the friendly interactive shell\n> ", TypeFish},
		{"fish version", "fish, version 3.7.1\n", TypeFish},
		{"bash version", "GNU bash, version 5.2.26(1)-release (x86_64-pc-linux-gnu)\n$ ", TypeBash},
		{"zsh error line", "zsh: command not found: frobnicate\n% ", TypeZsh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			got := d.Detect("s1", &fakePane{buf: tt.buf})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectFromProfileCommand(t *testing.T) {
	d := NewDetector()
	p := &fakePane{profile: host.ProfileInfo{Command: "/usr/local/bin/fish -l"}}
	assert.Equal(t, TypeFish, d.Detect("s1", p))
}

func TestDetectFromTitle(t *testing.T) {
	d := NewDetector()
	p := &fakePane{title: "zsh - ~/src"}
	assert.Equal(t, TypeZsh, d.Detect("s1", p))
}

func TestDetectDefaultsToShUncached(t *testing.T) {
	d := NewDetector()
	p := &fakePane{title: "terminal"}
	assert.Equal(t, TypeSh, d.Detect("s1", p))

	// The fallback was not cached: new evidence upgrades the answer.
	p.buf = "GNU bash, version 5.2.26\n"
	assert.Equal(t, TypeBash, d.Detect("s1", p))
}

func TestDetectCachesPositiveResult(t *testing.T) {
	d := NewDetector()
	p := &fakePane{buf: "GNU bash, version 5.2.26\n"}
	assert.Equal(t, TypeBash, d.Detect("s1", p))
	scans := p.scans

	// Second call answers from cache without touching the buffer.
	assert.Equal(t, TypeBash, d.Detect("s1", p))
	assert.Equal(t, scans, p.scans)
}

func TestDetectCacheIsPerSession(t *testing.T) {
	d := NewDetector()
	assert.Equal(t, TypeBash, d.Detect("s1", &fakePane{buf: "GNU bash, version 5.2\n"}))
	assert.Equal(t, TypeFish, d.Detect("s2", &fakePane{buf: "Welcome to fish\n"}))
}

func TestForget(t *testing.T) {
	d := NewDetector()
	p := &fakePane{buf: "GNU bash, version 5.2\n"}
	assert.Equal(t, TypeBash, d.Detect("s1", p))

	d.Forget("s1")
	p.buf = "Welcome to fish\n"
	assert.Equal(t, TypeFish, d.Detect("s1", p))
}

func TestDetectSnapshotFailureFallsThrough(t *testing.T) {
	d := NewDetector()
	p := &fakePane{bufErr: assert.AnError, profile: host.ProfileInfo{Command: "/bin/zsh"}}
	assert.Equal(t, TypeZsh, d.Detect("s1", p))
}

func TestClassifyShLast(t *testing.T) {
	// "sh" is a substring of every shell name; it must only win when
	// nothing more specific matches.
	got, ok := classify("/bin/sh")
	assert.True(t, ok)
	assert.Equal(t, TypeSh, got)

	got, _ = classify("fish")
	assert.Equal(t, TypeFish, got)
}
