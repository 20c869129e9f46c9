// Package capture watches a pane's output for the sentinel markers that
// bracket a wrapped command. Two interchangeable strategies implement the
// same Watcher contract: BufferPoller re-scans full buffer snapshots on an
// interval, StreamCapture accumulates the raw output stream. Which one runs
// is a configuration choice; the execution controller never knows the
// difference.
package capture

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/panedeck/internal/host"
	"github.com/asheshgoplani/panedeck/internal/logging"
)

var capLog = logging.ForComponent(logging.CompCapture)

// Result error messages. These are part of the tool contract; callers match
// on them.
const (
	MsgAborted        = "Command aborted"
	MsgTimeout        = "Command timeout"
	MsgTimeoutPartial = "Command timeout (partial output captured)"
	MsgDisconnected   = "Session disconnected during execution"
)

// truncationNotice prefixes output whose start marker scrolled out of the
// retained buffer before the end marker appeared.
const truncationNotice = "[output truncated: start of output scrolled out of buffer]"

// Request describes one marker watch.
type Request struct {
	// StartMarker and EndMarker are the sentinel tokens bracketing the
	// command's output. The end marker is followed by the exit status.
	StartMarker string
	EndMarker   string

	// Timeout bounds the whole watch.
	Timeout time.Duration

	// Aborted is polled cooperatively at each tick / stream event.
	// Optional.
	Aborted func() bool
}

func (r Request) aborted() bool {
	return r.Aborted != nil && r.Aborted()
}

// Result is the structured outcome of a watch.
type Result struct {
	Success  bool
	Output   string
	ExitCode *int
	Error    string
}

// Watcher is the capture strategy contract.
type Watcher interface {
	Watch(ctx context.Context, pane host.Pane, req Request) Result
}

// endPattern matches the end marker followed by the numeric exit status.
// The same pattern serves every dialect; only the wrapper text differs.
func endPattern(endMarker string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(endMarker) + `\s+(\d+)`)
}

// tryExtract scans text for a completed marker pair. On a hit it returns the
// output between the nearest start marker preceding the end match and the end
// match itself. When the start marker has scrolled out of the retained text,
// the available leading text is returned with a truncation notice instead of
// hanging forever.
func tryExtract(text string, req Request, re *regexp.Regexp) (Result, bool) {
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return Result{}, false
	}
	exitCode, err := strconv.Atoi(text[m[2]:m[3]])
	if err != nil {
		return Result{}, false
	}

	startIdx := strings.LastIndex(text[:m[0]], req.StartMarker)
	if startIdx == -1 {
		out := strings.TrimSpace(text[:m[0]])
		return Result{
			Success:  true,
			ExitCode: &exitCode,
			Output:   truncationNotice + "\n" + out,
		}, true
	}

	body := text[startIdx+len(req.StartMarker) : m[0]]
	return Result{
		Success:  true,
		ExitCode: &exitCode,
		Output:   cleanOutput(body, req),
	}, true
}

// cleanOutput trims the captured slice and drops a first line that merely
// echoes the wrapped command. The echoed wrapped line always carries the end
// marker text, which real output between the markers cannot.
func cleanOutput(body string, req Request) string {
	body = strings.TrimLeft(body, "\r\n")
	lines := strings.Split(body, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], req.EndMarker) {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// timeoutResult classifies a timeout: with a start marker in view the partial
// output is returned, otherwise a bare timeout.
func timeoutResult(text string, req Request) Result {
	startIdx := strings.LastIndex(text, req.StartMarker)
	if startIdx == -1 {
		return Result{Error: MsgTimeout}
	}
	code := -1
	return Result{
		Output:   cleanOutput(text[startIdx+len(req.StartMarker):], req),
		ExitCode: &code,
		Error:    MsgTimeoutPartial,
	}
}

func abortedResult() Result {
	return Result{Error: MsgAborted}
}

func disconnectedResult() Result {
	code := -1
	return Result{ExitCode: &code, Error: MsgDisconnected}
}

// normalize folds carriage returns so marker scans see plain newlines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
