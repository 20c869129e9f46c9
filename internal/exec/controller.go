// Package exec orchestrates tracked command execution: resolve the target
// session, wrap the command for its shell dialect, write it to the pane, and
// hand the watch to the configured capture strategy. One command is tracked
// per session at a time.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asheshgoplani/panedeck/internal/capture"
	"github.com/asheshgoplani/panedeck/internal/history"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/registry"
	"github.com/asheshgoplani/panedeck/internal/shell"
)

var execLog = logging.ForComponent(logging.CompExec)

const (
	// DefaultTimeout applies when the caller passes none.
	DefaultTimeout = 30 * time.Second

	// MaxTimeout is the upper clamp on caller-supplied timeouts.
	MaxTimeout = 300 * time.Second
)

// MsgNoSession is the structured failure for an unresolvable locator.
const MsgNoSession = "No session found matching locator"

// ConfirmFunc is an external confirmation hook consulted before any pane
// write. Returning false vetoes execution.
type ConfirmFunc func(command, sessionID string) bool

// Options controls a single Exec call.
type Options struct {
	// WaitForOutput selects tracked execution with output capture. When
	// false the raw command is written and Exec returns immediately.
	WaitForOutput bool

	// Timeout bounds the capture wait. Zero means DefaultTimeout; values
	// above MaxTimeout are clamped.
	Timeout time.Duration
}

// Result is the structured outcome of Exec or Abort, annotated with the
// resolved session id.
type Result struct {
	Success   bool
	Output    string
	ExitCode  *int
	Error     string
	SessionID string
}

// ActiveInfo describes one tracked in-flight command.
type ActiveInfo struct {
	SessionID  string
	Command    string
	StartedAt  time.Time
	RunningFor time.Duration
}

// activeCommand is the per-session tracking slot. Starting a new command on a
// session overwrites the slot without canceling the previous wait; that wait
// still resolves on its own markers. Known caveat, kept deliberately until
// the reject/queue/overwrite policy question is settled.
type activeCommand struct {
	sessionID   string
	command     string
	issuedAt    time.Time
	startMarker string
	endMarker   string
	aborted     atomic.Bool
}

// Config wires the controller's collaborators.
type Config struct {
	// Watcher is the capture strategy. Required.
	Watcher capture.Watcher

	// History records completed tracked commands. Optional.
	History *history.Store

	// Confirm vetoes execution before any pane write. Optional.
	Confirm ConfirmFunc

	// DefaultTimeout and MaxTimeout override the package defaults when
	// positive.
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// Controller runs tracked commands against registry sessions.
type Controller struct {
	registry *registry.Registry
	detector *shell.Detector
	watcher  capture.Watcher
	history  *history.Store
	confirm  ConfirmFunc

	defaultTimeout time.Duration
	maxTimeout     time.Duration

	mu     sync.Mutex
	active map[string]*activeCommand
}

// New creates a controller.
func New(reg *registry.Registry, det *shell.Detector, cfg Config) *Controller {
	c := &Controller{
		registry:       reg,
		detector:       det,
		watcher:        cfg.Watcher,
		history:        cfg.History,
		confirm:        cfg.Confirm,
		defaultTimeout: cfg.DefaultTimeout,
		maxTimeout:     cfg.MaxTimeout,
		active:         make(map[string]*activeCommand),
	}
	if c.defaultTimeout <= 0 {
		c.defaultTimeout = DefaultTimeout
	}
	if c.maxTimeout <= 0 {
		c.maxTimeout = MaxTimeout
	}
	return c
}

// Exec executes command on the session the locator resolves to.
func (c *Controller) Exec(ctx context.Context, loc registry.Locator, command string, opts Options) Result {
	sess, err := c.registry.Resolve(loc)
	if err != nil {
		return Result{Error: MsgNoSession}
	}

	if c.confirm != nil && !c.confirm(command, sess.ID) {
		execLog.Info("exec_vetoed", slog.String("session_id", sess.ID))
		return Result{SessionID: sess.ID, Error: "Command execution not confirmed"}
	}

	if !opts.WaitForOutput {
		if err := sess.Pane.WriteInput(command + "\n"); err != nil {
			return Result{SessionID: sess.ID, Error: fmt.Sprintf("write command: %v", err)}
		}
		return Result{Success: true, SessionID: sess.ID}
	}

	startMarker, endMarker := newMarkerPair()
	ac := &activeCommand{
		sessionID:   sess.ID,
		command:     command,
		issuedAt:    time.Now(),
		startMarker: startMarker,
		endMarker:   endMarker,
	}

	c.mu.Lock()
	c.active[sess.ID] = ac
	c.mu.Unlock()
	defer c.release(sess.ID, ac)

	dialect := c.detector.Detect(sess.ID, sess.Pane)
	wrapped := shell.Wrap(command, startMarker, endMarker, dialect)

	// The write happens before the watch starts; Subscribe's replay buffer
	// covers the gap for the stream strategy.
	if err := sess.Pane.WriteInput(wrapped + "\n"); err != nil {
		return Result{SessionID: sess.ID, Error: fmt.Sprintf("write command: %v", err)}
	}

	res := c.watcher.Watch(ctx, sess.Pane, capture.Request{
		StartMarker: startMarker,
		EndMarker:   endMarker,
		Timeout:     c.clampTimeout(opts.Timeout),
		Aborted:     ac.aborted.Load,
	})

	result := Result{
		Success:   res.Success,
		Output:    res.Output,
		ExitCode:  res.ExitCode,
		Error:     res.Error,
		SessionID: sess.ID,
	}
	c.record(command, ac, result)
	return result
}

// Abort flags the session's tracked command as aborted and independently
// writes an interrupt to the pane. The two are decoupled: the capture loop
// can only stop the local wait, the interrupt byte is what reaches the
// foreground process, and neither is guaranteed to stop remote work.
func (c *Controller) Abort(loc registry.Locator) Result {
	sess, err := c.registry.Resolve(loc)
	if err != nil {
		return Result{Error: MsgNoSession}
	}

	c.mu.Lock()
	ac := c.active[sess.ID]
	c.mu.Unlock()
	if ac != nil {
		ac.aborted.Store(true)
	}

	if err := sess.Pane.WriteInput("\x03"); err != nil {
		execLog.Warn("interrupt_write_failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	return Result{Success: true, SessionID: sess.ID}
}

// Active lists tracked in-flight commands, oldest first.
func (c *Controller) Active() []ActiveInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	infos := make([]ActiveInfo, 0, len(c.active))
	for _, ac := range c.active {
		infos = append(infos, ActiveInfo{
			SessionID:  ac.sessionID,
			Command:    ac.command,
			StartedAt:  ac.issuedAt,
			RunningFor: now.Sub(ac.issuedAt),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}

// HasActive reports whether the session has a tracked command in flight.
func (c *Controller) HasActive(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[sessionID] != nil
}

// release removes the tracking entry unless a newer command already
// overwrote it.
func (c *Controller) release(sessionID string, ac *activeCommand) {
	c.mu.Lock()
	if c.active[sessionID] == ac {
		delete(c.active, sessionID)
	}
	c.mu.Unlock()
}

func (c *Controller) clampTimeout(t time.Duration) time.Duration {
	if t <= 0 {
		return c.defaultTimeout
	}
	if t > c.maxTimeout {
		return c.maxTimeout
	}
	return t
}

// record persists the outcome, best effort.
func (c *Controller) record(command string, ac *activeCommand, r Result) {
	if c.history == nil {
		return
	}
	err := c.history.Record(history.Entry{
		SessionID:  ac.sessionID,
		Command:    command,
		Outcome:    outcome(r),
		ExitCode:   r.ExitCode,
		StartedAt:  ac.issuedAt,
		DurationMs: time.Since(ac.issuedAt).Milliseconds(),
	})
	if err != nil {
		execLog.Warn("history_record_failed", slog.String("error", err.Error()))
	}
}

func outcome(r Result) string {
	switch {
	case r.Success:
		return "completed"
	case r.Error == capture.MsgAborted:
		return "aborted"
	case r.Error == capture.MsgTimeout || r.Error == capture.MsgTimeoutPartial:
		return "timeout"
	case r.Error == capture.MsgDisconnected:
		return "disconnected"
	default:
		return "error"
	}
}

var markerSeq atomic.Uint64

// newMarkerPair mints a timestamp-derived sentinel pair unique to one
// command.
func newMarkerPair() (string, string) {
	base := fmt.Sprintf("%d_%d", time.Now().UnixMilli(), markerSeq.Add(1))
	return "PD_BEGIN_" + base, "PD_END_" + base
}
