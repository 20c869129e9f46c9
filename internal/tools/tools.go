// Package tools implements the tool contract consumed by the transport
// layer: structured request/response types with wire-shaped JSON tags and
// the operations backing each tool. Nothing in here frames requests or
// speaks a protocol; that lives with the caller.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asheshgoplani/panedeck/internal/exec"
	"github.com/asheshgoplani/panedeck/internal/logging"
	"github.com/asheshgoplani/panedeck/internal/registry"
)

var toolsLog = logging.ForComponent(logging.CompTools)

// Tools exposes the tool operations over a registry and controller pair.
type Tools struct {
	reg  *registry.Registry
	ctrl *exec.Controller
}

// New creates the tool layer.
func New(reg *registry.Registry, ctrl *exec.Controller) *Tools {
	return &Tools{reg: reg, ctrl: ctrl}
}

// SessionRef is the locator callers embed in requests. Resolution priority
// and fallback rules are the registry's (see registry.Locator).
type SessionRef struct {
	SessionID   string `json:"sessionId,omitempty"`
	TabIndex    *int   `json:"tabIndex,omitempty"`
	Title       string `json:"title,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
}

func (r SessionRef) locator() registry.Locator {
	return registry.Locator{
		SessionID:   r.SessionID,
		TabIndex:    r.TabIndex,
		Title:       r.Title,
		ProfileName: r.ProfileName,
	}
}

// validate rejects malformed locators before any pane interaction. This is
// the one caller error treated as a hard fault rather than a lookup miss.
func (r SessionRef) validate() error {
	if r.TabIndex != nil && *r.TabIndex < 0 {
		return fmt.Errorf("tabIndex must be non-negative, got %d", *r.TabIndex)
	}
	return nil
}

// ExecRequest is the exec_command tool input.
type ExecRequest struct {
	Command string `json:"command"`
	SessionRef
	WaitForOutput *bool `json:"waitForOutput,omitempty"`
	TimeoutMs     int   `json:"timeout,omitempty"`
}

// ExecResponse is the exec_command tool output.
type ExecResponse struct {
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ExecCommand runs a command on the located session.
func (t *Tools) ExecCommand(ctx context.Context, req ExecRequest) ExecResponse {
	if req.Command == "" {
		return ExecResponse{Error: "command is required"}
	}
	if err := req.validate(); err != nil {
		return ExecResponse{Error: err.Error()}
	}

	wait := true
	if req.WaitForOutput != nil {
		wait = *req.WaitForOutput
	}

	res := t.ctrl.Exec(ctx, req.locator(), req.Command, exec.Options{
		WaitForOutput: wait,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	return ExecResponse{
		Success:   res.Success,
		Output:    res.Output,
		ExitCode:  res.ExitCode,
		Error:     res.Error,
		SessionID: res.SessionID,
	}
}

// InputRequest is the send_input tool input. Common escape sequences in
// Input (\n, \r, \t, \xHH, \\) are resolved before writing.
type InputRequest struct {
	Input string `json:"input"`
	SessionRef
}

// InputResponse is the send_input tool output.
type InputResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendInput writes raw input to the located session's pane.
func (t *Tools) SendInput(req InputRequest) InputResponse {
	if err := req.validate(); err != nil {
		return InputResponse{Error: err.Error()}
	}
	sess, err := t.reg.Resolve(req.locator())
	if err != nil {
		return InputResponse{Error: exec.MsgNoSession}
	}
	if err := sess.Pane.WriteInput(DecodeEscapes(req.Input)); err != nil {
		return InputResponse{SessionID: sess.ID, Error: fmt.Sprintf("write input: %v", err)}
	}
	return InputResponse{Success: true, SessionID: sess.ID}
}

// BufferRequest is the get_terminal_buffer tool input. LastNLines wins over
// the StartLine/EndLine window when both are given. StartLine is 0-based
// inclusive, EndLine exclusive.
type BufferRequest struct {
	SessionRef
	LastNLines *int `json:"lastNLines,omitempty"`
	StartLine  *int `json:"startLine,omitempty"`
	EndLine    *int `json:"endLine,omitempty"`
}

// BufferResponse is the get_terminal_buffer tool output.
type BufferResponse struct {
	Success    bool   `json:"success"`
	SessionID  string `json:"sessionId,omitempty"`
	TotalLines int    `json:"totalLines"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
}

// GetTerminalBuffer returns a window of the located pane's buffer.
func (t *Tools) GetTerminalBuffer(req BufferRequest) BufferResponse {
	if err := req.validate(); err != nil {
		return BufferResponse{Error: err.Error()}
	}
	sess, err := t.reg.Resolve(req.locator())
	if err != nil {
		return BufferResponse{Error: exec.MsgNoSession}
	}

	text, err := sess.Pane.Snapshot()
	if err != nil {
		// Serialization failures read as an empty buffer.
		toolsLog.Warn("buffer_snapshot_failed")
		text = ""
	}

	lines := strings.Split(text, "\n")
	total := len(lines)

	switch {
	case req.LastNLines != nil:
		n := *req.LastNLines
		if n < 0 {
			return BufferResponse{SessionID: sess.ID, Error: "lastNLines must be non-negative"}
		}
		if n < total {
			lines = lines[total-n:]
		}
	case req.StartLine != nil || req.EndLine != nil:
		start, end := 0, total
		if req.StartLine != nil {
			start = *req.StartLine
		}
		if req.EndLine != nil {
			end = *req.EndLine
		}
		if start < 0 || end < start {
			return BufferResponse{SessionID: sess.ID, Error: "invalid line range"}
		}
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		lines = lines[start:end]
	}

	return BufferResponse{
		Success:    true,
		SessionID:  sess.ID,
		TotalLines: total,
		Content:    strings.Join(lines, "\n"),
	}
}

// AbortResponse is the abort_command tool output.
type AbortResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AbortCommand aborts the located session's tracked command.
func (t *Tools) AbortCommand(req SessionRef) AbortResponse {
	if err := req.validate(); err != nil {
		return AbortResponse{Error: err.Error()}
	}
	res := t.ctrl.Abort(req.locator())
	return AbortResponse{Success: res.Success, SessionID: res.SessionID, Error: res.Error}
}

// ActiveCommandInfo describes one in-flight command for get_command_status.
type ActiveCommandInfo struct {
	SessionID  string    `json:"sessionId"`
	Command    string    `json:"command"`
	StartedAt  time.Time `json:"startedAt"`
	RunningFor string    `json:"runningFor"`
}

// StatusResponse is the get_command_status tool output.
type StatusResponse struct {
	ActiveCommands []ActiveCommandInfo `json:"activeCommands"`
	Count          int                 `json:"count"`
}

// GetCommandStatus lists tracked in-flight commands.
func (t *Tools) GetCommandStatus() StatusResponse {
	active := t.ctrl.Active()
	infos := make([]ActiveCommandInfo, 0, len(active))
	for _, a := range active {
		infos = append(infos, ActiveCommandInfo{
			SessionID:  a.SessionID,
			Command:    a.Command,
			StartedAt:  a.StartedAt,
			RunningFor: a.RunningFor.Round(time.Millisecond).String(),
		})
	}
	return StatusResponse{ActiveCommands: infos, Count: len(infos)}
}

// SessionInfo describes one session for get_session_list.
type SessionInfo struct {
	SessionID        string `json:"sessionId"`
	TabIndex         int    `json:"tabIndex"`
	Title            string `json:"title"`
	IsActive         bool   `json:"isActive"`
	HasActiveCommand bool   `json:"hasActiveCommand"`
	IsSplit          bool   `json:"isSplit"`
	SplitGroupID     string `json:"splitGroupId,omitempty"`
	PaneIndex        *int   `json:"paneIndex,omitempty"`
	TotalPanes       *int   `json:"totalPanes,omitempty"`
	IsFocusedPane    *bool  `json:"isFocusedPane,omitempty"`
}

// GetSessionList enumerates all live sessions with pane metadata.
func (t *Tools) GetSessionList() []SessionInfo {
	sessions := t.reg.Enumerate()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := SessionInfo{
			SessionID:        s.ID,
			TabIndex:         s.TabIndex,
			Title:            s.Title,
			IsActive:         s.Pane.Connected(),
			HasActiveCommand: t.ctrl.HasActive(s.ID),
			IsSplit:          s.IsSplit,
		}
		if s.IsSplit {
			paneIndex, totalPanes, focused := s.PaneIndex, s.TotalPanes, s.IsFocused
			info.SplitGroupID = s.SplitGroupID
			info.PaneIndex = &paneIndex
			info.TotalPanes = &totalPanes
			info.IsFocusedPane = &focused
		}
		infos = append(infos, info)
	}
	return infos
}
