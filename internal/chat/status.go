// ABOUTME: Pure projection of stream events into a human status line
// ABOUTME: Maps tool names to activity labels and tracks running metrics

package chat

import (
	"fmt"

	"github.com/2389/coven-console/internal/protocol"
)

// Connection state labels used in StreamStatus.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// StreamStatus is the telemetry projection of one session's event stream.
type StreamStatus struct {
	ConnectionState string
	StatusText      string

	Events         int
	ToolsInvoked   int
	ToolsCompleted int
	InputTokens    int
	OutputTokens   int
}

// toolLabels maps known tool names to present-participle activity labels.
var toolLabels = map[string]string{
	"Read":         "Reading file...",
	"Write":        "Writing file...",
	"Edit":         "Editing file...",
	"MultiEdit":    "Editing files...",
	"Bash":         "Running command...",
	"Grep":         "Searching code...",
	"Glob":         "Finding files...",
	"LS":           "Listing files...",
	"WebFetch":     "Fetching page...",
	"WebSearch":    "Searching the web...",
	"Task":         "Delegating to agent...",
	"TodoWrite":    "Updating todo list...",
	"NotebookEdit": "Editing notebook...",
}

// ToolLabel returns the activity label for a tool name, falling back to
// "Running <name>..." for unknown tools.
func ToolLabel(name string) string {
	if label, ok := toolLabels[name]; ok {
		return label
	}
	return fmt.Sprintf("Running %s...", name)
}

// ApplyEvent projects one event onto the prior status and returns the
// updated copy. It has no side effects; callers own the accumulated value.
func ApplyEvent(ev *protocol.Event, prior StreamStatus) StreamStatus {
	next := prior
	if ev == nil {
		return next
	}
	next.Events++

	switch ev.Type {
	case protocol.EventConnected:
		next.ConnectionState = StatusConnected
		next.StatusText = "Connected"

	case protocol.EventSystem:
		next.StatusText = "Starting session..."

	case protocol.EventAssistant:
		if ev.Message != nil {
			for _, b := range ev.Message.Content.Blocks {
				switch b.Type {
				case protocol.BlockThinking:
					next.StatusText = "Thinking..."
				case protocol.BlockText:
					next.StatusText = "Writing response..."
				case protocol.BlockToolUse:
					next.ToolsInvoked++
					next.StatusText = ToolLabel(b.Name)
				}
			}
		}

	case protocol.EventUser:
		if ev.Message != nil {
			for _, b := range ev.Message.Content.Blocks {
				if b.Type == protocol.BlockToolResult {
					next.ToolsCompleted++
				}
			}
		}

	case protocol.EventPermissionRequest:
		next.StatusText = "Waiting for permission..."

	case protocol.EventResult:
		switch ev.Subtype {
		case protocol.ResultSubtypeSuccess:
			next.StatusText = "Completed"
		case protocol.ResultSubtypeMaxTurns:
			next.StatusText = "Max turns reached"
		default:
			next.StatusText = "Finished"
		}
		next.ConnectionState = StatusDisconnected
		if ev.Usage != nil {
			next.InputTokens += ev.Usage.InputTokens
			next.OutputTokens += ev.Usage.OutputTokens
		}

	case protocol.EventError:
		next.StatusText = "Error"

	case protocol.EventClosed:
		next.ConnectionState = StatusDisconnected
	}

	return next
}
