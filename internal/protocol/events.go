// ABOUTME: Typed event and content-block model for the agent stream protocol
// ABOUTME: Events and block content are tagged unions discriminated by a type field

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType discriminates the events emitted by a streaming session.
type EventType string

const (
	EventConnected         EventType = "connected"
	EventSystem            EventType = "system"
	EventUser              EventType = "user"
	EventAssistant         EventType = "assistant"
	EventResult            EventType = "result"
	EventError             EventType = "error"
	EventClosed            EventType = "closed"
	EventPermissionRequest EventType = "permission_request"
)

// Result subtypes reported by the backend when a turn settles.
const (
	ResultSubtypeSuccess  = "success"
	ResultSubtypeMaxTurns = "error_max_turns"
)

// Event is one decoded frame from a streaming session.
// Only the fields relevant to Type are populated.
type Event struct {
	Type            EventType `json:"type"`
	Subtype         string    `json:"subtype,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	Message         *Message  `json:"message,omitempty"`
	ParentToolUseID string    `json:"parent_tool_use_id,omitempty"`
	Usage           *Usage    `json:"usage,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Message is the envelope carried by user and assistant events.
// Assistant messages carry a server-issued ID that is stable across the
// partial events of one streamed turn.
type Message struct {
	ID         string  `json:"id,omitempty"`
	Role       string  `json:"role,omitempty"`
	Content    Content `json:"content"`
	StopReason string  `json:"stop_reason,omitempty"`
}

// Usage reports token consumption attached to a result event.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// BlockType discriminates content blocks inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of message content.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text / thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string  `json:"tool_use_id,omitempty"`
	Content   Content `json:"content,omitempty"`
	IsError   bool    `json:"is_error,omitempty"`
}

// Content holds message or tool-result content, which the wire format
// encodes either as a plain string or as an array of content blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// UnmarshalJSON accepts either a JSON string or a block array.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(data, &c.Blocks)
	}
	return fmt.Errorf("content is neither string nor block array")
}

// MarshalJSON emits the same shape that was decoded: a string when no
// blocks are present, a block array otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// IsEmpty reports whether the content carries neither text nor blocks.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Blocks) == 0
}

// Plain returns a flat text rendering of the content, used for tool-result
// correlation and display fallbacks.
func (c Content) Plain() string {
	if c.Blocks == nil {
		return c.Text
	}
	var parts []string
	for _, b := range c.Blocks {
		switch b.Type {
		case BlockText:
			parts = append(parts, b.Text)
		case BlockThinking:
			parts = append(parts, b.Thinking)
		case BlockToolResult:
			parts = append(parts, b.Content.Plain())
		}
	}
	return strings.Join(parts, "\n")
}
