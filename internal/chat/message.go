// ABOUTME: ChatMessage model for aggregated conversation transcripts
// ABOUTME: Covers optimistic placeholders, block inspection, shallow cloning

package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/protocol"
)

// MessageType classifies an aggregated chat message.
type MessageType string

const (
	TypeUser      MessageType = "user"
	TypeAssistant MessageType = "assistant"
	TypeError     MessageType = "error"
)

// PendingIDPrefix marks optimistic placeholder messages that are replaced in
// place once their authoritative stream event arrives.
const PendingIDPrefix = "pending-"

// ChatMessage is one entry in the aggregated conversation transcript.
// SubMessages is populated only by grouping; aggregation keeps a flat list.
type ChatMessage struct {
	ID              string           `json:"id"`
	MessageID       string           `json:"message_id,omitempty"`
	Type            MessageType      `json:"type"`
	Content         protocol.Content `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	IsStreaming     bool             `json:"is_streaming,omitempty"`
	ParentToolUseID string           `json:"parent_tool_use_id,omitempty"`
	SubMessages     []*ChatMessage   `json:"sub_messages,omitempty"`
}

// NewPendingUserMessage creates an optimistic user message shown while the
// authoritative user event is still in flight.
func NewPendingUserMessage(text string) *ChatMessage {
	return &ChatMessage{
		ID:        PendingIDPrefix + uuid.New().String(),
		Type:      TypeUser,
		Content:   protocol.Content{Text: text},
		Timestamp: time.Now(),
	}
}

// IsPending reports whether the message is an optimistic placeholder.
func (m *ChatMessage) IsPending() bool {
	return len(m.ID) > len(PendingIDPrefix) && m.ID[:len(PendingIDPrefix)] == PendingIDPrefix
}

// HasToolResult reports whether any content block is a tool_result.
func (m *ChatMessage) HasToolResult() bool {
	return hasToolResultBlock(m.Content.Blocks)
}

func hasToolResultBlock(blocks []protocol.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == protocol.BlockToolResult {
			return true
		}
	}
	return false
}

// ToolUseIDs returns the ids of all tool_use blocks in the message.
func (m *ChatMessage) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content.Blocks {
		if b.Type == protocol.BlockToolUse && b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// Role maps the message type to the wire-protocol role used for tool
// correlation replay. Error messages have no role.
func (m *ChatMessage) Role() string {
	switch m.Type {
	case TypeUser:
		return "user"
	case TypeAssistant:
		return "assistant"
	default:
		return ""
	}
}

// Clone returns a shallow copy with SubMessages reset, so grouping never
// mutates its input.
func (m *ChatMessage) Clone() *ChatMessage {
	c := *m
	c.SubMessages = nil
	return &c
}
