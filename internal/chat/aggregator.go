// ABOUTME: Aggregates decoded stream events into an ordered chat transcript
// ABOUTME: Owns the message list and tool tracker for one session's lifetime

package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/protocol"
	"github.com/2389/coven-console/internal/tools"
)

// Callbacks signal session-level transitions to the caller. Nil callbacks
// are skipped. They are invoked synchronously from HandleStreamEvent.
type Callbacks struct {
	// OnSessionChange fires when a result event carries a session id
	// different from the current one (session rollover after resume).
	OnSessionChange func(newSessionID string)

	// OnError fires on an explicit error event from the backend.
	OnError func(message string)

	// OnClosed fires when the backend closes the stream.
	OnClosed func()
}

// Aggregator consumes decoded events for one session and maintains the
// ordered message list plus tool correlation state. It exclusively owns
// both; callers read through snapshot accessors.
type Aggregator struct {
	mu          sync.Mutex
	sessionID   string
	messages    []*ChatMessage
	byMessageID map[string]int
	tracker     *tools.Tracker
	streaming   bool
	callbacks   Callbacks
	logger      *slog.Logger
}

// NewAggregator creates an aggregator for the given session id.
// Pass nil logger for default.
func NewAggregator(sessionID string, callbacks Callbacks, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "aggregator", "session_id", sessionID)
	return &Aggregator{
		sessionID:   sessionID,
		byMessageID: make(map[string]int),
		tracker:     tools.NewTracker(logger),
		callbacks:   callbacks,
		logger:      logger,
	}
}

// HandleStreamEvent applies one decoded event to the transcript. Events for
// one session must be delivered in arrival order.
func (a *Aggregator) HandleStreamEvent(ev *protocol.Event) {
	if ev == nil {
		return
	}

	switch ev.Type {
	case protocol.EventConnected:
		a.mu.Lock()
		a.streaming = true
		a.mu.Unlock()

	case protocol.EventSystem, protocol.EventPermissionRequest:
		// Telemetry only, no message mutation
		a.logger.Debug("stream event", "type", ev.Type, "subtype", ev.Subtype)

	case protocol.EventUser:
		a.handleUser(ev)

	case protocol.EventAssistant:
		a.handleAssistant(ev)

	case protocol.EventResult:
		a.handleResult(ev)

	case protocol.EventError:
		a.handleError(ev)

	case protocol.EventClosed:
		a.mu.Lock()
		a.streaming = false
		a.mu.Unlock()
		if a.callbacks.OnClosed != nil {
			a.callbacks.OnClosed()
		}

	default:
		a.logger.Warn("unhandled event type", "type", ev.Type)
	}
}

// handleUser routes tool results to the tracker and replaces the pending
// optimistic placeholder, if present, with the authoritative message.
func (a *Aggregator) handleUser(ev *protocol.Event) {
	if ev.Message == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.streaming = true
	a.tracker.RecordBlocks("user", ev.Message.Content.Blocks)

	// A tool_result carrier is never the echo of a typed prompt: it must
	// append so grouping can nest it under its parent turn.
	if !hasToolResultBlock(ev.Message.Content.Blocks) {
		for i, m := range a.messages {
			if m.Type == TypeUser && m.IsPending() {
				authoritative := &ChatMessage{
					ID:              m.ID,
					MessageID:       ev.Message.ID,
					Type:            TypeUser,
					Content:         ev.Message.Content,
					Timestamp:       m.Timestamp,
					ParentToolUseID: ev.ParentToolUseID,
				}
				if ev.Message.ID != "" {
					authoritative.ID = ev.Message.ID
					a.byMessageID[ev.Message.ID] = i
				}
				a.messages[i] = authoritative
				return
			}
		}
	}

	a.messages = append(a.messages, &ChatMessage{
		ID:              a.messageID(ev.Message.ID),
		MessageID:       ev.Message.ID,
		Type:            TypeUser,
		Content:         ev.Message.Content,
		Timestamp:       time.Now(),
		ParentToolUseID: ev.ParentToolUseID,
	})
}

// handleAssistant appends a new assistant message, or merges a partial event
// into the existing message sharing its server-issued id. Merging appends
// the event's blocks; earlier blocks are never replaced.
func (a *Aggregator) handleAssistant(ev *protocol.Event) {
	if ev.Message == nil {
		return
	}

	blocks := ev.Message.Content.Blocks
	if blocks == nil && ev.Message.Content.Text != "" {
		blocks = []protocol.ContentBlock{{Type: protocol.BlockText, Text: ev.Message.Content.Text}}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.streaming = true
	a.tracker.RecordBlocks("assistant", blocks)

	stillStreaming := ev.Message.StopReason == ""

	if idx, ok := a.byMessageID[ev.Message.ID]; ok && ev.Message.ID != "" {
		existing := a.messages[idx]
		existing.Content.Blocks = append(existing.Content.Blocks, blocks...)
		existing.IsStreaming = stillStreaming
		return
	}

	msg := &ChatMessage{
		ID:              a.messageID(ev.Message.ID),
		MessageID:       ev.Message.ID,
		Type:            TypeAssistant,
		Content:         protocol.Content{Blocks: blocks},
		Timestamp:       time.Now(),
		IsStreaming:     stillStreaming,
		ParentToolUseID: ev.ParentToolUseID,
	}
	a.messages = append(a.messages, msg)
	if ev.Message.ID != "" {
		a.byMessageID[ev.Message.ID] = len(a.messages) - 1
	}
}

// handleResult settles the turn: every message stops streaming, and a result
// carrying a different session id signals rollover to the caller.
func (a *Aggregator) handleResult(ev *protocol.Event) {
	a.mu.Lock()
	for _, m := range a.messages {
		m.IsStreaming = false
	}
	a.streaming = false

	rolled := ""
	if ev.SessionID != "" && a.sessionID != "" && ev.SessionID != a.sessionID {
		rolled = ev.SessionID
		a.sessionID = ev.SessionID
	} else if a.sessionID == "" {
		a.sessionID = ev.SessionID
	}
	a.mu.Unlock()

	if rolled != "" {
		a.logger.Info("session rolled over", "new_session_id", rolled)
		if a.callbacks.OnSessionChange != nil {
			a.callbacks.OnSessionChange(rolled)
		}
	}
}

// handleError appends a synthetic error message and surfaces it.
func (a *Aggregator) handleError(ev *protocol.Event) {
	text := ev.Error
	if text == "" {
		text = "stream error"
	}

	a.mu.Lock()
	for _, m := range a.messages {
		m.IsStreaming = false
	}
	a.streaming = false
	a.messages = append(a.messages, &ChatMessage{
		ID:        uuid.New().String(),
		Type:      TypeError,
		Content:   protocol.Content{Text: text},
		Timestamp: time.Now(),
	})
	a.mu.Unlock()

	if a.callbacks.OnError != nil {
		a.callbacks.OnError(text)
	}
}

// AddMessage appends a message to the transcript, typically an optimistic
// placeholder from NewPendingUserMessage.
func (a *Aggregator) AddMessage(m *ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = append(a.messages, m)
	if m.MessageID != "" {
		a.byMessageID[m.MessageID] = len(a.messages) - 1
	}
}

// SetAllMessages replaces the transcript with a persisted history and
// rebuilds tool correlation state by replaying it in order.
func (a *Aggregator) SetAllMessages(msgs []*ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = make([]*ChatMessage, len(msgs))
	copy(a.messages, msgs)

	a.byMessageID = make(map[string]int)
	history := make([]tools.ReplayTurn, 0, len(msgs))
	for i, m := range a.messages {
		if m.MessageID != "" {
			a.byMessageID[m.MessageID] = i
		}
		if role := m.Role(); role != "" {
			history = append(history, tools.ReplayTurn{Role: role, Blocks: m.Content.Blocks})
		}
	}
	a.tracker.Rebuild(history)
}

// ClearMessages drops the transcript and correlation state.
func (a *Aggregator) ClearMessages() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = nil
	a.byMessageID = make(map[string]int)
	a.tracker.Clear()
}

// Messages returns a snapshot of the flat transcript in arrival order.
func (a *Aggregator) Messages() []*ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*ChatMessage, len(a.messages))
	copy(out, a.messages)
	return out
}

// Grouped returns the transcript nested for display.
func (a *Aggregator) Grouped() []*ChatMessage {
	return Group(a.Messages())
}

// Tracker exposes the tool correlation state owned by this aggregator.
func (a *Aggregator) Tracker() *tools.Tracker {
	return a.tracker
}

// Streaming reports whether a turn is currently in flight.
func (a *Aggregator) Streaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streaming
}

// SessionID returns the current session id, which may change on rollover.
func (a *Aggregator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// messageID picks the server-issued id when present, a generated one
// otherwise.
func (a *Aggregator) messageID(serverID string) string {
	if serverID != "" {
		return serverID
	}
	return uuid.New().String()
}
