// ABOUTME: Correlates tool invocations with their asynchronous results
// ABOUTME: Keyed by tool_use id; pending entries complete at most once

package tools

import (
	"log/slog"
	"sync"

	"github.com/2389/coven-console/internal/protocol"
)

// Status is the lifecycle state of a tracked tool invocation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Entry is the tracked state for one tool invocation.
type Entry struct {
	Status  Status
	Result  string
	IsError bool
}

// ReplayTurn is one historical message used for bulk rebuild: the role it
// was authored with and its content blocks, in original order.
type ReplayTurn struct {
	Role   string
	Blocks []protocol.ContentBlock
}

// Tracker maps tool_use ids to pending/completed result entries. A session's
// aggregator owns one Tracker for its lifetime.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *slog.Logger
}

// NewTracker creates an empty tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		entries: make(map[string]Entry),
		logger:  logger.With("component", "tooltracker"),
	}
}

// RecordUse registers a pending entry for a tool invocation id.
// First-seen wins: an existing entry is never overwritten.
func (t *Tracker) RecordUse(id string) {
	if id == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		t.logger.Warn("duplicate tool_use id ignored", "tool_use_id", id)
		return
	}
	t.entries[id] = Entry{Status: StatusPending}
}

// RecordResult completes the entry for a tool invocation id. The transition
// pending→completed happens at most once and never backward. A result whose
// id was never registered is dropped and logged.
func (t *Tracker) RecordResult(id, result string, isError bool) {
	if id == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	if !exists {
		t.logger.Warn("dropping result for unknown tool_use id", "tool_use_id", id)
		return
	}
	if entry.Status == StatusCompleted {
		t.logger.Warn("ignoring second result for completed tool_use", "tool_use_id", id)
		return
	}

	t.entries[id] = Entry{Status: StatusCompleted, Result: result, IsError: isError}
}

// RecordBlocks applies both correlation rules to one message's content
// blocks: tool_use blocks in assistant messages open pending entries, and
// tool_result blocks in user messages complete them.
func (t *Tracker) RecordBlocks(role string, blocks []protocol.ContentBlock) {
	for _, b := range blocks {
		switch {
		case b.Type == protocol.BlockToolUse && role == "assistant":
			t.RecordUse(b.ID)
		case b.Type == protocol.BlockToolResult && role == "user":
			t.RecordResult(b.ToolUseID, b.Content.Plain(), b.IsError)
		}
	}
}

// Rebuild clears the tracker and deterministically replays a full ordered
// message history, applying the same rules incremental tracking uses.
func (t *Tracker) Rebuild(history []ReplayTurn) {
	t.mu.Lock()
	t.entries = make(map[string]Entry)
	t.mu.Unlock()

	for _, turn := range history {
		t.RecordBlocks(turn.Role, turn.Blocks)
	}
}

// Get returns the entry for a tool invocation id.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[id]
	return entry, ok
}

// Len returns the number of tracked invocations.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Pending returns the number of invocations still awaiting a result.
func (t *Tracker) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.Status == StatusPending {
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]Entry)
}
