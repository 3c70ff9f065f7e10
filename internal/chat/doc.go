// Package chat aggregates decoded stream events into an ordered chat
// transcript and prepares it for display.
//
// # Aggregator
//
// The Aggregator owns the message list and tool correlation state for one
// session's lifetime:
//
//	agg := chat.NewAggregator(sessionID, callbacks, logger)
//	agg.HandleStreamEvent(ev)
//
// Assistant turns stream as multiple partial events sharing one
// server-issued message id; the aggregator reconstructs the turn by
// appending each event's content blocks to the existing message. Optimistic
// user placeholders (PendingIDPrefix) are replaced in place when their
// authoritative event arrives, never duplicated.
//
// # Grouping
//
// Group nests structurally subordinate messages (tool results, sub-agent
// output keyed by parent_tool_use_id) under their parent assistant turn in
// a single O(n) pass. Flatten is its depth-first inverse.
//
// # Status
//
// ApplyEvent is a pure function projecting events onto a StreamStatus:
// a human status label plus running counters.
package chat
