// ABOUTME: Single-pass grouping of flat transcripts into display hierarchy
// ABOUTME: Nests tool results and sub-agent messages under their parent turn

package chat

// Group nests structurally subordinate messages under their parent for
// display. The input must be arrival-ordered with parents preceding
// children (not validated). The input is never mutated; returned messages
// are shallow copies.
//
// For each message, the first rule that places it applies:
//  1. parent_tool_use_id set and an assistant message owns a tool_use block
//     with that id: attach under it. A missed lookup falls through.
//  2. user message containing a tool_result block: attach under the nearest
//     preceding assistant message.
//  3. otherwise: emit at top level.
//
// The pass runs once over the flat list; sub-message lists are not
// re-grouped. Top-level relative order is preserved.
func Group(messages []*ChatMessage) []*ChatMessage {
	grouped := make([]*ChatMessage, 0, len(messages))
	byToolUse := make(map[string]*ChatMessage)
	var lastAssistant *ChatMessage

	for _, msg := range messages {
		c := msg.Clone()

		placed := false
		if c.ParentToolUseID != "" {
			if parent, ok := byToolUse[c.ParentToolUseID]; ok {
				parent.SubMessages = append(parent.SubMessages, c)
				placed = true
			}
		}
		if !placed && c.Type == TypeUser && c.HasToolResult() && lastAssistant != nil {
			lastAssistant.SubMessages = append(lastAssistant.SubMessages, c)
			placed = true
		}
		if !placed {
			grouped = append(grouped, c)
		}

		if c.Type == TypeAssistant {
			for _, id := range c.ToolUseIDs() {
				if _, exists := byToolUse[id]; !exists {
					byToolUse[id] = c
				}
			}
			lastAssistant = c
		}
	}

	return grouped
}

// Flatten is the depth-first inverse of Group: parents are emitted before
// their sub-messages and top-level order is preserved.
func Flatten(grouped []*ChatMessage) []*ChatMessage {
	var flat []*ChatMessage
	var walk func(msgs []*ChatMessage)
	walk = func(msgs []*ChatMessage) {
		for _, m := range msgs {
			flat = append(flat, m.Clone())
			walk(m.SubMessages)
		}
	}
	walk(grouped)
	return flat
}

// Count returns the number of messages in a grouped list, nested
// sub-messages included.
func Count(grouped []*ChatMessage) int {
	n := 0
	for _, m := range grouped {
		n += 1 + Count(m.SubMessages)
	}
	return n
}
