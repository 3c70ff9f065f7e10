// ABOUTME: Tests for the SQLite transcript store
// ABOUTME: Covers save/upsert, ordered listing, replace, sessions, delete

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/chat"
	"github.com/2389/coven-console/internal/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func textMessage(id, text string, typ chat.MessageType) *chat.ChatMessage {
	return &chat.ChatMessage{
		ID:        id,
		Type:      typ,
		Content:   protocol.Content{Text: text},
		Timestamp: time.Now(),
	}
}

func TestSQLiteStore_SaveAndListPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("u-1", "hi", chat.TypeUser)))
	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("a-1", "hello", chat.TypeAssistant)))
	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("u-2", "thanks", chat.TypeUser)))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "u-1", msgs[0].ID)
	assert.Equal(t, "a-1", msgs[1].ID)
	assert.Equal(t, "u-2", msgs[2].ID)
	assert.Equal(t, chat.TypeAssistant, msgs[1].Type)
	assert.Equal(t, "hello", msgs[1].Content.Text)
}

func TestSQLiteStore_UpsertKeepsTranscriptPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	streamed := &chat.ChatMessage{
		ID:   "a-1",
		Type: chat.TypeAssistant,
		Content: protocol.Content{Blocks: []protocol.ContentBlock{
			{Type: protocol.BlockText, Text: "partial"},
		}},
		Timestamp: time.Now(),
	}
	require.NoError(t, s.SaveMessage(ctx, "sess-1", streamed))
	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("u-1", "next", chat.TypeUser)))

	// Re-save the assistant message after more blocks streamed in
	streamed.Content.Blocks = append(streamed.Content.Blocks,
		protocol.ContentBlock{Type: protocol.BlockText, Text: "complete"})
	streamed.MessageID = "m-1"
	require.NoError(t, s.SaveMessage(ctx, "sess-1", streamed))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a-1", msgs[0].ID, "upsert must not move the message")
	assert.Equal(t, "m-1", msgs[0].MessageID)
	require.Len(t, msgs[0].Content.Blocks, 2)
}

func TestSQLiteStore_ContentBlocksRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	m := &chat.ChatMessage{
		ID:   "a-1",
		Type: chat.TypeAssistant,
		Content: protocol.Content{Blocks: []protocol.ContentBlock{
			{Type: protocol.BlockToolUse, ID: "tool-1", Name: "Read", Input: []byte(`{"path":"x.go"}`)},
		}},
		Timestamp:       time.Now(),
		ParentToolUseID: "tool-0",
	}
	require.NoError(t, s.SaveMessage(ctx, "sess-1", m))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "tool-0", got.ParentToolUseID)
	require.Len(t, got.Content.Blocks, 1)
	assert.Equal(t, protocol.BlockToolUse, got.Content.Blocks[0].Type)
	assert.Equal(t, "tool-1", got.Content.Blocks[0].ID)
	assert.Equal(t, "Read", got.Content.Blocks[0].Name)
}

func TestSQLiteStore_SessionsIsolatedAndListed(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("m-1", "one", chat.TypeUser)))
	require.NoError(t, s.SaveMessage(ctx, "sess-2", textMessage("m-2", "two", chat.TypeUser)))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].ID)

	ids, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-2", "sess-1"}, ids, "most recently written first")
}

func TestSQLiteStore_ReplaceMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("old", "stale", chat.TypeUser)))

	replacement := []*chat.ChatMessage{
		textMessage("new-1", "a", chat.TypeUser),
		textMessage("new-2", "b", chat.TypeAssistant),
	}
	require.NoError(t, s.ReplaceMessages(ctx, "sess-1", replacement))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "new-1", msgs[0].ID)
	assert.Equal(t, "new-2", msgs[1].ID)
}

func TestSQLiteStore_DeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveMessage(ctx, "sess-1", textMessage("m-1", "x", chat.TypeUser)))
	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	msgs, err := s.ListMessages(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, s.DeleteSession(ctx, "sess-1"), ErrNotFound)
}

func TestSQLiteStore_EmptySessionListsNothing(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.ListMessages(t.Context(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
