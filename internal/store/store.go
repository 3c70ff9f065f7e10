// ABOUTME: Store interface for local conversation transcript persistence
// ABOUTME: Defines the history operations the console needs from storage

package store

import (
	"context"
	"errors"

	"github.com/2389/coven-console/internal/chat"
)

// ErrNotFound is returned when a requested session has no stored messages.
var ErrNotFound = errors.New("not found")

// Store persists aggregated transcripts keyed by session id. Messages are
// returned in insertion order, which is the transcript's arrival order.
type Store interface {
	// SaveMessage inserts or updates one message. Saving an existing
	// message id within the session replaces its content, so a streamed
	// assistant turn can be persisted repeatedly as blocks accumulate.
	SaveMessage(ctx context.Context, sessionID string, m *chat.ChatMessage) error

	// ReplaceMessages atomically swaps a session's transcript.
	ReplaceMessages(ctx context.Context, sessionID string, msgs []*chat.ChatMessage) error

	// ListMessages returns the session's full ordered transcript.
	ListMessages(ctx context.Context, sessionID string) ([]*chat.ChatMessage, error)

	// Sessions lists session ids with stored messages, most recent first.
	Sessions(ctx context.Context) ([]string, error)

	// DeleteSession drops a session's transcript.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}
