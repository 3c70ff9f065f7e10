// ABOUTME: Per-stream connection record tracked by the Manager
// ABOUTME: Holds lifecycle state, retry bookkeeping, and last-event telemetry

package stream

import (
	"context"
	"time"

	"github.com/2389/coven-console/internal/protocol"
)

// State is the lifecycle state of one logical stream connection.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// connection is the Manager's record for one streaming id. All fields are
// guarded by the Manager's mutex; the reader goroutine only touches them
// through Manager methods.
type connection struct {
	streamingID string
	state       State
	retryCount  int

	lastEvent     *protocol.Event
	lastEventTime time.Time

	// running is true while a reader goroutine holds one of the
	// concurrency-cap slots.
	running bool

	cancel     context.CancelFunc
	retryTimer *time.Timer
}

// Info is a point-in-time snapshot of a connection for telemetry.
type Info struct {
	StreamingID   string
	State         State
	RetryCount    int
	LastEvent     *protocol.Event
	LastEventTime time.Time
}

func (c *connection) info() Info {
	return Info{
		StreamingID:   c.streamingID,
		State:         c.state,
		RetryCount:    c.retryCount,
		LastEvent:     c.lastEvent,
		LastEventTime: c.lastEventTime,
	}
}

// stopRetryTimer cancels a scheduled reconnect, if any.
func (c *connection) stopRetryTimer() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}
