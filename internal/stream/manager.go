// ABOUTME: Manages concurrency-capped event-stream connections with retry
// ABOUTME: Excess subscriptions queue FIFO and are promoted as slots free up

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-console/internal/protocol"
)

const (
	// DefaultMaxConcurrent is the default cap on simultaneously open
	// stream connections.
	DefaultMaxConcurrent = 5

	// DefaultMaxRetries is the default number of automatic reconnect
	// attempts after a transport failure.
	DefaultMaxRetries = 3

	// DefaultInitialRetryDelay seeds the exponential backoff schedule.
	DefaultInitialRetryDelay = time.Second

	readBufferSize = 4096
)

// ErrManagerClosed is returned by the opener path once Close has run.
var ErrManagerClosed = errors.New("stream manager closed")

// Opener opens the event-stream transport for a streaming id. The returned
// reader must honor ctx cancellation by failing pending Reads.
type Opener func(ctx context.Context, streamingID string) (io.ReadCloser, error)

// Callbacks receive stream lifecycle notifications. Nil callbacks are
// skipped. OnEvent is invoked in arrival order per stream; ordering across
// different streams is unspecified.
type Callbacks struct {
	OnEvent      func(streamingID string, ev *protocol.Event)
	OnConnect    func(streamingID string)
	OnDisconnect func(streamingID string)

	// OnError fires only after automatic retries are exhausted.
	OnError func(streamingID string, err error)
}

// Options tune the manager. Zero values take the defaults above.
type Options struct {
	MaxConcurrent     int
	MaxRetries        int
	InitialRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialRetryDelay <= 0 {
		o.InitialRetryDelay = DefaultInitialRetryDelay
	}
	return o
}

// Manager owns all connection records and the FIFO pending queue. At most
// Options.MaxConcurrent readers run at once; the cap is enforced at
// subscribe time and again when a freed slot promotes a queued id.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*connection
	pending []string
	active  int
	closed  bool

	opts      Options
	opener    Opener
	callbacks Callbacks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewManager creates a manager dispatching decoded events to callbacks.
// Pass nil logger for default.
func NewManager(opener Opener, callbacks Callbacks, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		conns:     make(map[string]*connection),
		opts:      opts.withDefaults(),
		opener:    opener,
		callbacks: callbacks,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "stream"),
	}
}

// Subscribe adds streaming ids that are not already connecting or
// connected. Ids beyond the concurrency cap queue FIFO in the given order.
func (m *Manager) Subscribe(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, id := range ids {
		if id == "" {
			continue
		}
		c, exists := m.conns[id]
		if exists && (c.state == StateConnecting || c.state == StateConnected) {
			continue
		}
		if !exists {
			c = &connection{streamingID: id}
			m.conns[id] = c
		}

		// A re-subscribed errored/disconnected stream starts fresh
		c.stopRetryTimer()
		c.state = StateConnecting
		c.retryCount = 0

		if m.active < m.opts.MaxConcurrent {
			m.startLocked(c)
		} else {
			m.pending = append(m.pending, id)
			m.logger.Debug("stream queued", "streaming_id", id, "queue_depth", len(m.pending))
		}
	}
}

// Unsubscribe cancels a stream's read, aborts in-flight I/O and pending
// retries, and promotes one queued id into the freed slot.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	c.stopRetryTimer()
	m.removePendingLocked(id)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	m.releaseSlotLocked(c)
	c.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info("stream unsubscribed", "streaming_id", id)
	if m.callbacks.OnDisconnect != nil {
		m.callbacks.OnDisconnect(id)
	}
}

// ConnectionState returns the lifecycle state for a streaming id.
func (m *Manager) ConnectionState(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[id]
	if !ok {
		return "", false
	}
	return c.state, true
}

// Connection returns a telemetry snapshot for a streaming id.
func (m *Manager) Connection(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[id]
	if !ok {
		return Info{}, false
	}
	return c.info(), true
}

// ActiveCount returns the number of readers currently holding slots.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// PendingCount returns the FIFO queue depth.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close tears the manager down: every reader is cancelled, every backoff
// timer stopped, and the pending queue dropped. No work outlives the call.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, c := range m.conns {
		c.stopRetryTimer()
		c.state = StateDisconnected
		c.cancel = nil
	}
	m.pending = nil
	m.active = 0
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("stream manager closed")
}

// startLocked claims a slot and launches the reader goroutine.
// Caller holds m.mu and has verified the cap.
func (m *Manager) startLocked(c *connection) {
	ctx, cancel := context.WithCancel(m.ctx)
	c.cancel = cancel
	c.running = true
	m.active++

	m.wg.Add(1)
	go m.readLoop(ctx, c.streamingID)
}

// releaseSlotLocked frees the slot held by c, if any, and promotes queued
// ids while capacity remains. Caller holds m.mu.
func (m *Manager) releaseSlotLocked(c *connection) {
	if !c.running {
		return
	}
	c.running = false
	m.active--
	m.promoteLocked()
}

// promoteLocked starts queued connections while slots are free.
func (m *Manager) promoteLocked() {
	for len(m.pending) > 0 && m.active < m.opts.MaxConcurrent {
		id := m.pending[0]
		m.pending = m.pending[1:]

		c, ok := m.conns[id]
		if !ok || c.state != StateConnecting {
			continue
		}
		m.logger.Debug("stream promoted from queue", "streaming_id", id)
		m.startLocked(c)
	}
}

func (m *Manager) removePendingLocked(id string) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// readLoop opens the transport and pumps decoded events until the stream
// ends, fails, or is cancelled. Cancellation emits nothing further and never
// schedules a retry.
func (m *Manager) readLoop(ctx context.Context, id string) {
	defer m.wg.Done()

	rc, err := m.opener(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.handleFailure(id, fmt.Errorf("opening stream: %w", err))
		return
	}
	defer rc.Close()

	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.retryCount = 0
	m.mu.Unlock()

	m.logger.Info("stream connected", "streaming_id", id)
	if m.callbacks.OnConnect != nil {
		m.callbacks.OnConnect(id)
	}

	dec := protocol.NewDecoder(m.logger)
	buf := make([]byte, readBufferSize)
	for {
		n, err := rc.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			m.dispatch(ctx, id, dec.Decode(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.dispatch(ctx, id, dec.Flush())
				m.handleClosed(id)
				return
			}
			m.handleFailure(id, fmt.Errorf("reading stream: %w", err))
			return
		}
	}
}

// dispatch updates telemetry and forwards events in arrival order. A
// cancelled stream emits nothing.
func (m *Manager) dispatch(ctx context.Context, id string, events []*protocol.Event) {
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		if c, ok := m.conns[id]; ok {
			c.lastEvent = ev
			c.lastEventTime = time.Now()
		}
		m.mu.Unlock()

		if m.callbacks.OnEvent != nil {
			m.callbacks.OnEvent(id, ev)
		}
	}
}

// handleClosed records a graceful end of stream. Closure is not a failure:
// no retry is scheduled and the freed slot promotes a queued id.
func (m *Manager) handleClosed(id string) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.cancel = nil
	m.releaseSlotLocked(c)
	m.mu.Unlock()

	m.logger.Info("stream closed by server", "streaming_id", id)
	if m.callbacks.OnDisconnect != nil {
		m.callbacks.OnDisconnect(id)
	}
}

// handleFailure records a transport failure and schedules a reconnect with
// exponential backoff, surfacing the error only once retries are exhausted.
func (m *Manager) handleFailure(id string, err error) {
	m.mu.Lock()
	c, ok := m.conns[id]
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	c.state = StateError
	c.cancel = nil
	m.releaseSlotLocked(c)

	if c.retryCount >= m.opts.MaxRetries {
		m.mu.Unlock()
		m.logger.Error("stream failed, retries exhausted",
			"streaming_id", id,
			"retries", m.opts.MaxRetries,
			"error", err)
		if m.callbacks.OnError != nil {
			m.callbacks.OnError(id, err)
		}
		return
	}

	delay := m.opts.InitialRetryDelay << c.retryCount
	c.retryCount++
	attempt := c.retryCount
	c.retryTimer = time.AfterFunc(delay, func() { m.retry(id) })
	m.mu.Unlock()

	m.logger.Warn("stream failed, reconnect scheduled",
		"streaming_id", id,
		"attempt", attempt,
		"delay", delay,
		"error", err)
}

// retry moves an errored stream back to connecting when its backoff timer
// fires, respecting the concurrency cap.
func (m *Manager) retry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	c, ok := m.conns[id]
	if !ok || c.state != StateError {
		// Unsubscribed or resubscribed in the meantime
		return
	}
	c.retryTimer = nil
	c.state = StateConnecting

	if m.active < m.opts.MaxConcurrent {
		m.startLocked(c)
	} else {
		m.pending = append(m.pending, id)
	}
}
