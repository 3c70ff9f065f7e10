// ABOUTME: Tests for the stream connection manager
// ABOUTME: Covers cap/queue promotion, backoff retry, cancellation, teardown

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/protocol"
)

// fakeTransport hands out in-memory pipes keyed by streaming id. Reads
// unblock with the context error on cancellation, like an HTTP body.
type fakeTransport struct {
	mu      sync.Mutex
	writers map[string]*io.PipeWriter
	opens   atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writers: make(map[string]*io.PipeWriter)}
}

func (f *fakeTransport) open(ctx context.Context, id string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	f.mu.Lock()
	f.writers[id] = pw
	f.mu.Unlock()
	f.opens.Add(1)

	go func() {
		<-ctx.Done()
		pr.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func (f *fakeTransport) writer(id string) *io.PipeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[id]
}

func (f *fakeTransport) send(t *testing.T, id, line string) {
	t.Helper()
	w := f.writer(id)
	require.NotNil(t, w, "no open stream for %s", id)
	_, err := w.Write([]byte(line))
	require.NoError(t, err)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestManager_SubscribeRespectsCapWithFIFOQueue(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft.open, Callbacks{}, Options{MaxConcurrent: 2}, nil)
	defer m.Close()

	ids := []string{"s-1", "s-2", "s-3", "s-4", "s-5"}
	m.Subscribe(ids)

	eventually(t, func() bool { return m.ActiveCount() == 2 }, "two active connections")
	assert.Equal(t, 3, m.PendingCount())

	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "s-1 connected")

	st, ok := m.ConnectionState("s-3")
	require.True(t, ok)
	assert.Equal(t, StateConnecting, st, "queued ids stay connecting")
}

func TestManager_UnsubscribePromotesExactlyOnePendingID(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft.open, Callbacks{}, Options{MaxConcurrent: 2}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1", "s-2", "s-3", "s-4"})
	eventually(t, func() bool { return m.ActiveCount() == 2 }, "cap filled")
	require.Equal(t, 2, m.PendingCount())

	m.Unsubscribe("s-1")

	// FIFO: s-3 was queued first
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-3")
		return st == StateConnected
	}, "s-3 promoted")
	assert.Equal(t, 2, m.ActiveCount())
	assert.Equal(t, 1, m.PendingCount())

	st, _ := m.ConnectionState("s-1")
	assert.Equal(t, StateDisconnected, st)
	st, _ = m.ConnectionState("s-4")
	assert.Equal(t, StateConnecting, st)
}

func TestManager_EventsDispatchedInArrivalOrder(t *testing.T) {
	ft := newFakeTransport()
	events := make(chan *protocol.Event, 16)
	m := NewManager(ft.open, Callbacks{
		OnEvent: func(_ string, ev *protocol.Event) { events <- ev },
	}, Options{}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "connected")

	ft.send(t, "s-1", "data: {\"type\":\"connected\"}\ndata: {\"type\":\"assistant\",\"message\":{\"id\":\"m-1\",\"content\":\"hi\"}}\n")
	ft.send(t, "s-1", "data: {\"type\":\"result\",\"subtype\":\"success\"}\n")

	want := []protocol.EventType{protocol.EventConnected, protocol.EventAssistant, protocol.EventResult}
	for i, w := range want {
		select {
		case ev := <-events:
			assert.Equal(t, w, ev.Type, "event %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	info, ok := m.Connection("s-1")
	require.True(t, ok)
	require.NotNil(t, info.LastEvent)
	assert.Equal(t, protocol.EventResult, info.LastEvent.Type)
	assert.False(t, info.LastEventTime.IsZero())
}

func TestManager_SubscribeIgnoresAlreadyConnectedIDs(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft.open, Callbacks{}, Options{}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "connected")

	m.Subscribe([]string{"s-1", "s-1"})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), ft.opens.Load(), "duplicate subscribe must not reopen")
	assert.Equal(t, 1, m.ActiveCount())
}

func TestManager_RetryBackoffThenExhaustion(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	opener := func(ctx context.Context, id string) (io.ReadCloser, error) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	errs := make(chan error, 1)
	d := 20 * time.Millisecond
	m := NewManager(opener, Callbacks{
		OnError: func(_ string, err error) { errs <- err },
	}, Options{MaxRetries: 3, InitialRetryDelay: d}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})

	var exhausted error
	select {
	case exhausted = <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("retries never exhausted")
	}
	assert.ErrorContains(t, exhausted, "connection refused")

	mu.Lock()
	defer mu.Unlock()
	// Initial attempt plus retries after d, 2d, 4d
	require.Len(t, attempts, 4)
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), d)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 2*d)
	assert.GreaterOrEqual(t, attempts[3].Sub(attempts[2]), 4*d)

	st, _ := m.ConnectionState("s-1")
	assert.Equal(t, StateError, st)
}

func TestManager_NoFurtherAttemptAfterExhaustion(t *testing.T) {
	var opens atomic.Int32
	opener := func(ctx context.Context, id string) (io.ReadCloser, error) {
		opens.Add(1)
		return nil, errors.New("down")
	}

	errs := make(chan error, 1)
	m := NewManager(opener, Callbacks{
		OnError: func(_ string, err error) { errs <- err },
	}, Options{MaxRetries: 2, InitialRetryDelay: 5 * time.Millisecond}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	<-errs

	got := opens.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, got, opens.Load(), "no attempts after exhaustion")
}

func TestManager_SuccessResetsRetryCount(t *testing.T) {
	var opens atomic.Int32
	ft := newFakeTransport()
	opener := func(ctx context.Context, id string) (io.ReadCloser, error) {
		if opens.Add(1) == 1 {
			return nil, errors.New("first attempt fails")
		}
		return ft.open(ctx, id)
	}

	m := NewManager(opener, Callbacks{}, Options{InitialRetryDelay: 5 * time.Millisecond}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "reconnected after one failure")

	info, _ := m.Connection("s-1")
	assert.Equal(t, 0, info.RetryCount, "retry count resets on success")
}

func TestManager_UnsubscribeEmitsNoFurtherEventsAndNoRetry(t *testing.T) {
	ft := newFakeTransport()
	var received atomic.Int32
	m := NewManager(ft.open, Callbacks{
		OnEvent: func(string, *protocol.Event) { received.Add(1) },
	}, Options{}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "connected")

	ft.send(t, "s-1", "data: {\"type\":\"connected\"}\n")
	eventually(t, func() bool { return received.Load() == 1 }, "first event delivered")

	m.Unsubscribe("s-1")
	eventually(t, func() bool { return m.ActiveCount() == 0 }, "slot freed")

	// Writing after cancellation must not reach the callback
	if w := ft.writer("s-1"); w != nil {
		_, _ = w.Write([]byte("data: {\"type\":\"system\"}\n"))
	}
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, int32(1), ft.opens.Load(), "cancellation must not trigger retry")

	st, _ := m.ConnectionState("s-1")
	assert.Equal(t, StateDisconnected, st)
}

func TestManager_UnsubscribeCancelsScheduledRetry(t *testing.T) {
	var opens atomic.Int32
	opener := func(ctx context.Context, id string) (io.ReadCloser, error) {
		opens.Add(1)
		return nil, errors.New("down")
	}

	m := NewManager(opener, Callbacks{}, Options{InitialRetryDelay: 40 * time.Millisecond}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateError
	}, "first failure recorded")

	m.Unsubscribe("s-1")
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, int32(1), opens.Load(), "pending backoff timer must be cancelled")
}

func TestManager_ServerClosureFreesSlotWithoutRetry(t *testing.T) {
	ft := newFakeTransport()
	disconnects := make(chan string, 4)
	m := NewManager(ft.open, Callbacks{
		OnDisconnect: func(id string) { disconnects <- id },
	}, Options{MaxConcurrent: 1}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1", "s-2"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "s-1 connected")
	require.Equal(t, 1, m.PendingCount())

	require.NoError(t, ft.writer("s-1").Close()) // server ends the stream

	select {
	case id := <-disconnects:
		assert.Equal(t, "s-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect notification")
	}

	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-2")
		return st == StateConnected
	}, "queued stream promoted into freed slot")

	assert.Equal(t, int32(2), ft.opens.Load(), "closure is not retried")
	st, _ := m.ConnectionState("s-1")
	assert.Equal(t, StateDisconnected, st)
}

func TestManager_TrailingLineFlushedOnEOF(t *testing.T) {
	ft := newFakeTransport()
	events := make(chan *protocol.Event, 4)
	m := NewManager(ft.open, Callbacks{
		OnEvent: func(_ string, ev *protocol.Event) { events <- ev },
	}, Options{}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "connected")

	// No trailing newline before the server closes
	ft.send(t, "s-1", "data: {\"type\":\"result\",\"subtype\":\"success\"}")
	require.NoError(t, ft.writer("s-1").Close())

	select {
	case ev := <-events:
		assert.Equal(t, protocol.EventResult, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("flushed event never arrived")
	}
}

func TestManager_CloseCancelsEverything(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(ft.open, Callbacks{}, Options{MaxConcurrent: 2}, nil)

	m.Subscribe([]string{"s-1", "s-2", "s-3"})
	eventually(t, func() bool { return m.ActiveCount() == 2 }, "cap filled")

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; reader goroutines leaked")
	}

	assert.Equal(t, 0, m.ActiveCount())
	assert.Equal(t, 0, m.PendingCount())

	// Subscribing after Close is a no-op
	m.Subscribe([]string{"s-9"})
	_, ok := m.ConnectionState("s-9")
	assert.False(t, ok)
}

func TestManager_ResubscribeAfterFailureStartsFresh(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ft := newFakeTransport()
	opener := func(ctx context.Context, id string) (io.ReadCloser, error) {
		if fail.Load() {
			return nil, fmt.Errorf("temporarily down")
		}
		return ft.open(ctx, id)
	}

	errs := make(chan error, 1)
	m := NewManager(opener, Callbacks{
		OnError: func(_ string, err error) { errs <- err },
	}, Options{MaxRetries: 1, InitialRetryDelay: 5 * time.Millisecond}, nil)
	defer m.Close()

	m.Subscribe([]string{"s-1"})
	<-errs // exhausted

	fail.Store(false)
	m.Subscribe([]string{"s-1"})

	eventually(t, func() bool {
		st, _ := m.ConnectionState("s-1")
		return st == StateConnected
	}, "resubscribe reconnects after exhaustion")
}
