// Package stream maintains concurrent event-stream connections to streaming
// sessions, bounded by a concurrency cap with a FIFO pending queue.
//
// # Manager
//
// The Manager owns all connection records:
//
//	mgr := stream.NewManager(opener, callbacks, stream.Options{}, logger)
//	mgr.Subscribe([]string{"stream-a", "stream-b"})
//	defer mgr.Close()
//
// Each subscribed id gets one reader goroutine that opens the transport,
// decodes the line-framed protocol, and forwards events to the OnEvent
// callback in arrival order. At most Options.MaxConcurrent readers run at
// once; excess ids wait in a FIFO queue and are promoted when a slot frees.
//
// # Retry
//
// A transport failure schedules a reconnect after
// InitialRetryDelay * 2^retryCount, up to MaxRetries attempts; exhaustion
// surfaces through OnError. Intentional cancellation (Unsubscribe, Close)
// never counts as a failure, emits no further events, and cancels any
// pending backoff timer.
package stream
