// ABOUTME: Live stream follower wiring the manager, aggregators, and store
// ABOUTME: Renders decoded events to the terminal as they arrive

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/chat"
	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/protocol"
	"github.com/2389/coven-console/internal/store"
	"github.com/2389/coven-console/internal/stream"
)

func runFollow(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: coven-console follow <streaming-id>...")
	}
	ids, err := dedupe(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, logger)

	f := newFollower(st, logger, len(ids))

	mgr := stream.NewManager(client.OpenStream, stream.Callbacks{
		OnEvent:      f.onEvent,
		OnConnect:    f.onConnect,
		OnDisconnect: f.onDisconnect,
		OnError:      f.onError,
	}, stream.Options{
		MaxConcurrent:     cfg.Stream.MaxConcurrentConnections,
		MaxRetries:        cfg.Stream.MaxRetries,
		InitialRetryDelay: cfg.Stream.InitialRetryDelay,
	}, logger)

	logger.Info("following streams",
		"count", len(ids),
		"max_concurrent", cfg.Stream.MaxConcurrentConnections,
	)
	mgr.Subscribe(ids)

	select {
	case <-ctx.Done():
		fmt.Println()
		logger.Info("interrupted, shutting down")
	case <-f.done:
		logger.Info("all streams finished")
	}

	mgr.Close()
	f.persistAll()
	f.printSummary()
	return nil
}

// follower fans decoded events out to one aggregator per streaming id and
// mirrors settled transcripts into the local store.
type follower struct {
	mu        sync.Mutex
	st        store.Store
	logger    *slog.Logger
	aggs      map[string]*chat.Aggregator
	status    map[string]chat.StreamStatus
	remaining int
	done      chan struct{}
}

func newFollower(st store.Store, logger *slog.Logger, streams int) *follower {
	return &follower{
		st:        st,
		logger:    logger.With("component", "follower"),
		aggs:      make(map[string]*chat.Aggregator),
		status:    make(map[string]chat.StreamStatus),
		remaining: streams,
		done:      make(chan struct{}),
	}
}

// aggregatorLocked returns the aggregator for a streaming id, creating it on
// first use. Caller holds f.mu.
func (f *follower) aggregatorLocked(id string) *chat.Aggregator {
	agg, ok := f.aggs[id]
	if !ok {
		agg = chat.NewAggregator("", chat.Callbacks{
			OnSessionChange: func(newSessionID string) {
				color.New(color.FgHiBlack).Printf("[%s] session continued as %s\n", id, newSessionID)
			},
		}, f.logger)
		f.aggs[id] = agg
	}
	return agg
}

func (f *follower) onEvent(id string, ev *protocol.Event) {
	f.mu.Lock()
	agg := f.aggregatorLocked(id)
	agg.HandleStreamEvent(ev)
	f.status[id] = chat.ApplyEvent(ev, f.status[id])
	f.mu.Unlock()

	renderEvent(id, ev)

	// Settled turns are the durable checkpoints worth mirroring.
	if ev.Type == protocol.EventResult {
		f.persist(id)
	}
}

func (f *follower) onConnect(id string) {
	color.New(color.FgGreen).Printf("[%s] connected\n", id)
}

func (f *follower) onDisconnect(id string) {
	color.New(color.FgHiBlack).Printf("[%s] disconnected\n", id)
	f.finish(id)
}

func (f *follower) onError(id string, err error) {
	color.New(color.FgRed).Printf("[%s] stream failed: %v\n", id, err)
	f.finish(id)
}

// finish counts a stream out; the last one closes done.
func (f *follower) finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.remaining--
	if f.remaining == 0 {
		close(f.done)
	}
}

// persist mirrors one stream's transcript into the store under its current
// session id.
func (f *follower) persist(id string) {
	f.mu.Lock()
	agg, ok := f.aggs[id]
	f.mu.Unlock()
	if !ok {
		return
	}

	sessionID := agg.SessionID()
	msgs := agg.Messages()
	if sessionID == "" || len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.st.ReplaceMessages(ctx, sessionID, msgs); err != nil {
		f.logger.Warn("persisting transcript failed",
			"streaming_id", id,
			"session_id", sessionID,
			"error", err)
	}
}

func (f *follower) persistAll() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.aggs))
	for id := range f.aggs {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	for _, id := range ids {
		f.persist(id)
	}
}

func (f *follower) printSummary() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.status) == 0 {
		return
	}

	gray := color.New(color.FgHiBlack)
	fmt.Println()
	for id, s := range f.status {
		gray.Printf("[%s] %s: %d events, %d/%d tools, %d in / %d out tokens\n",
			id, s.StatusText, s.Events, s.ToolsCompleted, s.ToolsInvoked,
			s.InputTokens, s.OutputTokens)
	}
}

// renderEvent prints one decoded event. Output is line oriented so
// interleaved streams stay readable.
func renderEvent(id string, ev *protocol.Event) {
	prefix := color.New(color.FgHiBlack).Sprintf("[%s] ", id)

	switch ev.Type {
	case protocol.EventSystem:
		if ev.Subtype != "" {
			color.New(color.FgHiBlack).Printf("%ssystem: %s\n", prefix, ev.Subtype)
		}

	case protocol.EventUser:
		if ev.Message == nil {
			return
		}
		if text := strings.TrimSpace(ev.Message.Content.Plain()); text != "" {
			if hasToolResult(ev.Message.Content.Blocks) {
				color.New(color.FgHiBlack).Printf("%s  ✓ %s\n", prefix, firstLine(text))
			} else {
				fmt.Printf("%s%s %s\n", prefix, color.GreenString("user>"), text)
			}
		}

	case protocol.EventAssistant:
		if ev.Message == nil {
			return
		}
		renderAssistantBlocks(prefix, ev.Message.Content)

	case protocol.EventPermissionRequest:
		color.New(color.FgYellow).Printf("%swaiting for permission\n", prefix)

	case protocol.EventResult:
		c := color.New(color.FgGreen)
		if ev.Subtype != protocol.ResultSubtypeSuccess {
			c = color.New(color.FgYellow)
		}
		line := fmt.Sprintf("%sresult: %s", prefix, ev.Subtype)
		if ev.Usage != nil {
			line += fmt.Sprintf(" (%d in / %d out tokens)", ev.Usage.InputTokens, ev.Usage.OutputTokens)
		}
		c.Println(line)

	case protocol.EventError:
		color.New(color.FgRed).Printf("%serror: %s\n", prefix, ev.Error)
	}
}

func renderAssistantBlocks(prefix string, content protocol.Content) {
	if content.Blocks == nil && content.Text != "" {
		fmt.Printf("%s%s %s\n", prefix, color.CyanString("agent>"), content.Text)
		return
	}
	for _, b := range content.Blocks {
		switch b.Type {
		case protocol.BlockText:
			if b.Text != "" {
				fmt.Printf("%s%s %s\n", prefix, color.CyanString("agent>"), b.Text)
			}
		case protocol.BlockThinking:
			if b.Thinking != "" {
				color.New(color.FgHiBlack).Printf("%s  %s\n", prefix, firstLine(b.Thinking))
			}
		case protocol.BlockToolUse:
			color.New(color.FgYellow).Printf("%s  → %s\n", prefix, chat.ToolLabel(b.Name))
		}
	}
}

// renderMessage prints one grouped message with its nested sub-messages,
// used by the history command.
func renderMessage(m *chat.ChatMessage, depth int) {
	indent := strings.Repeat("  ", depth)

	switch m.Type {
	case chat.TypeUser:
		if m.HasToolResult() {
			color.New(color.FgHiBlack).Printf("%s✓ %s\n", indent, firstLine(m.Content.Plain()))
		} else {
			fmt.Printf("%s%s %s\n", indent, color.GreenString("user>"), m.Content.Plain())
		}
	case chat.TypeAssistant:
		renderAssistantBlocks(indent, m.Content)
	case chat.TypeError:
		color.New(color.FgRed).Printf("%serror: %s\n", indent, m.Content.Plain())
	}

	for _, sub := range m.SubMessages {
		renderMessage(sub, depth+1)
	}
}

func hasToolResult(blocks []protocol.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == protocol.BlockToolResult {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
