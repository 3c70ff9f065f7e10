// ABOUTME: Entry point for coven-console, a terminal follower for agent streams
// ABOUTME: Follows live event streams and replays stored session transcripts

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-console/internal/api"
	"github.com/2389/coven-console/internal/chat"
	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the console config file.
// Priority: COVEN_CONSOLE_CONFIG env var > XDG_CONFIG_HOME/coven/console.yaml > ~/.config/coven/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CONSOLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "console.yaml")
}

// getDataPath returns the path to the console data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  follow <streaming-id>...  Follow live agent streams")
		fmt.Println("  history <session-id>      Show a stored session transcript")
		fmt.Println("  sessions                  List stored sessions")
		fmt.Println("  init                      Create a new config file interactively")
		fmt.Println("  version                   Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "follow":
		err = runFollow(ctx, os.Args[2:])
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "sessions":
		err = runSessions(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	// Logs go to stderr; stdout is reserved for the transcript.
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func runHistory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: coven-console history <session-id>")
	}
	sessionID := args[0]

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

	msgs, err := st.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reading local history: %w", err)
	}

	// Nothing mirrored locally yet: fetch from the gateway and keep a copy.
	if len(msgs) == 0 {
		client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, logger)
		msgs, err = client.History(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("fetching history: %w", err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("no messages for session %s", sessionID)
		}
		if err := st.ReplaceMessages(ctx, sessionID, msgs); err != nil {
			logger.Warn("persisting fetched history failed", "session_id", sessionID, "error", err)
		}
	}

	agg := chat.NewAggregator(sessionID, chat.Callbacks{}, logger)
	agg.SetAllMessages(msgs)

	color.New(color.FgHiBlack).Printf("session %s (%d messages)\n\n", sessionID, len(msgs))
	for _, m := range agg.Grouped() {
		renderMessage(m, 0)
	}
	return nil
}

func runSessions(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	ids, err := st.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("no stored sessions")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-console configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "console.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Gateway Configuration ---")
	baseURL := prompt(reader, "Gateway base URL", "http://localhost:8080")
	token := prompt(reader, "API token (leave empty to use ${COVEN_TOKEN})", "")
	if token == "" {
		token = "${COVEN_TOKEN}"
	}

	fmt.Println("\n--- Stream Configuration ---")
	maxConns := prompt(reader, "Max concurrent stream connections", "5")
	maxRetries := prompt(reader, "Max reconnect attempts", "3")
	retryDelay := prompt(reader, "Initial retry delay", "1s")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-console configuration\n")
	cfg.WriteString("# Generated by coven-console init\n\n")

	cfg.WriteString("api:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", token))
	cfg.WriteString("\n")

	cfg.WriteString("stream:\n")
	cfg.WriteString(fmt.Sprintf("  max_concurrent_connections: %s\n", maxConns))
	cfg.WriteString(fmt.Sprintf("  max_retries: %s\n", maxRetries))
	cfg.WriteString(fmt.Sprintf("  initial_retry_delay: \"%s\"\n", retryDelay))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo follow a stream:")
	fmt.Printf("  coven-console follow <streaming-id>\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// dedupe preserves order while dropping repeated ids from the command line.
func dedupe(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errors.New("empty streaming id")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
