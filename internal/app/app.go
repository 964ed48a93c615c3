// Package app wires the client together: it resolves the session identity,
// keeps the telemetry stream bound to it, folds inbound snapshots into
// render-ready state, and runs the interactive chat loop.
package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"AgentLens/internal/api"
	"AgentLens/internal/cache"
	"AgentLens/internal/config"
	"AgentLens/internal/progress"
	"AgentLens/internal/session"
	"AgentLens/internal/stream"
	"AgentLens/internal/telemetry"
)

// App owns the component instances and their lifecycle. Everything is
// constructed here and torn down in Close; no package-level singletons.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store   *session.Store
	client  *api.Client
	stream  *stream.Manager
	traces  *cache.TraceCache
	cleanup func()

	out io.Writer

	mu        sync.Mutex
	sessionID string
	latest    progress.State
	lastTxn   string
}

// New constructs a fully wired App.
func New(cfg config.Config) (*App, error) {
	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := session.Open(cfg.DBPath, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	client, err := api.NewClient(cfg.APIBaseURL, logger, tracer, meter)
	if err != nil {
		cleanup()
		store.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	manager, err := stream.NewManager(stream.Config{
		BaseURL:   cfg.StreamBaseURL,
		BaseDelay: cfg.ReconnectBaseDelay(),
	}, logger, meter)
	if err != nil {
		cleanup()
		store.Close()
		return nil, fmt.Errorf("failed to create stream manager: %w", err)
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		client:  client,
		stream:  manager,
		traces:  cache.NewTraceCache(),
		cleanup: cleanup,
		out:     os.Stdout,
	}, nil
}

// Close tears down the stream, the session store and the telemetry pipeline.
func (a *App) Close() {
	a.stream.Disconnect()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close session store", "error", err)
	}
	a.cleanup()
}

// ensureSession returns a live session id, creating and persisting a fresh
// one when none is stored or the stored one has expired.
func (a *App) ensureSession(ctx context.Context) (string, error) {
	if id, ok := a.store.GetSessionID(); ok {
		a.logger.Info("reusing stored session", "session_id", id)
		return id, nil
	}

	resp, err := a.client.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if err := a.store.SaveSession(resp.SessionID, resp.ExpiresAt); err != nil {
		a.logger.Warn("failed to persist session, continuing in-memory", "error", err)
	}
	return resp.SessionID, nil
}

// handleSnapshot is the stream callback. Each snapshot is projected exactly
// once, in delivery order; the projection replaces the previous state
// wholesale and is cached by transaction for later correlation.
func (a *App) handleSnapshot(snap progress.Snapshot) {
	state := progress.Project(snap)
	a.traces.Put(state)

	a.mu.Lock()
	prev := a.latest
	a.latest = state
	a.lastTxn = state.TransactionID
	a.mu.Unlock()

	if state.CurrentAgent != "" && state.CurrentAgent != prev.CurrentAgent {
		fmt.Fprintf(a.out, "  [%s agent working...]\n", state.CurrentAgent)
	}
	if prev.IsActive && !state.IsActive {
		fmt.Fprintf(a.out, "  [analysis complete]\n")
	}

	a.logger.Debug("snapshot projected",
		"transaction_id", state.TransactionID,
		"current_agent", state.CurrentAgent,
		"events", len(state.ProgressEvents),
		"active", state.IsActive)
}

func (a *App) sendMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	msg, err := a.client.SendMessage(ctx, sessionID, text)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.lastTxn = msg.TransactionID
	a.mu.Unlock()

	fmt.Fprintf(a.out, "Assistant: %s\n\n", msg.Content)
	return nil
}

// rebindSession drops the stored session, creates a fresh one and moves the
// stream over to it. The old connection is torn down before the new one
// opens, so no stale snapshot crosses over.
func (a *App) rebindSession(ctx context.Context) error {
	a.store.ClearSession()

	id, err := a.ensureSession(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.sessionID = id
	a.latest = progress.State{}
	a.lastTxn = ""
	a.mu.Unlock()

	a.stream.Connect(id, a.handleSnapshot)
	fmt.Fprintf(a.out, "Started new session: %s\n", id)
	return nil
}

func (a *App) printHistory(ctx context.Context) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	offset := 0
	for {
		page, err := a.client.GetHistory(ctx, sessionID, a.cfg.HistoryPageSize, offset)
		if err != nil {
			return err
		}
		// An empty page ends the walk regardless of has_more; re-requesting
		// the same offset would spin forever.
		if len(page.Messages) == 0 {
			return nil
		}
		for _, msg := range page.Messages {
			fmt.Fprintf(a.out, "[%s] %s\n", msg.Timestamp.Format(time.RFC3339), msg.Content)
		}
		if !page.HasMore {
			return nil
		}
		offset += len(page.Messages)
	}
}

func (a *App) printStatus() {
	a.mu.Lock()
	sessionID := a.sessionID
	state := a.latest
	a.mu.Unlock()

	fmt.Fprintf(a.out, "Session:   %s\n", sessionID)
	fmt.Fprintf(a.out, "Stream:    connected=%v\n", a.stream.IsConnected())
	if state.IsActive {
		fmt.Fprintf(a.out, "Analysis:  active, current agent %s\n", state.CurrentAgent)
	} else {
		fmt.Fprintf(a.out, "Analysis:  idle\n")
	}
}

// printTrace prints the agent timeline behind the most recent reply.
func (a *App) printTrace() {
	a.mu.Lock()
	txn := a.lastTxn
	a.mu.Unlock()

	if txn == "" {
		fmt.Fprintln(a.out, "No transaction yet.")
		return
	}

	state, ok := a.traces.Get(txn)
	if !ok {
		fmt.Fprintf(a.out, "No trace recorded for transaction %s.\n", txn)
		return
	}

	fmt.Fprintf(a.out, "Trace for transaction %s:\n", txn)
	now := time.Now()
	for _, entry := range state.ExecutionOrder {
		marker := "done"
		if entry.EndTime == nil {
			marker = "running"
		}
		fmt.Fprintf(a.out, "  %-12s %8s  %s\n", entry.Agent, entry.Duration(now).Round(time.Millisecond), marker)
	}
	for _, event := range state.ProgressEvents {
		line, err := event.Describe()
		if err != nil {
			a.logger.Warn("skipping unrenderable event", "error", err)
			continue
		}
		fmt.Fprintf(a.out, "  #%d %s\n", event.ExecutionOrder, line)
	}
}

// handleCommand handles slash commands; the bool result requests exit.
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		return false, a.rebindSession(ctx)

	case "/history":
		return false, a.printHistory(ctx)

	case "/status":
		a.printStatus()
		return false, nil

	case "/trace":
		a.printTrace()
		return false, nil

	case "/help":
		fmt.Fprintln(a.out, "Available commands:")
		fmt.Fprintln(a.out, "  /quit, /exit   - Exit")
		fmt.Fprintln(a.out, "  /new-session   - Drop the stored session and start a fresh one")
		fmt.Fprintln(a.out, "  /history       - Print the conversation history")
		fmt.Fprintln(a.out, "  /status        - Show session and stream status")
		fmt.Fprintln(a.out, "  /trace         - Show the agent trace behind the last reply")
		fmt.Fprintln(a.out, "  /help          - Show this help message")
		return false, nil

	default:
		fmt.Fprintf(a.out, "Unknown command %s, try /help\n", parts[0])
		return false, nil
	}
}

// Run resolves the session, binds the stream to it and enters the
// interactive loop.
func (a *App) Run() error {
	defer a.Close()

	ctx := context.Background()

	sessionID, err := a.ensureSession(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.sessionID = sessionID
	a.mu.Unlock()

	a.stream.Connect(sessionID, a.handleSnapshot)

	fmt.Fprintln(a.out, "=== AgentLens ===")
	fmt.Fprintf(a.out, "Session: %s\n", sessionID)
	fmt.Fprintln(a.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(a.out)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(a.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(a.out, "Error: %v\n", err)
				a.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := a.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			a.logger.Error("failed to send message", "error", err)
		}
	}

	fmt.Fprintln(a.out, "Goodbye!")
	return nil
}
