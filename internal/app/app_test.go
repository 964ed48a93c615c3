package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentLens/internal/api"
	"AgentLens/internal/cache"
	"AgentLens/internal/config"
	"AgentLens/internal/progress"
	"AgentLens/internal/session"
	"AgentLens/internal/stream"
)

func newBareApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return &App{
		cfg:    config.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		traces: cache.NewTraceCache(),
		out:    out,
	}, out
}

func TestHandleSnapshotRendersAgentTransitions(t *testing.T) {
	a, out := newBareApp(t)

	a.handleSnapshot(progress.Snapshot{
		Type:          progress.SnapshotType,
		TransactionID: "txn_1",
		CurrentAgent:  "research",
		ProgressEvents: []progress.Event{
			{Agent: "research", EventType: progress.EventAgentStart, Status: progress.StatusRunning, ExecutionOrder: 1},
		},
	})
	assert.Contains(t, out.String(), "research agent working")

	// Same agent again: no duplicate transition line.
	before := out.Len()
	a.handleSnapshot(progress.Snapshot{
		Type:          progress.SnapshotType,
		TransactionID: "txn_1",
		CurrentAgent:  "research",
		ProgressEvents: []progress.Event{
			{Agent: "research", EventType: progress.EventTaskStart, Status: progress.StatusRunning, ExecutionOrder: 2},
		},
	})
	assert.Equal(t, before, out.Len())

	a.handleSnapshot(progress.Snapshot{
		Type:          progress.SnapshotType,
		TransactionID: "txn_1",
		ProgressEvents: []progress.Event{
			{Agent: "research", EventType: progress.EventAgentComplete, Status: progress.StatusCompleted, ExecutionOrder: 3},
		},
	})
	assert.Contains(t, out.String(), "analysis complete")

	state, ok := a.traces.Get("txn_1")
	require.True(t, ok)
	assert.False(t, state.IsActive)
}

func TestEnsureSessionReusesStoredID(t *testing.T) {
	a, _ := newBareApp(t)

	store, err := session.Open(filepath.Join(t.TempDir(), "state.db"), a.logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	a.store = store

	created := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		created++
		json.NewEncoder(w).Encode(api.CreateSessionResponse{
			SessionID: "sess_new",
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, a.logger, nil, nil)
	require.NoError(t, err)
	a.client = client

	id, err := a.ensureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_new", id)
	assert.Equal(t, 1, created)

	// Second call finds the persisted record and skips the network.
	id, err = a.ensureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_new", id)
	assert.Equal(t, 1, created)
}

func TestPrintTraceShowsTimeline(t *testing.T) {
	a, out := newBareApp(t)

	end := 1012.0
	a.traces.Put(progress.State{
		TransactionID: "txn_5",
		ExecutionOrder: []progress.ExecutionOrderEntry{
			{Agent: "research", StartTime: 1000, EndTime: &end},
		},
		ProgressEvents: []progress.Event{
			{Agent: "research", EventType: progress.EventAgentComplete, Status: progress.StatusCompleted, ExecutionOrder: 1},
		},
	})
	a.lastTxn = "txn_5"

	a.printTrace()

	assert.Contains(t, out.String(), "txn_5")
	assert.Contains(t, out.String(), "research")
	assert.Contains(t, out.String(), "done")
}

func TestPrintTraceWithoutTransaction(t *testing.T) {
	a, out := newBareApp(t)
	a.printTrace()
	assert.Contains(t, out.String(), "No transaction yet")
}

// A server page with has_more set but no messages must end the history walk
// instead of re-requesting the same offset forever.
func TestPrintHistoryStopsOnEmptyPage(t *testing.T) {
	a, _ := newBareApp(t)

	requests := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/sess_1/messages", func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(api.HistoryResponse{Messages: nil, HasMore: true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, a.logger, nil, nil)
	require.NoError(t, err)
	a.client = client
	a.sessionID = "sess_1"

	done := make(chan error, 1)
	go func() { done <- a.printHistory(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("printHistory did not return on an empty has_more page")
	}
	assert.Equal(t, 1, requests)
}

func TestRebindSessionClearsLastTransaction(t *testing.T) {
	a, out := newBareApp(t)

	store, err := session.Open(filepath.Join(t.TempDir(), "state.db"), a.logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	a.store = store

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.CreateSessionResponse{
			SessionID: "sess_fresh",
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL, a.logger, nil, nil)
	require.NoError(t, err)
	a.client = client

	manager, err := stream.NewManager(stream.Config{
		BaseURL:   "ws://127.0.0.1:1",
		BaseDelay: time.Hour,
	}, a.logger, nil)
	require.NoError(t, err)
	t.Cleanup(manager.Disconnect)
	a.stream = manager

	a.lastTxn = "txn_old"
	a.traces.Put(progress.State{TransactionID: "txn_old", IsActive: true})

	require.NoError(t, a.rebindSession(context.Background()))

	a.mu.Lock()
	lastTxn := a.lastTxn
	a.mu.Unlock()
	assert.Empty(t, lastTxn)

	out.Reset()
	a.printTrace()
	assert.Contains(t, out.String(), "No transaction yet")
}

func TestUnknownCommandIsReported(t *testing.T) {
	a, out := newBareApp(t)

	quit, err := a.handleCommand(context.Background(), "/frobnicate")
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Unknown command /frobnicate")
}
