// Package stream maintains the client's one live WebSocket connection to the
// progress telemetry endpoint, recovering from transport failure with a
// capped, linearly backed-off reconnect policy.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"AgentLens/internal/progress"
)

// SnapshotHandler receives each successfully decoded progress snapshot in
// transport delivery order.
type SnapshotHandler func(progress.Snapshot)

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
	handshakeTimeout   = 10 * time.Second
)

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Config tunes the streaming connection.
type Config struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8000". The
	// session id is appended as /ws/{session_id}.
	BaseURL string
	// BaseDelay is the unit of the linear reconnect backoff. Attempt n
	// waits BaseDelay*n.
	BaseDelay time.Duration
	// MaxAttempts caps consecutive reconnect attempts before going idle.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	out := c
	if out.BaseDelay <= 0 {
		out.BaseDelay = defaultBaseDelay
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultMaxAttempts
	}
	return out
}

// Manager owns at most one live streaming connection per logical session.
// All transport state, the attempt counter and the pending reconnect timer
// live here; no other component touches them.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	snapshots  metric.Int64Counter
	malformed  metric.Int64Counter
	reconnects metric.Int64Counter

	mu         sync.Mutex
	state      connState
	conn       *websocket.Conn
	sessionID  string
	handler    SnapshotHandler
	attempts   int
	generation uint64
	timer      *time.Timer
}

// NewManager creates a Manager. The meter is optional; without it the
// manager only logs.
func NewManager(cfg Config, logger *slog.Logger, meter metric.Meter) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	m := &Manager{cfg: cfg.withDefaults(), logger: logger, state: stateIdle}

	if meter != nil {
		var err error
		if m.snapshots, err = meter.Int64Counter(
			"stream.snapshots.received",
			metric.WithDescription("Progress snapshots decoded and delivered"),
		); err != nil {
			logger.Warn("failed to create snapshot counter", "error", err)
		}
		if m.malformed, err = meter.Int64Counter(
			"stream.payloads.malformed",
			metric.WithDescription("Inbound payloads dropped as undecodable"),
		); err != nil {
			logger.Warn("failed to create malformed counter", "error", err)
		}
		if m.reconnects, err = meter.Int64Counter(
			"stream.reconnect.attempts",
			metric.WithDescription("Reconnect attempts fired after an unplanned close"),
		); err != nil {
			logger.Warn("failed to create reconnect counter", "error", err)
		}
	}

	return m, nil
}

// Connect binds the manager to sessionID and opens the streaming connection.
// Calling it again for the same session while the connection is open is a
// no-op. Calling it with a different session tears the old connection down
// first; no snapshot from the old connection reaches handler afterwards.
// The reconnect-attempt counter starts from zero.
func (m *Manager) Connect(sessionID string, handler SnapshotHandler) {
	m.mu.Lock()
	if m.state == stateOpen && m.sessionID == sessionID {
		m.mu.Unlock()
		return
	}

	m.teardownLocked()
	m.sessionID = sessionID
	m.handler = handler
	m.attempts = 0
	m.state = stateConnecting
	gen := m.generation
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect closes the active connection if any, cancels any pending
// reconnect timer and unbinds the session. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.sessionID = ""
	m.attempts = 0
}

// IsConnected reports the transport's current open/closed state only; a
// pending reconnect does not count as connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateOpen
}

// teardownLocked invalidates in-flight work for the current binding and
// closes the transport. The handler is cleared before the close so a read
// racing the teardown cannot deliver to it.
func (m *Manager) teardownLocked() {
	m.generation++
	m.handler = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(500*time.Millisecond))
		m.conn.Close()
		m.conn = nil
	}
	m.state = stateIdle
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	sessionID := m.sessionID
	m.state = stateConnecting
	m.mu.Unlock()

	url := fmt.Sprintf("%s/ws/%s", strings.TrimRight(m.cfg.BaseURL, "/"), sessionID)
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(context.Background(), url, nil)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.state = stateClosed
		m.logger.Warn("failed to open stream connection", "session_id", sessionID, "error", err)
		m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.state = stateOpen
	m.attempts = 0
	m.mu.Unlock()

	m.logger.Info("stream connected", "session_id", sessionID, "url", url)
	go m.readLoop(gen, conn)
}

// readLoop pumps inbound payloads until the connection dies. Malformed
// payloads are dropped without touching connection health; only the
// closed-connection exit schedules a reconnect.
func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		snap, perr := progress.ParseSnapshot(data)
		if perr != nil {
			m.logger.Warn("dropping malformed stream payload", "error", perr)
			m.add(m.malformed)
			continue
		}

		m.mu.Lock()
		handler := m.handler
		stale := gen != m.generation
		m.mu.Unlock()
		if stale || handler == nil {
			return
		}

		m.add(m.snapshots)
		handler(snap)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		// Deliberate teardown, not an unplanned close.
		return
	}
	m.conn = nil
	m.state = stateClosed
	m.logger.Warn("stream connection closed", "session_id", m.sessionID)
	m.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the single pending reconnect timer, cancelling
// any previous one. Past MaxAttempts consecutive failures the manager goes
// idle silently; the caller observes only IsConnected and snapshot silence.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	if m.sessionID == "" {
		m.state = stateIdle
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.Warn("reconnect attempts exhausted, stream going idle",
			"session_id", m.sessionID, "attempts", m.attempts)
		m.state = stateIdle
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := m.cfg.BaseDelay * time.Duration(attempt)

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.state = stateConnecting
		m.mu.Unlock()

		m.add(m.reconnects)
		m.dial(gen)
	})

	m.logger.Info("reconnect scheduled", "session_id", m.sessionID, "attempt", attempt, "delay", delay)
}

func (m *Manager) add(counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(context.Background(), 1)
	}
}
