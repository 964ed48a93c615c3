package progress

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotType is the wire discriminator for progress updates. Any payload
// without it is not a snapshot and is rejected by ParseSnapshot.
const SnapshotType = "progress_update"

// EventType identifies what kind of fact an agent reported.
type EventType string

const (
	EventAgentStart     EventType = "agent_start"
	EventAgentComplete  EventType = "agent_complete"
	EventTaskStart      EventType = "task_start"
	EventTaskComplete   EventType = "task_complete"
	EventTaskProgress   EventType = "task_progress"
	EventAPICallStart   EventType = "api_call_start"
	EventAPICallSuccess EventType = "api_call_success"
	EventAPICallFailed  EventType = "api_call_failed"
	EventAPICallSkipped EventType = "api_call_skipped"
)

// Valid reports whether t is one of the known event kinds.
func (t EventType) Valid() bool {
	switch t {
	case EventAgentStart, EventAgentComplete,
		EventTaskStart, EventTaskComplete, EventTaskProgress,
		EventAPICallStart, EventAPICallSuccess, EventAPICallFailed, EventAPICallSkipped:
		return true
	}
	return false
}

// EventStatus is the outcome attached to an event.
type EventStatus string

const (
	StatusRunning   EventStatus = "running"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
	StatusSuccess   EventStatus = "success"
	StatusSkipped   EventStatus = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusCompleted, StatusFailed, StatusSuccess, StatusSkipped:
		return true
	}
	return false
}

// Event is a single immutable fact emitted by the agent pipeline. Ordering
// is defined by ExecutionOrder, a server-assigned monotonic sequence, not by
// arrival time.
type Event struct {
	Timestamp      time.Time   `json:"timestamp"`
	Agent          string      `json:"agent"`
	EventType      EventType   `json:"event_type"`
	Message        string      `json:"message"`
	Status         EventStatus `json:"status"`
	ExecutionOrder int         `json:"execution_order"`
	IsParallel     bool        `json:"is_parallel"`
	TaskName       string      `json:"task_name,omitempty"`
	Symbol         string      `json:"symbol,omitempty"`
	Integration    string      `json:"integration,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Describe renders a one-line human summary of the event. Every event kind
// must be handled here; an unknown kind returns an error instead of falling
// through to a default string.
func (e Event) Describe() (string, error) {
	switch e.EventType {
	case EventAgentStart:
		return fmt.Sprintf("agent %s started", e.Agent), nil
	case EventAgentComplete:
		return fmt.Sprintf("agent %s finished (%s)", e.Agent, e.Status), nil
	case EventTaskStart:
		return fmt.Sprintf("%s: task %s started", e.Agent, e.TaskName), nil
	case EventTaskComplete:
		return fmt.Sprintf("%s: task %s finished (%s)", e.Agent, e.TaskName, e.Status), nil
	case EventTaskProgress:
		return fmt.Sprintf("%s: %s", e.Agent, e.Message), nil
	case EventAPICallStart:
		return fmt.Sprintf("%s: calling %s", e.Agent, e.Integration), nil
	case EventAPICallSuccess:
		return fmt.Sprintf("%s: %s call succeeded", e.Agent, e.Integration), nil
	case EventAPICallFailed:
		return fmt.Sprintf("%s: %s call failed: %s", e.Agent, e.Integration, e.Error), nil
	case EventAPICallSkipped:
		return fmt.Sprintf("%s: %s call skipped", e.Agent, e.Integration), nil
	}
	return "", fmt.Errorf("unknown event type %q", e.EventType)
}

// ExecutionOrderEntry is one agent's occupancy interval on the execution
// timeline. A nil EndTime means the agent is still running.
type ExecutionOrderEntry struct {
	Agent     string   `json:"agent"`
	StartTime float64  `json:"start_time"`
	EndTime   *float64 `json:"end_time,omitempty"`
}

// Duration computes the interval length. For an open interval the duration
// is measured against now; it is never persisted.
func (e ExecutionOrderEntry) Duration(now time.Time) time.Duration {
	end := float64(now.UnixNano()) / float64(time.Second)
	if e.EndTime != nil {
		end = *e.EndTime
	}
	d := end - e.StartTime
	if d < 0 {
		return 0
	}
	return time.Duration(d * float64(time.Second))
}

// Snapshot is the wire unit delivered over the streaming channel. Each
// snapshot is complete, not a delta: it republishes the entire event and
// timeline history known to the server for the transaction.
type Snapshot struct {
	Type           string                `json:"type"`
	SessionID      string                `json:"session_id"`
	TransactionID  string                `json:"transaction_id"`
	CurrentAgent   string                `json:"current_agent,omitempty"`
	CurrentTasks   map[string][]string   `json:"current_tasks"`
	ProgressEvents []Event               `json:"progress_events"`
	ExecutionOrder []ExecutionOrderEntry `json:"execution_order"`
	Timestamp      time.Time             `json:"timestamp"`
}

// ParseSnapshot decodes an inbound payload into a Snapshot, rejecting
// payloads that are not valid JSON or do not carry the progress_update
// discriminator.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Type != SnapshotType {
		return Snapshot{}, fmt.Errorf("unexpected payload type %q", snap.Type)
	}
	return snap, nil
}
