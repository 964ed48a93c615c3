// Package cache keeps the latest projected progress state per transaction,
// so a reply can be correlated with the agent trace that produced it after
// the transaction has finished streaming.
package cache

import (
	"sync"
	"time"

	"AgentLens/internal/progress"
)

// CachedTrace pairs a projected state with the time it was stored.
type CachedTrace struct {
	State     progress.State
	Timestamp time.Time
}

// TraceCache maps transaction ids to their most recent projection. Later
// snapshots for the same transaction overwrite earlier ones; snapshots are
// complete, so last-write-wins is correct.
type TraceCache struct {
	traces sync.Map
}

// NewTraceCache creates an empty cache.
func NewTraceCache() *TraceCache {
	return &TraceCache{}
}

// Put stores the latest projection for its transaction. States without a
// transaction id are ignored.
func (c *TraceCache) Put(state progress.State) {
	if state.TransactionID == "" {
		return
	}
	c.traces.Store(state.TransactionID, CachedTrace{
		State:     state,
		Timestamp: time.Now(),
	})
}

// Get returns the latest projection recorded for a transaction.
func (c *TraceCache) Get(transactionID string) (progress.State, bool) {
	val, ok := c.traces.Load(transactionID)
	if !ok {
		return progress.State{}, false
	}
	return val.(CachedTrace).State, true
}

// Len counts the cached transactions.
func (c *TraceCache) Len() int {
	n := 0
	c.traces.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
