// Package audit provides the best-effort audit sink abstraction.
//
// Execution reviews and policy decisions are appended here. Writes are
// fire-and-forget from the caller's perspective: a failing sink must never
// block or fail the decision path, so callers swallow Append errors.
package audit

import (
	"sync"
	"time"
)

// Sink is the protocol for append-only audit storage.
type Sink interface {
	// Append records an event with its data. Implementations must be safe
	// for concurrent writers.
	Append(event string, data map[string]any) error
}

// =============================================================================
// IN-MEMORY LOG
// =============================================================================

// Entry is one recorded audit event.
type Entry struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MemoryAuditLog is an append-only in-memory Sink.
// Safe for concurrent writers; entries are never mutated after append.
type MemoryAuditLog struct {
	entries []Entry
	mu      sync.RWMutex
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{entries: make([]Entry, 0)}
}

// Append implements the Sink interface.
func (l *MemoryAuditLog) Append(event string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Entries returns a snapshot of all recorded entries.
func (l *MemoryAuditLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesFor returns a snapshot of entries matching an event name.
func (l *MemoryAuditLog) EntriesFor(event string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded entries.
func (l *MemoryAuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// =============================================================================
// NOP SINK
// =============================================================================

// NopSink discards everything. Used in tests and as a safe default.
type NopSink struct{}

// Append implements the Sink interface.
func (NopSink) Append(string, map[string]any) error { return nil }

var (
	_ Sink = (*MemoryAuditLog)(nil)
	_ Sink = NopSink{}
)
