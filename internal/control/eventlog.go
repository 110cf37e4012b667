package control

import (
	"encoding/json"
	"sync"
)

// EventLog is an in-memory output sink holding the most recent run events
// for the status endpoint. It satisfies the output manager's Sink interface.
type EventLog struct {
	mu     sync.Mutex
	limit  int
	events []json.RawMessage
}

func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = eventRetention
	}
	return &EventLog{limit: limit}
}

// Write records one event. Values that cannot be marshalled are dropped;
// the log is diagnostics, not a system of record.
func (l *EventLog) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, data)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
	return nil
}

func (l *EventLog) Close() error { return nil }

// Reset clears the log at the start of a new run.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// Snapshot copies the retained events, oldest first.
func (l *EventLog) Snapshot() []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]json.RawMessage, len(l.events))
	copy(out, l.events)
	return out
}
