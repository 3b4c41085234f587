// Package analytics ingests quality signals into a bounded buffer and
// derives module rankings from them.
package analytics

import (
	"sync"
	"time"
)

// Event is one accepted analytics record.
type Event struct {
	Source    string             `json:"source"`
	Kind      string             `json:"kind"`
	Value     *float64           `json:"value,omitempty"`
	Unit      string             `json:"unit,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Buffer is a fixed-capacity ring of events. Once full, new events
// overwrite the oldest.
type Buffer struct {
	mu       sync.Mutex
	events   []Event
	next     int
	total    uint64
	rejected uint64
	capacity int
}

// NewBuffer creates a Buffer holding at most capacity events. A
// non-positive capacity falls back to 1000.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Append stores an event, evicting the oldest when full.
func (b *Buffer) Append(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if len(b.events) < b.capacity {
		b.events = append(b.events, event)
		return
	}
	b.events[b.next] = event
	b.next = (b.next + 1) % b.capacity
}

// MarkRejected counts an event that failed validation.
func (b *Buffer) MarkRejected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected++
}

// Len reports the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Snapshot summarises the buffer contents.
func (b *Buffer) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	sources := map[string]int{}
	kinds := map[string]int{}
	for _, event := range b.events {
		sources[event.Source]++
		kinds[event.Kind]++
	}
	return map[string]any{
		"total_events": b.total,
		"retained":     len(b.events),
		"rejected":     b.rejected,
		"capacity":     b.capacity,
		"sources":      sources,
		"kinds":        kinds,
	}
}
