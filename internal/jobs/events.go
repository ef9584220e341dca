package jobs

import (
	"slices"
	"sort"
	"sync"
	"time"

	"auto-transcriber/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStage  EventType = "stage"
	EventTypeQueue  EventType = "queue"
	EventTypeLog    EventType = "log"
	EventTypeResult EventType = "result"
	EventTypeError  EventType = "error"
)

// Event is a sequenced payload consumed by the dashboard and desktop shell.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Type       EventType        `json:"type"`
	Stage      domain.Stage     `json:"stage,omitempty"`
	Progress   int              `json:"progress"`
	Filename   string           `json:"filename,omitempty"`
	Message    string           `json:"message,omitempty"`
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`
	Command    string           `json:"command,omitempty"`
	Args       []string         `json:"args,omitempty"`
	ExitCode   int              `json:"exitCode,omitempty"`
	Stderr     string           `json:"stderr,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
}

// EventBus keeps a bounded, seq-ordered history of events and fans each one
// out to listeners. Readers poll with the last seq they saw.
type EventBus struct {
	mu        sync.RWMutex
	seq       int64
	capacity  int
	history   []Event
	listeners []func(Event)
}

// NewEventBus returns a bus that remembers the last capacity events.
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = 500
	}
	return &EventBus{capacity: capacity, history: make([]Event, 0, capacity)}
}

// Listen registers fn for every later Publish. fn runs on the publisher's
// goroutine and must not block.
func (b *EventBus) Listen(fn func(Event)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Publish stamps event with the next seq (and a timestamp when unset),
// records it, and notifies listeners.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	b.seq++
	event.Seq = b.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, event)
	listeners := b.listeners
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
	return event
}

// Since returns a copy of the retained events with Seq > seq, oldest first.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := sort.Search(len(b.history), func(i int) bool { return b.history[i].Seq > seq })
	if start == len(b.history) {
		return nil
	}
	return slices.Clone(b.history[start:])
}
