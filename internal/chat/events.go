// Package chat drives one user turn end to end: persist the inbound message,
// assemble context, call the model, run requested tools, stream the reply and
// persist the outcome.
package chat

import "sync"

// Event types on the outbound stream.
const (
	EventChunk    = "chunk"
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Event is one element of the turn's outbound stream. Content carries the
// chunk text, progress note or user-safe error message depending on Type.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Emitter serializes turn progress into an ordered event stream with exactly
// one terminal event. The stream is an observation channel: a subscriber that
// stops reading loses chunks but never blocks the turn.
type Emitter struct {
	ch chan Event

	mu       sync.Mutex
	terminal bool
}

// NewEmitter creates an emitter with the given buffer size. One extra slot
// beyond the buffer is reserved for the terminal event.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{ch: make(chan Event, buffer+1)}
}

// Events returns the stream. It is closed after the terminal event.
func (e *Emitter) Events() <-chan Event { return e.ch }

// Chunk emits a piece of model-generated text.
func (e *Emitter) Chunk(text string) { e.emit(Event{Type: EventChunk, Content: text}) }

// Progress emits an informational note; never part of persisted content.
func (e *Emitter) Progress(note string) { e.emit(Event{Type: EventProgress, Content: note}) }

// Done emits the terminal success event and closes the stream.
func (e *Emitter) Done() { e.finish(Event{Type: EventDone}) }

// Error emits the terminal error event and closes the stream. The message
// must already be user-safe.
func (e *Emitter) Error(msg string) { e.finish(Event{Type: EventError, Content: msg}) }

func (e *Emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return
	}
	if len(e.ch) >= cap(e.ch)-1 {
		// Subscriber is not keeping up; drop rather than stall the turn.
		// The last slot stays free so the terminal event always fits.
		return
	}
	e.ch <- ev
}

func (e *Emitter) finish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return
	}
	e.terminal = true
	e.ch <- ev
	close(e.ch)
}
