// Package memory keeps the short conversational history handed to the
// resolver as context.
package memory

import (
	"sync"
	"time"
)

// DefaultCapacity is how many recent utterances the resolver sees.
const DefaultCapacity = 3

// Entry is one user utterance.
type Entry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Window is a bounded FIFO of the most recent utterances. The capacity is
// enforced on every Push; the oldest entry is evicted first.
type Window struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
	clock    Clock
}

// NewWindow creates a window holding at most capacity entries. A
// non-positive capacity falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	return NewWindowWithClock(capacity, realClock{})
}

// NewWindowWithClock creates a Window with a custom clock (for testing).
func NewWindowWithClock(capacity int, clock Clock) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
		clock:    clock,
	}
}

// Push appends text, evicting the oldest entry when full.
func (w *Window) Push(text string) Entry {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := Entry{Text: text, Timestamp: w.clock.Now()}
	if len(w.entries) == w.capacity {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.capacity-1]
	}
	w.entries = append(w.entries, e)
	return e
}

// Entries returns a copy of the window, oldest first.
func (w *Window) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len reports the number of entries held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Capacity reports the maximum number of entries.
func (w *Window) Capacity() int {
	return w.capacity
}
