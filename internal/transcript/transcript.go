// Package transcript records the editing conversation and the toast-style
// notification log shown alongside it.
package transcript

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Greeting opens every new transcript.
const Greeting = "👋 Hi there! I'm your AI portfolio assistant. I can help you edit content, change themes, and update fonts. Use the buttons below to customize your portfolio or just type your request directly."

// PendingText is shown while a resolution is in flight.
const PendingText = "Processing your request..."

// ErrNoPending is returned when settling a message that is not a pending
// placeholder.
var ErrNoPending = errors.New("no pending message with that id")

// Message is one transcript line. System notifications carry no reply
// semantics and are rendered apart from chat.
type Message struct {
	ID                   string    `json:"id"`
	Text                 string    `json:"text"`
	IsUser               bool      `json:"isUser"`
	Timestamp            time.Time `json:"timestamp"`
	IsSystemNotification bool      `json:"isSystemNotification,omitempty"`
	Pending              bool      `json:"pending,omitempty"`
}

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is the toast equivalent of an outcome.
type Notification struct {
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Transcript is safe for concurrent use.
type Transcript struct {
	mu            sync.Mutex
	messages      []Message
	notifications []Notification
	clock         Clock
}

// New creates a transcript seeded with the assistant greeting.
func New() *Transcript {
	return NewWithClock(realClock{})
}

// NewWithClock creates a Transcript with a custom clock (for testing).
func NewWithClock(clock Clock) *Transcript {
	t := &Transcript{clock: clock}
	t.append(Message{Text: Greeting})
	return t
}

func (t *Transcript) append(m Message) Message {
	m.ID = uuid.New().String()
	m.Timestamp = t.clock.Now()
	t.messages = append(t.messages, m)
	return m
}

// BeginTurn records a user utterance together with the assistant
// placeholder that answers it. Both are appended under one lock so nothing
// can land between a user message and its reply.
func (t *Transcript) BeginTurn(text string) (user, pending Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	user = t.append(Message{Text: text, IsUser: true})
	pending = t.append(Message{Text: PendingText, Pending: true})
	return user, pending
}

// Settle replaces the pending placeholder id with the final assistant text,
// so each request ends with exactly one assistant message.
func (t *Transcript) Settle(id, text string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		m := &t.messages[i]
		if m.ID != id {
			continue
		}
		if !m.Pending {
			return Message{}, ErrNoPending
		}
		m.Text = text
		m.Pending = false
		m.Timestamp = t.clock.Now()
		return *m, nil
	}
	return Message{}, ErrNoPending
}

// AddSystem records a system notification line.
func (t *Transcript) AddSystem(text string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.append(Message{Text: text, IsSystemNotification: true})
}

// Notify appends to the notification log.
func (t *Transcript) Notify(level Level, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifications = append(t.notifications, Notification{
		Level:     level,
		Text:      text,
		Timestamp: t.clock.Now(),
	})
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Notifications returns a copy of the notification log in order.
func (t *Transcript) Notifications() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Notification, len(t.notifications))
	copy(out, t.notifications)
	return out
}

// HasPending reports whether any placeholder is still unsettled.
func (t *Transcript) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.Pending {
			return true
		}
	}
	return false
}
