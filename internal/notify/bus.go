// Package notify carries user-facing notifications from components that
// produce them (plan store, scan session, commands) to whatever displays them.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Notification is a message shown to the user until dismissed or expired.
type Notification struct {
	ID        string
	Level     Level
	Message   string
	CreatedAt time.Time
}

// DefaultTTL is how long notifications stay active when no TTL is configured.
const DefaultTTL = 5 * time.Second

const subscriberBuffer = 10

// Bus holds the active notifications and fans every change out to its
// subscribers. Each subscriber receives the full active list after each change.
type Bus struct {
	mu          sync.Mutex
	active      []Notification
	timers      map[string]*time.Timer
	subscribers map[string]chan []Notification
	ttl         time.Duration
	closed      bool
	log         *slog.Logger
}

// NewBus creates a bus. A ttl of 0 keeps notifications until dismissed.
func NewBus(ttl time.Duration) *Bus {
	return &Bus{
		timers:      make(map[string]*time.Timer),
		subscribers: make(map[string]chan []Notification),
		ttl:         ttl,
		log:         slog.Default().With("component", "notify-bus"),
	}
}

// Subscribe registers a subscriber and returns its id and update channel.
// The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe() (string, <-chan []Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subID := uuid.NewString()

	// Buffered so a slow consumer does not block publishers
	ch := make(chan []Notification, subscriberBuffer)
	if b.closed {
		close(ch)
		return subID, ch
	}
	b.subscribers[subID] = ch

	return subID, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, exists := b.subscribers[subID]; exists {
		close(ch)
		delete(b.subscribers, subID)
	}
}

// Publish adds a notification and returns its id.
func (b *Bus) Publish(level Level, message string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if b.closed {
		return n.ID
	}

	b.active = append(b.active, n)
	if b.ttl > 0 {
		id := n.ID
		b.timers[id] = time.AfterFunc(b.ttl, func() { b.Dismiss(id) })
	}

	b.broadcastLocked()
	return n.ID
}

// Success publishes a success notification.
func (b *Bus) Success(message string) string { return b.Publish(LevelSuccess, message) }

// Error publishes an error notification.
func (b *Bus) Error(message string) string { return b.Publish(LevelError, message) }

// Info publishes an informational notification.
func (b *Bus) Info(message string) string { return b.Publish(LevelInfo, message) }

// Warning publishes a warning notification.
func (b *Bus) Warning(message string) string { return b.Publish(LevelWarning, message) }

// Dismiss removes a notification. It reports whether it was active.
func (b *Bus) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.active, func(n Notification) bool { return n.ID == id })
	if idx < 0 {
		return false
	}

	b.active = slices.Delete(b.active, idx, idx+1)
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}

	b.broadcastLocked()
	return true
}

// Active returns a copy of the active notifications, oldest first.
func (b *Bus) Active() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.active)
}

// Close stops expiry timers and closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.active = nil

	return nil
}

func (b *Bus) broadcastLocked() {
	for subID, ch := range b.subscribers {
		select {
		case ch <- slices.Clone(b.active):
		default:
			// Channel full, skip this subscriber to avoid blocking
			b.log.WarnContext(context.Background(), "subscriber channel full, skipping update", "subscriber_id", subID)
		}
	}
}
