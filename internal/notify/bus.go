// Package notify delivers core state changes to the presentation layer.
// Publishing never blocks: a subscriber that falls behind loses
// notifications rather than stalling the session or the cache.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a notification.
type Kind string

// Notification kinds emitted to the presentation layer.
const (
	SessionInvalidated  Kind = "sessionInvalidated"
	EventsUpdated       Kind = "eventsUpdated"
	EventCreationFailed Kind = "eventCreationFailed"
)

// Notification is one message to the presentation layer. Reason is set for
// SessionInvalidated and EventCreationFailed.
type Notification struct {
	Kind          Kind      `json:"kind"`
	Reason        string    `json:"reason,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(n Notification)
}

// Bus fans notifications out to subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Notification
	nextID  int
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		subs:    make(map[int]chan Notification),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Notification, buffer)
	b.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers n to every subscriber without blocking. At is filled in
// when zero.
func (b *Bus) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = b.nowFunc()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warn("notification dropped, subscriber is full",
				slog.Int("subscriber", id),
				slog.String("kind", string(n.Kind)),
			)
		}
	}
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Notification) {}
