package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the number of undelivered events kept per subscriber.
const subscriberBuffer = 8

type subscriber struct {
	userID uuid.UUID
	ch     chan *BoxChanged
}

// Broadcaster is an EventHandler that delivers events to the subscribers of
// the affected box. Delivery never blocks; a subscriber whose buffer is full
// misses the event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*subscriber]struct{}
	logger *slog.Logger
}

// Ensure Broadcaster implements EventHandler interface
var _ EventHandler = (*Broadcaster)(nil)

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		logger: logger.With("component", "box_broadcaster"),
	}
}

// Subscribe registers for events of boxID owned by userID. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (b *Broadcaster) Subscribe(boxID, userID uuid.UUID) (<-chan *BoxChanged, func()) {
	sub := &subscriber{userID: userID, ch: make(chan *BoxChanged, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[boxID] == nil {
		b.subs[boxID] = make(map[*subscriber]struct{})
	}
	b.subs[boxID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[boxID], sub)
			if len(b.subs[boxID]) == 0 {
				delete(b.subs, boxID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SubscriberCount returns the number of subscribers of boxID.
func (b *Broadcaster) SubscriberCount(boxID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boxID])
}

// HandleEvent implements EventHandler.
func (b *Broadcaster) HandleEvent(_ context.Context, event *BoxChanged) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[event.BoxID] {
		if sub.userID != event.UserID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("subscriber buffer full, dropping event",
				"box_id", event.BoxID,
				"event_id", event.ID)
		}
	}
	return nil
}
