// ABOUTME: In-memory fan-out of conversation traffic to live observers
// ABOUTME: Publishes posted and collected activities to all subscribers of a contact

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/clonepilot/internal/directline"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Direction of an observed activity relative to the relay.
const (
	DirectionOutbound = "outbound" // posted by us to the agent
	DirectionInbound  = "inbound"  // collected from the agent
)

// Event is one activity observed on a contact's conversation.
type Event struct {
	ContactID      string              `json:"contactId"`
	ConversationID string              `json:"conversationId"`
	Direction      string              `json:"direction"`
	Activity       directline.Activity `json:"activity"`
	At             time.Time           `json:"at"`
}

// Broadcaster provides in-memory pub/sub of conversation Events keyed by
// contact id. Publishing never blocks: slow subscribers miss events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // contactID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given contact.
// The subscription is cleaned up and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, contactID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[contactID]; !ok {
		b.subscribers[contactID] = make(map[string]chan *Event)
	}
	b.subscribers[contactID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"contact_id", contactID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(contactID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of event.ContactID.
func (b *Broadcaster) Publish(event *Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.ContactID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"contact_id", event.ContactID,
				"activity_id", event.Activity.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(contactID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[contactID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, contactID)
	}

	b.logger.Debug("subscriber removed",
		"contact_id", contactID,
		"sub_id", subID)
}

// Subscribers returns the number of live subscriptions for a contact.
func (b *Broadcaster) Subscribers(contactID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[contactID])
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for contactID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, contactID)
	}

	b.logger.Debug("broadcaster closed")
}
