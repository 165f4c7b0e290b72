package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

var (
	ErrBusClosed          = errors.New("broadcast: bus is closed")
	ErrSubscriberExists   = errors.New("broadcast: subscriber already exists")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
	ErrNilChannel         = errors.New("broadcast: nil channel provided")
)

// Stats tracks delivery counts for one subscriber.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id       string
	entityID string // "" matches every entity
	ch       chan<- models.BroadcastMessage
	stats    Stats
}

// Bus fans BroadcastMessages out to registered subscribers. Publish never
// blocks: a subscriber whose channel is full misses that message (the live
// path is at-most-once; durable backfill comes from the store).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a channel under id. An empty entityID receives all
// messages; otherwise only messages for that entity are delivered.
func (b *Bus) Subscribe(id, entityID string, ch chan<- models.BroadcastMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{id: id, entityID: entityID, ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. The caller owns the channel and closes it.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers msg to every matching subscriber without blocking.
func (b *Bus) Publish(msg models.BroadcastMessage) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	atomic.AddUint64(&b.published, 1)

	for _, sub := range b.subscribers {
		if sub.entityID != "" && sub.entityID != msg.EntityID {
			continue
		}
		select {
		case sub.ch <- msg:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
			broadcastDropped.Inc()
		}
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns delivery counters for one subscriber.
func (b *Bus) Stats(id string) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return Stats{}, ErrSubscriberNotFound
	}
	return Stats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// Published returns the total number of published messages.
func (b *Bus) Published() uint64 {
	return atomic.LoadUint64(&b.published)
}

// Close shuts the bus down; subsequent Publish and Subscribe calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.subscribers = nil
}
