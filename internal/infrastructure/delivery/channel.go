package delivery

import (
	"context"
	"sync"
	"time"

	"fitlink/internal/domain/entity"
	"fitlink/internal/domain/repository"
	"fitlink/internal/infrastructure/metrics"
	"fitlink/pkg/logger"
)

// Channel pushes the full ordered message list of a conversation to every
// active subscriber whenever the store changes. Each push is the authoritative
// current state, never a diff.
type Channel struct {
	store repository.MessageRepository

	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscription
	nextID uint64

	// Delay before re-fetching after a failed snapshot read.
	retryDelay time.Duration
}

type subscription struct {
	conversationID string
	onUpdate       func([]*entity.Message)
	notify         chan struct{} // coalescing dirty signal, capacity 1
	done           chan struct{}
	cancelOnce     sync.Once
}

func NewChannel(store repository.MessageRepository) *Channel {
	return &Channel{
		store:      store,
		subs:       make(map[string]map[uint64]*subscription),
		retryDelay: 2 * time.Second,
	}
}

// Subscribe registers onUpdate for the conversation. The callback fires once
// immediately with the current ordered list and again after every committed
// change. Deliveries to one subscriber are sequential, so a subscriber never
// observes an older snapshot after a newer one. The returned cancel function
// stops delivery, releases resources, and is safe to call more than once.
func (c *Channel) Subscribe(conversationID string, onUpdate func([]*entity.Message)) func() {
	sub := &subscription{
		conversationID: conversationID,
		onUpdate:       onUpdate,
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.subs[conversationID] == nil {
		c.subs[conversationID] = make(map[uint64]*subscription)
	}
	c.subs[conversationID][id] = sub
	c.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()

	// Initial snapshot.
	sub.notify <- struct{}{}

	go c.run(sub)

	return func() {
		sub.cancelOnce.Do(func() {
			close(sub.done)

			c.mu.Lock()
			if m, ok := c.subs[conversationID]; ok {
				delete(m, id)
				if len(m) == 0 {
					delete(c.subs, conversationID)
				}
			}
			c.mu.Unlock()

			metrics.ActiveSubscriptions.Dec()
		})
	}
}

// Publish marks the conversation dirty for every subscriber. Signals coalesce:
// a subscriber that is mid-delivery picks up at most one pending signal and
// re-reads the store, so it always lands on the newest state.
func (c *Channel) Publish(conversationID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, sub := range c.subs[conversationID] {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

func (c *Channel) run(sub *subscription) {
	// Cancelling the subscription aborts any in-flight store read, so a hung
	// fetch cannot outlive its subscriber.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sub.done
		cancel()
	}()

	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}

		messages, err := c.store.ListOrdered(ctx, sub.conversationID)
		if err != nil {
			// Transport/store hiccup: not surfaced to the subscriber. Retry
			// with a fresh full snapshot so every delivered callback stays
			// authoritative.
			logger.Warn("Snapshot fetch failed for conversation %s, retrying: %v", sub.conversationID, err)
			metrics.SnapshotFetchRetries.Inc()

			select {
			case <-sub.done:
				return
			case <-time.After(c.retryDelay):
			}
			select {
			case sub.notify <- struct{}{}:
			default:
			}
			continue
		}

		select {
		case <-sub.done:
			// Cancelled mid-flight: abandon the delivery rather than invoke
			// the callback after cancel.
			return
		default:
		}

		sub.onUpdate(messages)
		metrics.SnapshotsDelivered.Inc()
	}
}
