package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitlink/internal/domain/entity"
	"fitlink/pkg/errors"
)

type stubStore struct {
	mu       sync.Mutex
	messages []*entity.Message
	fail     bool
}

func (s *stubStore) Append(ctx context.Context, message *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *stubStore) ListOrdered(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.StoreUnavailable(nil)
	}
	out := make([]*entity.Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *stubStore) MergeReadReceipts(ctx context.Context, conversationID string, messageIDs []string, readerID string, at time.Time) error {
	return nil
}

func (s *stubStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func waitForSnapshot(t *testing.T, ch <-chan []*entity.Message) []*entity.Message {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	store := &stubStore{}
	store.Append(context.Background(), &entity.Message{ID: "m1", ConversationID: "c1"})

	channel := NewChannel(store)
	snapshots := make(chan []*entity.Message, 8)
	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		snapshots <- messages
	})
	defer cancel()

	snap := waitForSnapshot(t, snapshots)
	require.Len(t, snap, 1)
	assert.Equal(t, "m1", snap[0].ID)
}

func TestPublishDeliversFreshSnapshot(t *testing.T) {
	store := &stubStore{}
	channel := NewChannel(store)

	snapshots := make(chan []*entity.Message, 8)
	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		snapshots <- messages
	})
	defer cancel()

	assert.Empty(t, waitForSnapshot(t, snapshots))

	store.Append(context.Background(), &entity.Message{ID: "m1", ConversationID: "c1"})
	channel.Publish("c1")

	snap := waitForSnapshot(t, snapshots)
	require.Len(t, snap, 1)
	assert.Equal(t, "m1", snap[0].ID)
}

func TestSubscriberSnapshotsAreMonotonic(t *testing.T) {
	store := &stubStore{}
	channel := NewChannel(store)

	var mu sync.Mutex
	var sizes []int
	done := make(chan struct{}, 64)
	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		mu.Lock()
		sizes = append(sizes, len(messages))
		mu.Unlock()
		done <- struct{}{}
	})
	defer cancel()

	<-done

	for i := 0; i < 10; i++ {
		store.Append(context.Background(), &entity.Message{ConversationID: "c1"})
		channel.Publish("c1")
	}

	// Signals coalesce, so fewer deliveries than publishes is fine; the last
	// one must carry the newest state.
	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		latest := 0
		if len(sizes) > 0 {
			latest = sizes[len(sizes)-1]
		}
		mu.Unlock()
		if latest == 10 {
			break
		}
		select {
		case <-done:
		case <-deadline:
			t.Fatalf("never observed full snapshot, sizes: %v", sizes)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1], "snapshot went backwards")
	}
}

func TestCancelStopsDeliveryAndIsIdempotent(t *testing.T) {
	store := &stubStore{}
	channel := NewChannel(store)

	snapshots := make(chan []*entity.Message, 8)
	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		snapshots <- messages
	})

	waitForSnapshot(t, snapshots)

	cancel()
	cancel() // no-op

	store.Append(context.Background(), &entity.Message{ConversationID: "c1"})
	channel.Publish("c1")

	select {
	case <-snapshots:
		t.Fatal("received snapshot after cancel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStoreErrorRetriesWithFullSnapshot(t *testing.T) {
	store := &stubStore{}
	store.setFail(true)
	store.Append(context.Background(), &entity.Message{ID: "m1", ConversationID: "c1"})

	channel := NewChannel(store)
	channel.retryDelay = 10 * time.Millisecond

	snapshots := make(chan []*entity.Message, 8)
	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		snapshots <- messages
	})
	defer cancel()

	select {
	case <-snapshots:
		t.Fatal("delivered a snapshot while the store was failing")
	case <-time.After(30 * time.Millisecond):
	}

	store.setFail(false)

	snap := waitForSnapshot(t, snapshots)
	require.Len(t, snap, 1)
	assert.Equal(t, "m1", snap[0].ID)
}

// blockingStore parks ListOrdered until its context is cancelled, standing in
// for a store read that hangs.
type blockingStore struct {
	stubStore
	entered   chan struct{}
	unblocked chan struct{}
}

func (s *blockingStore) ListOrdered(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	close(s.unblocked)
	return nil, ctx.Err()
}

func TestCancelAbortsInFlightFetch(t *testing.T) {
	store := &blockingStore{
		entered:   make(chan struct{}, 1),
		unblocked: make(chan struct{}),
	}
	channel := NewChannel(store)

	cancel := channel.Subscribe("c1", func(messages []*entity.Message) {
		t.Error("delivered a snapshot from a hung fetch")
	})

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	cancel()

	select {
	case <-store.unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not abort the in-flight fetch")
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	store := &stubStore{}
	channel := NewChannel(store)

	first := make(chan []*entity.Message, 8)
	second := make(chan []*entity.Message, 8)

	cancelFirst := channel.Subscribe("c1", func(messages []*entity.Message) { first <- messages })
	cancelSecond := channel.Subscribe("c1", func(messages []*entity.Message) { second <- messages })
	defer cancelSecond()

	waitForSnapshot(t, first)
	waitForSnapshot(t, second)

	cancelFirst()

	store.Append(context.Background(), &entity.Message{ID: "m1", ConversationID: "c1"})
	channel.Publish("c1")

	snap := waitForSnapshot(t, second)
	require.Len(t, snap, 1)
}
