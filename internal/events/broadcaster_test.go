package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDelivers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	boxID, userID := uuid.New(), uuid.New()

	ch, unsubscribe := b.Subscribe(boxID, userID)
	defer unsubscribe()
	other, unsubscribeOther := b.Subscribe(uuid.New(), userID)
	defer unsubscribeOther()

	event := NewBoxChanged(ReasonCardReviewed, boxID, userID)
	require.NoError(t, b.HandleEvent(context.Background(), event))

	select {
	case got := <-ch:
		assert.Equal(t, event, got)
	default:
		t.Fatal("expected event for subscribed box")
	}
	assert.Empty(t, other, "subscribers of other boxes receive nothing")
}

func TestBroadcasterScopesToOwner(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	boxID := uuid.New()
	ch, unsubscribe := b.Subscribe(boxID, uuid.New())
	defer unsubscribe()

	require.NoError(t, b.HandleEvent(context.Background(), NewBoxChanged(ReasonBoxUpdated, boxID, uuid.New())))
	assert.Empty(t, ch)
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	boxID, userID := uuid.New(), uuid.New()
	ch, unsubscribe := b.Subscribe(boxID, userID)
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.HandleEvent(context.Background(), NewBoxChanged(ReasonCardReviewed, boxID, userID)))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	boxID, userID := uuid.New(), uuid.New()
	ch, unsubscribe := b.Subscribe(boxID, userID)
	assert.Equal(t, 1, b.SubscriberCount(boxID))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount(boxID))

	_, open := <-ch
	assert.False(t, open)

	assert.NoError(t, b.HandleEvent(context.Background(), NewBoxChanged(ReasonBoxDeleted, boxID, userID)))
}

func TestBroadcasterWithEmitter(t *testing.T) {
	t.Parallel()

	emitter := NewInMemoryEventEmitter(nil)
	b := NewBroadcaster(nil)
	emitter.RegisterHandler(b)

	boxID, userID := uuid.New(), uuid.New()
	ch, unsubscribe := b.Subscribe(boxID, userID)
	defer unsubscribe()

	require.NoError(t, emitter.EmitEvent(context.Background(), NewBoxChanged(ReasonBoxRebalanced, boxID, userID)))
	got := <-ch
	assert.Equal(t, ReasonBoxRebalanced, got.Reason)
}
