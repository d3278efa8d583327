package feed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
)

func sessionEvent(id string, status domain.SessionStatus) Event {
	return Event{
		Table:   TableSessions,
		Type:    EventUpdate,
		Session: &domain.GameSession{ID: id, Status: status},
	}
}

func testFeedDeliversFiltered(t *testing.T, f Feed) {
	ctx := context.Background()
	got := make(chan Event, 4)
	h, err := f.Subscribe(ctx, TableSessions, InSession("s1"), func(ev Event) { got <- ev })
	require.NoError(t, err)
	defer h.Unsubscribe()

	require.NoError(t, f.Publish(ctx, sessionEvent("s2", domain.SessionActive)))
	require.NoError(t, f.Publish(ctx, Event{Table: TableParticipants, Participant: &domain.Participant{SessionID: "s1"}}))
	require.NoError(t, f.Publish(ctx, sessionEvent("s1", domain.SessionCompleted)))

	select {
	case ev := <-got:
		assert.Equal(t, "s1", ev.Session.ID)
		assert.Equal(t, domain.SessionCompleted, ev.Session.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("expected event for s1")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func testUnsubscribeStopsDelivery(t *testing.T, f Feed) {
	ctx := context.Background()
	var calls atomic.Int32
	h, err := f.Subscribe(ctx, TableSessions, nil, func(Event) { calls.Add(1) })
	require.NoError(t, err)

	h.Unsubscribe()
	h.Unsubscribe()

	require.NoError(t, f.Publish(ctx, sessionEvent("s1", domain.SessionActive)))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMemoryFeed(t *testing.T) {
	t.Run("filtered delivery", func(t *testing.T) { testFeedDeliversFiltered(t, NewMemoryFeed()) })
	t.Run("unsubscribe", func(t *testing.T) { testUnsubscribeStopsDelivery(t, NewMemoryFeed()) })
}

func TestRedisFeed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	t.Run("filtered delivery", func(t *testing.T) { testFeedDeliversFiltered(t, NewRedisFeed(client)) })
	t.Run("unsubscribe", func(t *testing.T) { testUnsubscribeStopsDelivery(t, NewRedisFeed(client)) })
}

func TestMemoryFeedPublisherDoesNotRunCallbacks(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	release := make(chan struct{})
	done := make(chan struct{})
	h, err := f.Subscribe(ctx, TableSessions, nil, func(Event) {
		<-release
		close(done)
	})
	require.NoError(t, err)

	// Publish must return even though the callback is blocked.
	require.NoError(t, f.Publish(ctx, sessionEvent("s1", domain.SessionActive)))
	close(release)
	<-done
	h.Unsubscribe()
}
