package event

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTopic(t *testing.T) {
	assert.Equal(t, "session.abc", SessionTopic("abc"))
}

func TestPublishSubscribe_PreservesOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := bus.Subscribe(ctx, SessionTopic("sess1"))
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Publish(SessionTopic("sess1"), []byte(fmt.Sprintf("event-%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case payload := <-queue:
			assert.Equal(t, fmt.Sprintf("event-%d", i), string(payload))
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q1, err := bus.Subscribe(ctx, SessionTopic("sess1"))
	require.NoError(t, err)
	q2, err := bus.Subscribe(ctx, SessionTopic("sess2"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(SessionTopic("sess1"), []byte("for-one")))
	require.NoError(t, bus.Publish(SessionTopic("sess2"), []byte("for-two")))

	select {
	case payload := <-q1:
		assert.Equal(t, "for-one", string(payload))
	case <-time.After(time.Second):
		t.Fatal("sess1 event missing")
	}
	select {
	case payload := <-q2:
		assert.Equal(t, "for-two", string(payload))
	case <-time.After(time.Second):
		t.Fatal("sess2 event missing")
	}
}

func TestSubscribe_ClosesOnBusClose(t *testing.T) {
	bus := NewBus()

	queue, err := bus.Subscribe(context.Background(), SessionTopic("sess1"))
	require.NoError(t, err)

	require.NoError(t, bus.Close())

	select {
	case _, ok := <-queue:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("queue did not close")
	}
}
