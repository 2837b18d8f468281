package redisbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
)

func newBus(t *testing.T, mr *miniredis.Miniredis) *Bus {
	t.Helper()
	b, err := New(context.Background(), &goredis.Options{Addr: mr.Addr(), MaxRetries: -1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	alice, bob := newBus(t, mr), newBus(t, mr)

	var (
		mu  sync.Mutex
		got []string
	)
	sub, err := bob.Subscribe(context.Background(), "chat.1", func(_ context.Context, p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, alice.Publish(context.Background(), "chat.1", []byte(`{"hello":1}`)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"hello":1}`, got[0])

	require.NoError(t, sub.Unsubscribe())
}

func TestStateFollowsConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newBus(t, mr)

	var (
		mu     sync.Mutex
		states []pubsub.State
	)
	b.NotifyState(func(s pubsub.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	mr.Close()
	err := b.Publish(context.Background(), "chat.1", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pubsub.ErrUnavailable)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, pubsub.StateConnected, states[0])
	assert.Equal(t, pubsub.StateDisconnected, states[len(states)-1])
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), &goredis.Options{}, nil)
	assert.Error(t, err)
}

func TestClosedBusRejectsPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	b := newBus(t, mr)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), pubsub.ErrClosed)
}
