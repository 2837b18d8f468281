package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDelivers(t *testing.T) {
	b := NewBroker()
	alice, bob := b.Channel(), b.Channel()
	ctx := context.Background()

	var got [][]byte
	sub, err := bob.Subscribe(ctx, "chat.1", func(_ context.Context, p []byte) { got = append(got, p) })
	require.NoError(t, err)

	require.NoError(t, alice.Publish(ctx, "chat.1", []byte("hi")))
	require.NoError(t, alice.Publish(ctx, "chat.2", []byte("elsewhere")))
	assert.Equal(t, [][]byte{[]byte("hi")}, got)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, alice.Publish(ctx, "chat.1", []byte("again")))
	assert.Len(t, got, 1)
}

func TestMemoryChannelOffline(t *testing.T) {
	b := NewBroker()
	alice, bob := b.Channel(), b.Channel()
	ctx := context.Background()

	var states []State
	cancel := alice.NotifyState(func(s State) { states = append(states, s) })
	defer cancel()

	var n atomic.Int32
	_, err := bob.Subscribe(ctx, "t", func(context.Context, []byte) { n.Add(1) })
	require.NoError(t, err)

	alice.SetConnected(false)
	assert.ErrorIs(t, alice.Publish(ctx, "t", []byte("x")), ErrUnavailable)

	bob.SetConnected(false)
	alice.SetConnected(true)
	require.NoError(t, alice.Publish(ctx, "t", []byte("x")))
	assert.Zero(t, n.Load())

	assert.Equal(t, []State{StateConnected, StateDisconnected, StateConnected}, states)

	require.NoError(t, alice.Close())
	assert.ErrorIs(t, alice.Publish(ctx, "t", nil), ErrClosed)
}

func TestFallbackChannel(t *testing.T) {
	ch := NewFallback(slog.Default())
	err := ch.Publish(context.Background(), "t", []byte("x"))
	assert.ErrorIs(t, err, ErrUnavailable)

	var st State = -1
	ch.NotifyState(func(s State) { st = s })
	assert.Equal(t, StateDisconnected, st)

	sub, err := ch.Subscribe(context.Background(), "t", func(context.Context, []byte) {})
	require.NoError(t, err)
	assert.NoError(t, sub.Unsubscribe())
}

func TestNotifierOnlyReportsChanges(t *testing.T) {
	n := NewNotifier(StateConnecting)
	var calls int
	cancel := n.Subscribe(func(State) { calls++ })
	assert.Equal(t, 1, calls)

	assert.True(t, n.Set(StateConnected))
	assert.False(t, n.Set(StateConnected))
	assert.Equal(t, 2, calls)

	cancel()
	n.Set(StateDisconnected)
	assert.Equal(t, 2, calls)
}

func TestJitteredDelayBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := JitteredDelay(time.Second, 1100*time.Millisecond, 20)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
	assert.Equal(t, 3*time.Second, Dsec(0, 3))
	assert.Equal(t, 5*time.Second, Dsec(5, 3))
}

func TestDialWithRetry(t *testing.T) {
	var attempts int
	v, err := DialWithRetry(context.Background(), ConnectionOptions{
		Name: "test", RetryAttempts: 5, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond,
	}, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("refused")
		}
		return "conn", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "conn", v)
	assert.Equal(t, 3, attempts)

	boom := errors.New("boom")
	_, err = DialWithRetry(context.Background(), ConnectionOptions{RetryAttempts: 2, Delay: time.Millisecond},
		func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DialWithRetry(ctx, ConnectionOptions{Delay: time.Millisecond},
		func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, context.Canceled)
}
