package engine

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
	"github.com/roboricindustries/raycon-chatsync/pkg/store/memstore"
)

func TestTypingIdleSendsExactlyOneStop(t *testing.T) {
	broker := pubsub.NewBroker()
	db := memstore.New()
	sp := newSpy(t, broker)
	mock := clock.NewMock()
	withClock := func(c *Config) { c.Clock = mock }

	alice := newEngine(t, broker.Channel(), db, "alice", "bob", withClock)
	bob := newEngine(t, broker.Channel(), db, "bob", "alice", withClock)

	alice.InputChanged("", "h")
	alice.flush(t)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStart) == 1 }, "start")
	waitFor(t, func() bool { return len(bob.Typers()) == 1 }, "bob sees alice typing")
	assert.Equal(t, []string{"alice"}, bob.Typers())

	mock.Add(3 * time.Second)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStop) == 1 }, "stop after idle")
	waitFor(t, func() bool { return len(bob.Typers()) == 0 }, "bob clears alice")

	mock.Add(10 * time.Second)
	alice.flush(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sp.count(chat.TypeTypingStop))
}

func TestTypingKeepsSessionWhileInputContinues(t *testing.T) {
	broker := pubsub.NewBroker()
	sp := newSpy(t, broker)
	mock := clock.NewMock()
	alice := newEngine(t, broker.Channel(), memstore.New(), "alice", "bob", func(c *Config) { c.Clock = mock })

	alice.InputChanged("", "h")
	alice.flush(t)
	mock.Add(2 * time.Second)
	alice.InputChanged("h", "ho")
	alice.flush(t)

	// the first deadline has passed but input refreshed it
	mock.Add(2 * time.Second)
	alice.flush(t)
	assert.Zero(t, sp.count(chat.TypeTypingStop))

	mock.Add(time.Second)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStop) == 1 }, "stop after idle")
}

func TestSendClosesTypingSession(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewBroker()
	sp := newSpy(t, broker)
	mock := clock.NewMock()
	alice := newEngine(t, broker.Channel(), memstore.New(), "alice", "bob", func(c *Config) { c.Clock = mock })

	alice.InputChanged("", "Hola")
	_, err := alice.Send(ctx, Draft{Content: "Hola"})
	require.NoError(t, err)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStop) == 1 }, "stop on submit")

	mock.Add(5 * time.Second)
	alice.flush(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sp.count(chat.TypeTypingStop))
}

func TestLostStopExpiresRemoteTyper(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewBroker()
	mock := clock.NewMock()
	bob := newEngine(t, broker.Channel(), memstore.New(), "bob", "alice", func(c *Config) { c.Clock = mock })

	b, err := chat.Encode(chat.TypingStartV1{UserID: "alice", At: mock.Now()}, "alice", mock.Now())
	require.NoError(t, err)
	require.NoError(t, broker.Channel().Publish(ctx, topic, b))
	waitFor(t, func() bool { return len(bob.Typers()) == 1 }, "typing")

	mock.Add(3 * time.Second)
	waitFor(t, func() bool { return len(bob.Typers()) == 0 }, "expired without a stop")
}

func TestIncomingMessageClearsTyper(t *testing.T) {
	ctx := context.Background()
	broker := pubsub.NewBroker()
	db := memstore.New()
	alice := newEngine(t, broker.Channel(), db, "alice", "bob", nil)
	bob := newEngine(t, broker.Channel(), db, "bob", "alice", nil)

	raw := broker.Channel()
	b, err := chat.Encode(chat.TypingStartV1{UserID: "alice", At: time.Now()}, "alice", time.Now())
	require.NoError(t, err)
	require.NoError(t, raw.Publish(ctx, topic, b))
	waitFor(t, func() bool { return len(bob.Typers()) == 1 }, "typing")

	// a message without a preceding stop still ends the session on bob's side
	_, err = alice.Send(ctx, Draft{Content: "hi", TempID: "T1"})
	require.NoError(t, err)
	waitFor(t, func() bool { return len(bob.Typers()) == 0 }, "cleared")
}

func TestTypingRearmDoesNotPileUpGoroutines(t *testing.T) {
	broker := pubsub.NewBroker()
	sp := newSpy(t, broker)
	mock := clock.NewMock()
	alice := newEngine(t, broker.Channel(), memstore.New(), "alice", "bob", func(c *Config) { c.Clock = mock })

	alice.InputChanged("", "h")
	alice.flush(t)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStart) == 1 }, "start")
	before := runtime.NumGoroutine()

	text := "h"
	for i := 0; i < 100; i++ {
		next := text + "o"
		alice.InputChanged(text, next)
		text = next
	}
	alice.flush(t)
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+5)

	mock.Add(3 * time.Second)
	waitFor(t, func() bool { return sp.count(chat.TypeTypingStop) == 1 }, "single stop")
}
