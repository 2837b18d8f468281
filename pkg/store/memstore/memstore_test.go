package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	"github.com/roboricindustries/raycon-chatsync/pkg/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func draft() message.Message {
	return message.Message{
		TempID: "T1", ChatID: "chat-1", SenderID: "alice", RecipientID: "bob",
		ContentOriginal: "Hola", Kind: message.KindText, Status: message.StatusSent,
		CreatedAt: t0, IsInstant: true, Broadcasted: true,
	}
}

func TestInsertIsIdempotentPerTempID(t *testing.T) {
	s := New().WithClock(func() time.Time { return t0.Add(time.Second) })

	var notified []message.Message
	cancel, err := s.SubscribeInsert("chat-1", func(m message.Message) { notified = append(notified, m) })
	require.NoError(t, err)
	defer cancel()

	rec, err := s.Insert(context.Background(), draft())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.CanonicalID)
	assert.Equal(t, message.StatusDelivered, rec.Status)
	assert.False(t, rec.IsInstant)
	assert.False(t, rec.Broadcasted)
	assert.True(t, rec.DeliveredAt.Equal(t0.Add(time.Second)))

	again, err := s.Insert(context.Background(), draft())
	require.NoError(t, err)
	assert.Equal(t, rec.CanonicalID, again.CanonicalID)
	assert.Len(t, notified, 1)
	assert.Equal(t, 1, s.Len())
}

func TestFailNextInserts(t *testing.T) {
	s := New()
	s.FailNextInserts(1, nil)

	_, err := s.Insert(context.Background(), draft())
	assert.ErrorIs(t, err, ErrInjected)

	_, err = s.Insert(context.Background(), draft())
	assert.NoError(t, err)
}

func TestHoldInserts(t *testing.T) {
	s := New()
	release := s.HoldInserts()

	done := make(chan message.Message, 1)
	go func() {
		rec, _ := s.Insert(context.Background(), draft())
		done <- rec
	}()

	select {
	case <-done:
		t.Fatal("insert finished while held")
	case <-time.After(30 * time.Millisecond):
	}
	release()
	select {
	case rec := <-done:
		assert.NotEmpty(t, rec.CanonicalID)
	case <-time.After(time.Second):
		t.Fatal("insert did not resume")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.HoldInserts()
	cancel()
	_, err := s.Insert(ctx, draft())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdateNotifiesOnChange(t *testing.T) {
	s := New()
	rec, err := s.Insert(context.Background(), draft())
	require.NoError(t, err)

	var updates []message.Message
	cancel, _ := s.SubscribeUpdate("chat-1", func(m message.Message) { updates = append(updates, m) })
	defer cancel()

	readAt := t0.Add(time.Minute)
	p := message.Patch{Status: message.StatusRead, ReadAt: &readAt}
	require.NoError(t, s.Update(context.Background(), rec.CanonicalID, p))
	require.NoError(t, s.Update(context.Background(), rec.CanonicalID, p))
	require.Len(t, updates, 1)
	assert.Equal(t, message.StatusRead, updates[0].Status)

	err = s.Update(context.Background(), "missing", p)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertRequiresTempID(t *testing.T) {
	_, err := New().Insert(context.Background(), message.Message{ChatID: "c"})
	assert.ErrorIs(t, err, store.ErrNoTempID)
}
