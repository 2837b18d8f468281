package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) *message.Store {
	t.Helper()
	s := message.NewStore("chat-1")
	add := func(temp, sender string, st message.Status, at time.Time) {
		var err error
		s, _, err = s.Upsert(message.Patch{
			TempID: temp, SenderID: sender, ContentOriginal: temp,
			Status: st, CreatedAt: at,
		}, message.MatchAny)
		require.NoError(t, err)
	}
	add("mine-1", "alice", message.StatusSent, t0)
	add("theirs-1", "bob", message.StatusDelivered, t0.Add(time.Second))
	add("theirs-2", "bob", message.StatusDelivered, t0.Add(2*time.Second))
	add("mine-2", "alice", message.StatusSending, t0.Add(3*time.Second))
	return s
}

func TestMarkReadOnlyPeerMessages(t *testing.T) {
	tr := Tracker{LocalUserID: "alice"}
	s := seed(t)

	s, changed := tr.MarkRead(s, t0.Add(time.Minute))
	require.Len(t, changed, 2)
	assert.Equal(t, []message.Ref{{TempID: "theirs-1"}, {TempID: "theirs-2"}}, message.RefsOf(changed))
	for _, m := range changed {
		assert.Equal(t, message.StatusRead, m.Status)
	}
	mine, _ := s.FindByTempID("mine-1")
	assert.Equal(t, message.StatusSent, mine.Status)

	s2, again := tr.MarkRead(s, t0.Add(2*time.Minute))
	assert.Empty(t, again)
	assert.Same(t, s, s2)
}

func TestApplyReadReceipt(t *testing.T) {
	tr := Tracker{LocalUserID: "alice"}
	s := seed(t)

	s, res := tr.Apply(s, message.Receipt{
		Refs:    []message.Ref{{TempID: "mine-2"}, {TempID: "theirs-1"}, {CanonicalID: "missing"}},
		Kind:    message.ReceiptRead,
		ActorID: "bob",
		At:      t0.Add(time.Minute),
	})
	require.Len(t, res.Changed, 1)
	assert.Equal(t, message.StatusRead, res.Changed[0].Status)
	assert.Equal(t, []message.Ref{{CanonicalID: "missing"}}, res.Unmatched)

	theirs, _ := s.FindByTempID("theirs-1")
	assert.Equal(t, message.StatusDelivered, theirs.Status)

	// a late delivery receipt is a no-op
	s2, res := tr.Apply(s, message.Receipt{
		Refs: []message.Ref{{TempID: "mine-2"}}, Kind: message.ReceiptDelivered,
		ActorID: "bob", At: t0.Add(2 * time.Minute),
	})
	assert.Empty(t, res.Changed)
	assert.Same(t, s, s2)
}

func TestApplyIgnoresOwnReceipts(t *testing.T) {
	tr := Tracker{LocalUserID: "alice"}
	s := seed(t)
	s2, res := tr.Apply(s, message.Receipt{
		Refs: []message.Ref{{TempID: "mine-1"}}, Kind: message.ReceiptRead, ActorID: "alice", At: t0,
	})
	assert.True(t, res.Ignored)
	assert.Same(t, s, s2)
}

func TestMarkDelivered(t *testing.T) {
	tr := Tracker{LocalUserID: "bob"}
	s := message.NewStore("chat-1")
	s, _, _ = s.Upsert(message.Patch{TempID: "T1", SenderID: "alice", ContentOriginal: "hi"}, message.MatchAny)

	s, changed := tr.MarkDelivered(s, []message.Ref{{TempID: "T1"}, {TempID: "nope"}}, t0)
	require.Len(t, changed, 1)
	assert.Equal(t, message.StatusDelivered, changed[0].Status)
	assert.True(t, changed[0].DeliveredAt.Equal(t0))
	assert.Equal(t, 1, s.Len())
}
