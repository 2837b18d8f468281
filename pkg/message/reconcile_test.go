package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permutations[T any](in []T) [][]T {
	if len(in) <= 1 {
		return [][]T{append([]T(nil), in...)}
	}
	var out [][]T
	for i := range in {
		rest := make([]T, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]T{in[i]}, p...))
		}
	}
	return out
}

type sourced struct {
	rec Patch
	src Source
}

func TestReconcileDedupAnyOrderSender(t *testing.T) {
	r := Reconciler{LocalUserID: "alice"}
	persisted := draft("T1", t0)
	persisted.CanonicalID = "C1"
	persisted.Status = StatusDelivered

	events := []sourced{
		{draft("T1", t0), SourceLocal},
		{draft("T1", t0), SourceBroadcast},
		{persisted, SourcePersistence},
	}
	for _, order := range permutations(events) {
		s := NewStore("chat-1")
		for _, ev := range order {
			var out Outcome
			s, out = r.Reconcile(s, ev.rec, ev.src)
			require.False(t, out.Dropped, "%v", out.Err)
		}
		require.Equal(t, 1, s.Len())
		m, ok := s.FindByCanonicalID("C1")
		require.True(t, ok)
		assert.Equal(t, "T1", m.TempID)
		assert.False(t, m.IsInstant)
		assert.Equal(t, StatusDelivered, m.Status)
		assert.True(t, m.Broadcasted)
	}
}

func TestReconcileDedupAnyOrderRecipient(t *testing.T) {
	r := Reconciler{LocalUserID: "bob"}
	persisted := draft("T1", t0)
	persisted.CanonicalID = "C1"

	events := []sourced{
		{draft("T1", t0), SourceBroadcast},
		{persisted, SourcePersistence},
	}
	for _, order := range permutations(events) {
		s := NewStore("chat-1")
		var outs []Outcome
		for _, ev := range order {
			var out Outcome
			s, out = r.Reconcile(s, ev.rec, ev.src)
			outs = append(outs, out)
		}
		require.Equal(t, 1, s.Len())
		assert.True(t, outs[0].Created)
		assert.False(t, outs[1].Created)

		m, _ := s.FindByTempID("T1")
		assert.Equal(t, "C1", m.CanonicalID)
		assert.False(t, m.IsInstant)
	}
}

func TestReconcileBroadcastFirstIsInstantThenPromoted(t *testing.T) {
	r := Reconciler{LocalUserID: "bob"}
	s := NewStore("chat-1")

	s, out := r.Reconcile(s, draft("T1", t0), SourceBroadcast)
	require.True(t, out.Created)
	assert.True(t, out.Message.IsInstant)

	persisted := draft("T1", t0)
	persisted.CanonicalID = "C1"
	s, out = r.Reconcile(s, persisted, SourcePersistence)
	assert.True(t, out.Promoted)
	assert.False(t, out.Message.IsInstant)
	assert.Equal(t, 1, s.Len())
}

func TestReconcileSelfEchoNeverDowngrades(t *testing.T) {
	r := Reconciler{LocalUserID: "alice"}
	s := NewStore("chat-1")
	s, _ = r.Reconcile(s, draft("T1", t0), SourceLocal)
	s, _ = r.Reconcile(s, Patch{TempID: "T1", Status: StatusRead, ReadAt: &t0}, SourceLocal)

	echo := draft("T1", t0)
	echo.Status = StatusSending
	s, out := r.Reconcile(s, echo, SourceBroadcast)
	assert.Equal(t, StatusRead, out.Message.Status)
	assert.False(t, out.Message.IsInstant)
	assert.Equal(t, 1, s.Len())
}

func TestReconcileDropsConflicts(t *testing.T) {
	r := Reconciler{LocalUserID: "alice"}
	s := NewStore("chat-1")
	s, _ = r.Reconcile(s, draft("T1", t0), SourceLocal)
	s, _, _ = s.Promote("T1", "C1")

	bad := draft("T1", t0)
	bad.CanonicalID = "C2"
	ns, out := r.Reconcile(s, bad, SourcePersistence)
	assert.True(t, out.Dropped)
	assert.True(t, IsAnomaly(out.Err))
	assert.Same(t, s, ns)
}

func TestReconcileUpdateWithoutSender(t *testing.T) {
	r := Reconciler{LocalUserID: "alice"}
	s := NewStore("chat-1")
	s, _ = r.Reconcile(s, draft("T1", t0), SourceLocal)

	s, out := r.Reconcile(s, Patch{TempID: "T1", CanonicalID: "C1"}, SourcePersistence)
	require.False(t, out.Dropped)
	assert.True(t, out.Promoted)
	assert.Equal(t, StatusDelivered, out.Message.Status)
	assert.Equal(t, 1, s.Len())
}

func TestReconcilePromotionCannotStealCanonicalID(t *testing.T) {
	r := Reconciler{LocalUserID: "alice"}
	s := NewStore("chat-1")
	s, _ = r.Reconcile(s, draft("T1", t0), SourceLocal)
	s, _ = r.Reconcile(s, draft("T2", t0), SourceLocal)
	s, out := r.Reconcile(s, Patch{TempID: "T2", CanonicalID: "C1"}, SourcePersistence)
	require.True(t, out.Promoted)

	ns, out := r.Reconcile(s, Patch{TempID: "T1", CanonicalID: "C1"}, SourcePersistence)
	assert.True(t, out.Dropped)
	assert.ErrorIs(t, out.Err, ErrConflict)
	assert.Same(t, s, ns)
	m, _ := ns.FindByTempID("T1")
	assert.Empty(t, m.CanonicalID)
}
