// Package receipt marks messages delivered or read and applies receipts
// sent back by the peer.
package receipt

import (
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

type Tracker struct {
	LocalUserID string
}

// Result reports what applying a receipt changed.
type Result struct {
	Changed   []message.Message
	Unmatched []message.Ref
	Ignored   bool // the receipt was sent by the local user
}

// MarkRead marks every unread message from the peer as read at at and
// returns the messages that changed, in list order.
func (t Tracker) MarkRead(s *message.Store, at time.Time) (*message.Store, []message.Message) {
	var changed []message.Message
	for _, m := range s.List() {
		if m.AuthoredBy(t.LocalUserID) || m.Status == message.StatusRead || m.ReadAt != nil {
			continue
		}
		ns, nm, err := s.Upsert(readPatch(m.Ref(), at), message.MatchAny)
		if err != nil || ns == s {
			continue
		}
		s = ns
		changed = append(changed, nm)
	}
	return s, changed
}

// MarkDelivered marks the given peer messages delivered at at.
func (t Tracker) MarkDelivered(s *message.Store, refs []message.Ref, at time.Time) (*message.Store, []message.Message) {
	var changed []message.Message
	for _, r := range refs {
		m, ok := s.Find(r)
		if !ok || m.AuthoredBy(t.LocalUserID) {
			continue
		}
		ns, nm, err := s.Upsert(message.Patch{
			TempID:      m.TempID,
			CanonicalID: m.CanonicalID,
			Status:      message.StatusDelivered,
			DeliveredAt: &at,
		}, message.MatchAny)
		if err != nil || ns == s {
			continue
		}
		s = ns
		changed = append(changed, nm)
	}
	return s, changed
}

// Apply advances the local user's own messages named by a peer receipt.
// Receipts from the local user and refs to messages it did not author are
// ignored. Refs that match nothing are returned so the caller can retry
// them once the message shows up.
func (t Tracker) Apply(s *message.Store, r message.Receipt) (*message.Store, Result) {
	var res Result
	if r.ActorID == t.LocalUserID {
		res.Ignored = true
		return s, res
	}
	for _, ref := range r.Refs {
		m, ok := s.Find(ref)
		if !ok {
			res.Unmatched = append(res.Unmatched, ref)
			continue
		}
		if !m.AuthoredBy(t.LocalUserID) {
			continue
		}
		at := r.At
		p := message.Patch{
			TempID:      m.TempID,
			CanonicalID: m.CanonicalID,
			Status:      r.Kind.Status(),
			DeliveredAt: &at,
		}
		if r.Kind == message.ReceiptRead {
			p.ReadAt = &at
		}
		ns, nm, err := s.Upsert(p, message.MatchAny)
		if err != nil || ns == s {
			continue
		}
		s = ns
		res.Changed = append(res.Changed, nm)
	}
	return s, res
}

func readPatch(r message.Ref, at time.Time) message.Patch {
	return message.Patch{
		TempID:      r.TempID,
		CanonicalID: r.CanonicalID,
		Status:      message.StatusRead,
		ReadAt:      &at,
	}
}
