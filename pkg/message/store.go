package message

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var (
	ErrDuplicate = errors.New("message: duplicate identity")
	ErrNotFound  = errors.New("message: not found")
	ErrConflict  = errors.New("message: conflicting identity")
	ErrNoID      = errors.New("message: record has neither temp nor canonical id")
)

// MatchBy selects the identity Upsert looks a patch up by.
type MatchBy int

const (
	MatchAny MatchBy = iota // canonical id first, then temp id
	MatchTemp
	MatchCanonical
)

func (b MatchBy) String() string {
	switch b {
	case MatchTemp:
		return "temp"
	case MatchCanonical:
		return "canonical"
	default:
		return "any"
	}
}

// Store is an immutable per-chat snapshot of messages. Messages live in
// slots that never move; temp and canonical ids are aliases into them.
// Every mutation returns a new *Store and leaves the receiver untouched, so a
// snapshot can be handed to readers on other goroutines.
type Store struct {
	chatID  string
	slots   []Message
	byTemp  map[string]int
	byCanon map[string]int
}

func NewStore(chatID string) *Store {
	return &Store{
		chatID:  chatID,
		byTemp:  map[string]int{},
		byCanon: map[string]int{},
	}
}

func (s *Store) ChatID() string { return s.chatID }

func (s *Store) Len() int { return len(s.slots) }

func (s *Store) clone() *Store {
	return &Store{
		chatID:  s.chatID,
		slots:   slices.Clone(s.slots),
		byTemp:  maps.Clone(s.byTemp),
		byCanon: maps.Clone(s.byCanon),
	}
}

func (s *Store) FindByTempID(id string) (Message, bool) {
	if id == "" {
		return Message{}, false
	}
	i, ok := s.byTemp[id]
	if !ok {
		return Message{}, false
	}
	return s.slots[i], true
}

func (s *Store) FindByCanonicalID(id string) (Message, bool) {
	if id == "" {
		return Message{}, false
	}
	i, ok := s.byCanon[id]
	if !ok {
		return Message{}, false
	}
	return s.slots[i], true
}

// Find looks r up by temp id first, then canonical id.
func (s *Store) Find(r Ref) (Message, bool) {
	if m, ok := s.FindByTempID(r.TempID); ok {
		return m, true
	}
	return s.FindByCanonicalID(r.CanonicalID)
}

// List returns the messages ordered by creation time. Ties keep arrival order.
func (s *Store) List() []Message {
	out := slices.Clone(s.slots)
	slices.SortStableFunc(out, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Append adds m as a new slot.
func (s *Store) Append(m Message) (*Store, Message, error) {
	if m.Ref().IsZero() {
		return s, Message{}, ErrNoID
	}
	if _, ok := s.byTemp[m.TempID]; ok && m.TempID != "" {
		return s, Message{}, fmt.Errorf("%w: temp id %q", ErrDuplicate, m.TempID)
	}
	if _, ok := s.byCanon[m.CanonicalID]; ok && m.CanonicalID != "" {
		return s, Message{}, fmt.Errorf("%w: canonical id %q", ErrDuplicate, m.CanonicalID)
	}
	if m.ChatID == "" {
		m.ChatID = s.chatID
	}
	ns := s.clone()
	ns.slots = append(ns.slots, m)
	ns.alias(len(ns.slots)-1, m)
	return ns, m, nil
}

func (s *Store) alias(i int, m Message) {
	if m.TempID != "" {
		s.byTemp[m.TempID] = i
	}
	if m.CanonicalID != "" {
		s.byCanon[m.CanonicalID] = i
	}
}

func (s *Store) lookup(p Patch, by MatchBy) (int, bool, error) {
	ti, tok := s.byTemp[p.TempID]
	tok = tok && p.TempID != ""
	ci, cok := s.byCanon[p.CanonicalID]
	cok = cok && p.CanonicalID != ""

	switch by {
	case MatchTemp:
		if !tok {
			return 0, false, nil
		}
		return ti, true, s.compatible(ti, p)
	case MatchCanonical:
		if !cok {
			return 0, false, nil
		}
		return ci, true, s.compatible(ci, p)
	}
	switch {
	case cok && tok && ci != ti:
		return 0, false, fmt.Errorf("%w: temp %q and canonical %q address different messages",
			ErrConflict, p.TempID, p.CanonicalID)
	case cok:
		return ci, true, s.compatible(ci, p)
	case tok:
		return ti, true, s.compatible(ti, p)
	}
	return 0, false, nil
}

// compatible rejects a patch whose ids would rebind slot i or steal an alias
// owned by another slot.
func (s *Store) compatible(i int, p Patch) error {
	cur := s.slots[i]
	if p.CanonicalID != "" {
		if cur.CanonicalID != "" && cur.CanonicalID != p.CanonicalID {
			return fmt.Errorf("%w: %s already promoted to %q", ErrConflict, cur.Ref(), cur.CanonicalID)
		}
		if j, ok := s.byCanon[p.CanonicalID]; ok && j != i {
			return fmt.Errorf("%w: canonical id %q owned by another message", ErrConflict, p.CanonicalID)
		}
	}
	if p.TempID != "" {
		if cur.TempID != "" && cur.TempID != p.TempID {
			return fmt.Errorf("%w: %s carries temp id %q", ErrConflict, cur.Ref(), cur.TempID)
		}
		if j, ok := s.byTemp[p.TempID]; ok && j != i {
			return fmt.Errorf("%w: temp id %q owned by another message", ErrConflict, p.TempID)
		}
	}
	return nil
}

// Upsert merges p into the message it matches, or appends a new message when
// nothing matches and p carries content. Applying the same patch twice yields
// the same snapshot; a patch that changes nothing returns the receiver.
func (s *Store) Upsert(p Patch, by MatchBy) (*Store, Message, error) {
	if p.Ref().IsZero() {
		return s, Message{}, ErrNoID
	}
	i, ok, err := s.lookup(p, by)
	if err != nil {
		return s, Message{}, err
	}
	if !ok {
		if !p.creates() {
			return s, Message{}, fmt.Errorf("%w: %s", ErrNotFound, p.Ref())
		}
		if p.ChatID == "" {
			p.ChatID = s.chatID
		}
		return s.Append(New(p))
	}

	cur := s.slots[i]
	next := cur.Apply(p)
	if next.Equal(cur) {
		return s, cur, nil
	}
	ns := s.clone()
	ns.slots[i] = next
	ns.alias(i, next)
	return ns, next, nil
}

// Promote binds canonicalID to the message known by tempID and clears its
// instant flag.
func (s *Store) Promote(tempID, canonicalID string) (*Store, Message, error) {
	if tempID == "" || canonicalID == "" {
		return s, Message{}, ErrNoID
	}
	return s.Upsert(Patch{TempID: tempID, CanonicalID: canonicalID, Persisted: true}, MatchTemp)
}
