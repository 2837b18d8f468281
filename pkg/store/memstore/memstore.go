// Package memstore is an in-process message store. It can inject insert
// failures and hold inserts in flight, which makes persistence races
// reproducible.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	"github.com/roboricindustries/raycon-chatsync/pkg/store"
)

var ErrInjected = errors.New("memstore: injected failure")

type Store struct {
	mu      sync.Mutex
	rows    map[string]message.Message // canonical id → record
	byTemp  map[string]string          // chat id + temp id → canonical id
	inserts *store.Feed
	updates *store.Feed
	now     func() time.Time

	failN   int
	failErr error
	gate    chan struct{}
}

func New() *Store {
	return &Store{
		rows:    map[string]message.Message{},
		byTemp:  map[string]string{},
		inserts: store.NewFeed(),
		updates: store.NewFeed(),
		now:     time.Now,
	}
}

// WithClock makes the store stamp records from now.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// FailNextInserts makes the next n inserts fail with err (ErrInjected when nil).
func (s *Store) FailNextInserts(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	s.failN, s.failErr = n, err
}

// HoldInserts blocks inserts until release is called.
func (s *Store) HoldInserts() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

func key(chatID, tempID string) string { return chatID + "\x00" + tempID }

// Insert persists m once per (chat, temp id). Repeating an insert returns
// the stored record without notifying subscribers again.
func (s *Store) Insert(ctx context.Context, m message.Message) (message.Message, error) {
	if m.TempID == "" {
		return message.Message{}, store.ErrNoTempID
	}

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return message.Message{}, ctx.Err()
		}
	}

	s.mu.Lock()
	if s.failN > 0 {
		s.failN--
		err := s.failErr
		s.mu.Unlock()
		return message.Message{}, fmt.Errorf("insert %s: %w", m.TempID, err)
	}
	if id, ok := s.byTemp[key(m.ChatID, m.TempID)]; ok {
		rec := s.rows[id]
		s.mu.Unlock()
		return rec, nil
	}
	rec := store.Record(m, uuid.NewString(), s.now().UTC())
	s.rows[rec.CanonicalID] = rec
	s.byTemp[key(rec.ChatID, rec.TempID)] = rec.CanonicalID
	s.mu.Unlock()

	s.inserts.Publish(rec)
	return rec, nil
}

// Update applies p to the stored record and notifies update subscribers
// when anything changed.
func (s *Store) Update(ctx context.Context, canonicalID string, p message.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cur, ok := s.rows[canonicalID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update %s: %w", canonicalID, store.ErrNotFound)
	}
	// identity is not patchable
	p.TempID, p.CanonicalID = "", ""
	next := cur.Apply(p)
	if next.Equal(cur) {
		s.mu.Unlock()
		return nil
	}
	s.rows[canonicalID] = next
	s.mu.Unlock()

	s.updates.Publish(next)
	return nil
}

func (s *Store) SubscribeInsert(chatID string, fn func(message.Message)) (func(), error) {
	return s.inserts.Subscribe(chatID, fn), nil
}

func (s *Store) SubscribeUpdate(chatID string, fn func(message.Message)) (func(), error) {
	return s.updates.Subscribe(chatID, fn), nil
}

// Get returns the stored record.
func (s *Store) Get(canonicalID string) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[canonicalID]
	return m, ok
}

// Len counts stored records across chats.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
