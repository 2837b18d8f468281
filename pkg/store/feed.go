// Package store holds what the persistence adapters share.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

var (
	ErrNotFound = errors.New("store: message not found")
	ErrNoTempID = errors.New("store: temp id is required")
)

// Feed fans persisted records out to per-chat subscribers. Callbacks run
// synchronously on the publishing goroutine and must not block.
type Feed struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(message.Message)
}

func NewFeed() *Feed {
	return &Feed{subs: map[string]map[int]func(message.Message){}}
}

func (f *Feed) Subscribe(chatID string, fn func(message.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	if f.subs[chatID] == nil {
		f.subs[chatID] = map[int]func(message.Message){}
	}
	f.subs[chatID][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[chatID], id)
			if len(f.subs[chatID]) == 0 {
				delete(f.subs, chatID)
			}
		})
	}
}

func (f *Feed) Publish(m message.Message) {
	f.mu.RLock()
	fns := make([]func(message.Message), 0, len(f.subs[m.ChatID]))
	for _, fn := range f.subs[m.ChatID] {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()
	for _, fn := range fns {
		fn(m)
	}
}

// Record normalizes a message as the backing store keeps it: confirmed,
// delivered at the latest, and stripped of client-only send state.
func Record(m message.Message, canonicalID string, at time.Time) message.Message {
	m.CanonicalID = canonicalID
	m.IsInstant = false
	m.Failure = message.FailureNone
	m.Broadcasted = false
	if !m.Status.AtLeast(message.StatusDelivered) {
		m.Status = message.StatusDelivered
	}
	if m.DeliveredAt == nil {
		t := at
		m.DeliveredAt = &t
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = at
	}
	return m
}
