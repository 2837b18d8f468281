package pubsub

import (
	"context"
	"sync"
)

// Broker is an in-process topic bus. Each participant gets its own
// MemoryChannel; a channel that is offline neither sends nor receives.
type Broker struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]*memSub
}

type memSub struct {
	owner *MemoryChannel
	h     Handler
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[uint64]*memSub{}}
}

// Channel returns a new connected participant.
func (b *Broker) Channel() *MemoryChannel {
	return &MemoryChannel{
		b:        b,
		notifier: NewNotifier(StateConnected),
		ids:      map[uint64]string{},
	}
}

func (b *Broker) add(topic string, s *memSub) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.subs[topic] == nil {
		b.subs[topic] = map[uint64]*memSub{}
	}
	b.subs[topic][b.next] = s
	return b.next
}

func (b *Broker) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[topic], id)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Broker) deliver(ctx context.Context, topic string, payload []byte) {
	b.mu.RLock()
	targets := make([]*memSub, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.owner.online() {
			s.h(ctx, append([]byte(nil), payload...))
		}
	}
}

// MemoryChannel is one participant on a Broker. Delivery is synchronous:
// Publish returns after every online subscriber's handler returned.
type MemoryChannel struct {
	b        *Broker
	notifier *Notifier

	mu     sync.Mutex
	closed bool
	ids    map[uint64]string
}

func (c *MemoryChannel) online() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.notifier.State() == StateConnected
}

// SetConnected simulates the transport going offline or coming back.
func (c *MemoryChannel) SetConnected(up bool) {
	if up {
		c.notifier.Set(StateConnected)
		return
	}
	c.notifier.Set(StateDisconnected)
}

func (c *MemoryChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if c.notifier.State() != StateConnected {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.b.deliver(ctx, topic, payload)
	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	id := c.b.add(topic, &memSub{owner: c, h: h})
	c.ids[id] = topic

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			c.mu.Lock()
			delete(c.ids, id)
			c.mu.Unlock()
			c.b.remove(topic, id)
		})
		return nil
	}), nil
}

func (c *MemoryChannel) NotifyState(fn func(State)) func() {
	return c.notifier.Subscribe(fn)
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := c.ids
	c.ids = map[uint64]string{}
	c.mu.Unlock()

	for id, topic := range ids {
		c.b.remove(topic, id)
	}
	c.notifier.Set(StateDisconnected)
	return nil
}
