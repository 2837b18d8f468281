package pubsub

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned by Publish while the transport is offline.
	ErrUnavailable = errors.New("pubsub: channel unavailable")
	ErrClosed      = errors.New("pubsub: channel closed")
)

// Handler receives one payload published on a topic.
type Handler func(ctx context.Context, payload []byte)

type Subscription interface {
	Unsubscribe() error
}

// Channel is a topic based publish/subscribe transport. Connection changes
// are pushed through NotifyState.
type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	// NotifyState registers fn for connection state changes. fn is called
	// once with the current state on registration.
	NotifyState(fn func(State)) (cancel func())
	Close() error
}

// SubscriptionFunc adapts a func to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
