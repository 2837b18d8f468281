package pubsub

import (
	"context"
	"log/slog"
)

// FallbackChannel stands in when no transport is configured. Publishes
// fail with ErrUnavailable so callers treat every send as a transport
// failure; subscriptions never deliver.
type FallbackChannel struct {
	log *slog.Logger
}

func (p *FallbackChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	p.log.Warn("FallbackChannel: skipped publish", slog.String("topic", topic))
	return ErrUnavailable
}

func (p *FallbackChannel) Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error) {
	p.log.Debug("FallbackChannel: subscribe is a no-op", slog.String("topic", topic))
	return SubscriptionFunc(func() error { return nil }), nil
}

func (p *FallbackChannel) NotifyState(fn func(State)) func() {
	fn(StateDisconnected)
	return func() {}
}

func (p *FallbackChannel) Close() error {
	return nil
}

func NewFallback(logger *slog.Logger) Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackChannel{
		log: logger,
	}
}
