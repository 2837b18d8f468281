// Package redisbus carries chat topics over Redis PUBLISH/SUBSCRIBE.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
)

type Bus struct {
	log      *slog.Logger
	rdb      *goredis.Client
	notifier *pubsub.Notifier

	mu     sync.Mutex
	subs   map[*goredis.PubSub]struct{}
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ pubsub.Channel = (*Bus)(nil)

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, opts *goredis.Options, logger *slog.Logger) (*Bus, error) {
	const op = "redisbus.New"
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("%s: redis address is required", op)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	b := &Bus{
		log:      logger.With("service", "RedisBus"),
		rdb:      goredis.NewClient(opts),
		notifier: pubsub.NewNotifier(pubsub.StateConnecting),
		subs:     map[*goredis.PubSub]struct{}{},
	}
	b.rdb.AddHook(stateHook{n: b.notifier})

	pctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := b.rdb.Ping(pctx).Err(); err != nil {
		_ = b.rdb.Close()
		return nil, fmt.Errorf("%s: redis ping: %w", op, err)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return pubsub.ErrClosed
	}
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		if isNetErr(err) {
			return fmt.Errorf("%w: %v", pubsub.ErrUnavailable, err)
		}
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, pubsub.ErrClosed
	}

	sub := b.rdb.Subscribe(ctx, topic)
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := sub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				h(b.ctx, []byte(m.Payload))
			}
		}
	}()

	var once sync.Once
	return pubsub.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			err = sub.Close()
		})
		return err
	}), nil
}

func (b *Bus) NotifyState(fn func(pubsub.State)) func() {
	return b.notifier.Subscribe(fn)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.cancel()
	for sub := range subs {
		_ = sub.Close()
	}
	b.wg.Wait()
	err := b.rdb.Close()
	b.notifier.Set(pubsub.StateDisconnected)
	return err
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// stateHook derives connection state from dial and command outcomes.
type stateHook struct {
	n *pubsub.Notifier
}

func (h stateHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.n.Set(pubsub.StateDisconnected)
			return nil, err
		}
		h.n.Set(pubsub.StateConnected)
		return conn, nil
	}
}

func (h stateHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := next(ctx, cmd)
		h.observe(err)
		return err
	}
}

func (h stateHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		err := next(ctx, cmds)
		h.observe(err)
		return err
	}
}

func (h stateHook) observe(err error) {
	switch {
	case err == nil:
		h.n.Set(pubsub.StateConnected)
	case isNetErr(err):
		h.n.Set(pubsub.StateDisconnected)
	}
}

// isNetErr tells transport failures apart from Redis replies and
// cancellations.
func isNetErr(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rerr goredis.Error
	return !errors.As(err, &rerr)
}
