// Package rabbit carries chat topics over a RabbitMQ topic exchange.
// Every subscription owns an exclusive auto-delete queue bound to its topic,
// so each participant sees every event published on the chat.
package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
)

// -----------------------------------------------------------------------------
// Channel
// -----------------------------------------------------------------------------

type Channel struct {
	cfg      Config
	logger   *slog.Logger
	notifier *pubsub.Notifier

	mu     sync.Mutex
	conn   *amqp.Connection
	pool   *ChannelPool
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	id    uint64
	topic string
	h     pubsub.Handler
	ch    *amqp.Channel
}

var _ pubsub.Channel = (*Channel)(nil)

// Dial connects, declares the exchange and starts the reconnect supervisor.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Channel, error) {
	const op = "rabbit.Dial"

	if cfg.URL == "" {
		return nil, fmt.Errorf("%s: rabbitmq URL is required", op)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	host := ""
	if u, _ := url.Parse(cfg.URL); u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	c := &Channel{
		cfg:      cfg,
		logger:   logger,
		notifier: pubsub.NewNotifier(pubsub.StateConnecting),
		subs:     map[uint64]*subscription{},
	}
	conn, err := pubsub.DialWithRetry(ctx, pubsub.ConnectionOptions{
		Name:          "rabbit",
		RetryAttempts: cfg.DialAttempts,
		Delay:         pubsub.Dsec(cfg.ReconnectBackoffBaseSeconds, 1),
		MaxDelay:      pubsub.Dsec(cfg.ReconnectBackoffCapSeconds, 30),
		JitterPercent: cfg.ReconnectJitterPercent,
		Logger:        logger,
	}, c.connect)
	if err != nil {
		c.notifier.Set(pubsub.StateDisconnected)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.conn = conn
	c.pool = NewChannelPool(conn, cfg.PublishPoolSize)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.notifier.Set(pubsub.StateConnected)

	c.wg.Add(1)
	go c.supervise(conn)

	logger.With("op", op).Info("channel ready", slog.String("exchange", cfg.Exchange))
	return c, nil
}

// connect dials once and declares the exchange on a throwaway channel.
func (c *Channel) connect(ctx context.Context) (*amqp.Connection, error) {
	timeout := time.Duration(c.cfg.ConnTimeoutSeconds) * time.Second
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("context deadline exceeded before connection attempt")
	}

	conn, err := c.cfg.Dialer(ctx, c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	tmp, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer SafeClose(tmp)
	if err := tmp.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", c.cfg.Exchange, err)
	}
	return conn, nil
}

// supervise waits for the connection to drop, reconnects with jittered
// backoff and restarts every live subscription on the new connection.
func (c *Channel) supervise(conn *amqp.Connection) {
	defer c.wg.Done()
	const op = "rabbit.supervise"
	log := c.logger.With("op", op)

	for {
		errCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			log.Error("amqp connection closed, reconnecting", slog.Any("error", err))
		}
		c.notifier.Set(pubsub.StateDisconnected)

		next, err := pubsub.DialWithRetry(c.ctx, pubsub.ConnectionOptions{
			Name:          "rabbit",
			Delay:         pubsub.Dsec(c.cfg.ReconnectBackoffBaseSeconds, 1),
			MaxDelay:      pubsub.Dsec(c.cfg.ReconnectBackoffCapSeconds, 30),
			JitterPercent: c.cfg.ReconnectJitterPercent,
			Logger:        c.logger,
		}, c.connect)
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.Close()
			return
		}
		if c.pool != nil {
			c.pool.Close()
		}
		c.conn = next
		c.pool = NewChannelPool(next, c.cfg.PublishPoolSize)
		for _, s := range c.subs {
			if err := c.startConsumerLocked(s); err != nil {
				log.Error("restart subscription after reconnect failed",
					slog.String("topic", s.topic), slog.Any("error", err))
			}
		}
		c.mu.Unlock()

		conn = next
		c.notifier.Set(pubsub.StateConnected)
		log.Info("reconnected")
	}
}

func (c *Channel) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	closed, pool := c.closed, c.pool
	c.mu.Unlock()
	if closed {
		return pubsub.ErrClosed
	}
	if c.notifier.State() != pubsub.StateConnected {
		return pubsub.ErrUnavailable
	}

	ch, err := pool.Borrow(ctx, time.Duration(c.cfg.PoolRetryDelayMs)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}
	defer pool.Return(ch)

	return ch.PublishWithContext(ctx, c.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		AppId:        c.cfg.AppID,
	})
}

func (c *Channel) Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, pubsub.ErrClosed
	}
	c.nextID++
	s := &subscription{id: c.nextID, topic: topic, h: h}
	if err := c.startConsumerLocked(s); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.subs[s.id] = s

	var once sync.Once
	return pubsub.SubscriptionFunc(func() error {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, s.id)
			ch := s.ch
			c.mu.Unlock()
			SafeClose(ch)
		})
		return nil
	}), nil
}

// startConsumerLocked declares the subscription's private queue and runs
// its delivery loop. c.mu must be held.
func (c *Channel) startConsumerLocked(s *subscription) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.ConsumerPrefetch, 0, false); err != nil {
		SafeClose(ch)
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		SafeClose(ch)
		return err
	}
	if err := ch.QueueBind(q.Name, s.topic, c.cfg.Exchange, false, nil); err != nil {
		SafeClose(ch)
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		SafeClose(ch)
		return err
	}
	s.ch = ch

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for d := range msgs {
			s.h(c.ctx, d.Body)
		}
	}()

	c.logger.Debug("subscription started", slog.String("topic", s.topic), slog.String("queue", q.Name))
	return nil
}

func (c *Channel) NotifyState(fn func(pubsub.State)) func() {
	return c.notifier.Subscribe(fn)
}

// Close stops the supervisor, every subscription and the connection.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	subs := c.subs
	c.subs = map[uint64]*subscription{}
	pool, conn := c.pool, c.conn
	c.mu.Unlock()

	for _, s := range subs {
		SafeClose(s.ch)
	}
	if pool != nil {
		pool.Close()
	}
	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	c.notifier.Set(pubsub.StateDisconnected)
	return err
}
