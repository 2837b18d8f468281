package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
)

var ErrPayloadNotJSON = errors.New("wsrelay: payload must be JSON")

type Options struct {
	URL           string
	Header        http.Header
	DialAttempts  int // initial dial; reconnects retry until Close
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	JitterPercent int
	Logger        *slog.Logger
}

// Client is a pubsub.Channel over a Relay. It reconnects with jittered
// backoff and restores its subscriptions on the new connection.
type Client struct {
	opts     Options
	log      *slog.Logger
	notifier *pubsub.Notifier

	mu      sync.Mutex
	conn    *wsConn
	topics  map[string]map[uint64]pubsub.Handler
	pending map[string]chan error
	nextID  uint64
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ pubsub.Channel = (*Client)(nil)

func Dial(ctx context.Context, opts Options) (*Client, error) {
	const op = "wsrelay.Dial"
	if opts.URL == "" {
		return nil, fmt.Errorf("%s: relay URL is required", op)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 3
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 500 * time.Millisecond
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = 30 * time.Second
	}

	c := &Client{
		opts:     opts,
		log:      opts.Logger.With("op", op),
		notifier: pubsub.NewNotifier(pubsub.StateConnecting),
		topics:   map[string]map[uint64]pubsub.Handler{},
		pending:  map[string]chan error{},
		done:     make(chan struct{}),
	}
	conn, err := pubsub.DialWithRetry(ctx, c.connOptions(opts.DialAttempts), c.dial)
	if err != nil {
		c.notifier.Set(pubsub.StateDisconnected)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.notifier.Set(pubsub.StateConnected)

	go c.run(conn)
	return c, nil
}

func (c *Client) connOptions(attempts int) pubsub.ConnectionOptions {
	return pubsub.ConnectionOptions{
		Name:          "wsrelay",
		RetryAttempts: attempts,
		Delay:         c.opts.ReconnectBase,
		MaxDelay:      c.opts.ReconnectCap,
		JitterPercent: c.opts.JitterPercent,
		Logger:        c.opts.Logger,
	}
}

func (c *Client) dial(ctx context.Context) (*wsConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// run owns the read side of the connection and the reconnect loop.
func (c *Client) run(conn *wsConn) {
	defer close(c.done)
	for {
		err := c.readLoop(conn)
		_ = conn.ws.Close()

		c.mu.Lock()
		closed := c.closed
		c.conn = nil
		pending := c.pending
		c.pending = map[string]chan error{}
		c.mu.Unlock()
		for _, ch := range pending {
			ch <- pubsub.ErrUnavailable
		}
		if closed {
			return
		}
		c.log.Warn("relay connection lost, reconnecting", slog.Any("error", err))
		c.notifier.Set(pubsub.StateDisconnected)

		next, err := pubsub.DialWithRetry(c.ctx, c.connOptions(0), c.dial)
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.ws.Close()
			return
		}
		c.conn = next
		topics := make([]string, 0, len(c.topics))
		for t := range c.topics {
			topics = append(topics, t)
		}
		c.mu.Unlock()

		for _, t := range topics {
			if err := next.send(Frame{Op: OpSubscribe, Topic: t}); err != nil {
				c.log.Error("resubscribe failed", slog.String("topic", t), slog.Any("error", err))
			}
		}
		conn = next
		c.notifier.Set(pubsub.StateConnected)
		c.log.Info("relay reconnected", slog.Int("topics", len(topics)))
	}
}

func (c *Client) readLoop(conn *wsConn) error {
	for {
		var f Frame
		if err := conn.ws.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Op {
		case OpMessage:
			c.mu.Lock()
			hs := make([]pubsub.Handler, 0, len(c.topics[f.Topic]))
			for _, h := range c.topics[f.Topic] {
				hs = append(hs, h)
			}
			c.mu.Unlock()
			for _, h := range hs {
				h(c.ctx, []byte(f.Payload))
			}
		case OpAck:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			if f.Error != "" {
				ch <- errors.New("wsrelay: " + f.Error)
			} else {
				ch <- nil
			}
		}
	}
}

// request sends f and waits for the relay to acknowledge it.
func (c *Client) request(ctx context.Context, f Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return pubsub.ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return pubsub.ErrUnavailable
	}
	f.ID = uuid.NewString()
	ack := make(chan error, 1)
	c.pending[f.ID] = ack
	c.mu.Unlock()

	if err := conn.send(f); err != nil {
		c.forget(f.ID)
		return fmt.Errorf("%w: %v", pubsub.ErrUnavailable, err)
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		c.forget(f.ID)
		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !json.Valid(payload) {
		return ErrPayloadNotJSON
	}
	return c.request(ctx, Frame{Op: OpPublish, Topic: topic, Payload: payload})
}

// Subscribe returns once the relay confirmed the subscription. While the
// relay is unreachable the subscription is recorded and restored on
// reconnect.
func (c *Client) Subscribe(ctx context.Context, topic string, h pubsub.Handler) (pubsub.Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, pubsub.ErrClosed
	}
	c.nextID++
	id := c.nextID
	first := len(c.topics[topic]) == 0
	if first {
		c.topics[topic] = map[uint64]pubsub.Handler{}
	}
	c.topics[topic][id] = h
	c.mu.Unlock()

	if first {
		if err := c.request(ctx, Frame{Op: OpSubscribe, Topic: topic}); err != nil && !errors.Is(err, pubsub.ErrUnavailable) {
			c.drop(topic, id)
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	var once sync.Once
	return pubsub.SubscriptionFunc(func() error {
		once.Do(func() { c.drop(topic, id) })
		return nil
	}), nil
}

func (c *Client) drop(topic string, id uint64) {
	c.mu.Lock()
	delete(c.topics[topic], id)
	last := len(c.topics[topic]) == 0
	if last {
		delete(c.topics, topic)
	}
	conn := c.conn
	c.mu.Unlock()
	if last && conn != nil {
		_ = conn.send(Frame{Op: OpUnsubscribe, Topic: topic})
	}
}

func (c *Client) NotifyState(fn func(pubsub.State)) func() {
	return c.notifier.Subscribe(fn)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.writeMu.Lock()
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.writeMu.Unlock()
		_ = conn.ws.Close()
	}
	<-c.done
	c.notifier.Set(pubsub.StateDisconnected)
	return nil
}
