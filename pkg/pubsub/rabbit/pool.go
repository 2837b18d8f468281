package rabbit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrPoolClosed = errors.New("rabbit: channel pool closed")
	ErrConnClosed = errors.New("rabbit: amqp connection closed")
)

// connection is the part of *amqp.Connection the pool needs.
type connection interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
}

// ChannelPool keeps a bounded number of publishing channels alive.
// Invariant: len(permits) == idle + borrowed channels <= capacity.
type ChannelPool struct {
	conn    connection
	idle    chan *amqp.Channel
	permits chan struct{}

	closed atomic.Bool
	openMu sync.Mutex
}

func NewChannelPool(conn connection, capacity int) *ChannelPool {
	if capacity <= 0 {
		capacity = 16
	}
	return &ChannelPool{
		conn:    conn,
		idle:    make(chan *amqp.Channel, capacity),
		permits: make(chan struct{}, capacity),
	}
}

// Borrow hands out an open channel, growing the pool up to capacity and
// otherwise waiting for a Return.
func (cp *ChannelPool) Borrow(ctx context.Context, retryDelay time.Duration) (*amqp.Channel, error) {
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	for {
		if cp.closed.Load() {
			return nil, ErrPoolClosed
		}
		if cp.conn.IsClosed() {
			return nil, ErrConnClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ch, ok := <-cp.idle:
			if !ok {
				return nil, ErrPoolClosed
			}
			if !ch.IsClosed() {
				return ch, nil
			}
			// stale: reopen under the permit it already holds
			SafeClose(ch)
			if nch, err := cp.open(); err == nil {
				return nch, nil
			}
			cp.release()

		case cp.permits <- struct{}{}:
			nch, err := cp.open()
			if err == nil {
				return nch, nil
			}
			cp.release()

		case <-time.After(retryDelay):
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func (cp *ChannelPool) Return(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	if cp.closed.Load() || cp.conn.IsClosed() || ch.IsClosed() {
		SafeClose(ch)
		cp.release()
		return
	}
	select {
	case cp.idle <- ch:
	default:
		SafeClose(ch)
		cp.release()
	}
}

func (cp *ChannelPool) Close() {
	if cp.closed.Swap(true) {
		return
	}
	close(cp.idle)
	for ch := range cp.idle {
		SafeClose(ch)
		cp.release()
	}
}

func (cp *ChannelPool) release() {
	select {
	case <-cp.permits:
	default:
	}
}

func (cp *ChannelPool) open() (*amqp.Channel, error) {
	cp.openMu.Lock()
	defer cp.openMu.Unlock()
	if cp.conn.IsClosed() {
		return nil, ErrConnClosed
	}
	return cp.conn.Channel()
}

// SafeClose closes ch, tolerating nil and already torn down channels.
func SafeClose(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	_ = ch.Close()
}
