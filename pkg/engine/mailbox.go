package engine

import "sync"

// mailbox is an unbounded FIFO of closures drained by a single goroutine.
// post never blocks, so callbacks from transports and stores cannot stall
// on a busy loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post enqueues fn and reports false once the mailbox is closed.
func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// close stops accepting work. Closures already queued still run.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

// run drains the mailbox until it is closed and empty. afterBatch, when set,
// runs after every drained batch.
func (m *mailbox) run(afterBatch func()) {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			if afterBatch != nil {
				afterBatch()
			}
			continue
		}
		if closed {
			return
		}
		<-m.signal
	}
}
