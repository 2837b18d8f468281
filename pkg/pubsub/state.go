package pubsub

import "sync"

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Notifier fans connection state changes out to registered callbacks.
// Callbacks run on the goroutine calling Set, outside the lock.
type Notifier struct {
	mu    sync.Mutex
	state State
	next  int
	fns   map[int]func(State)
}

func NewNotifier(initial State) *Notifier {
	return &Notifier{state: initial, fns: map[int]func(State){}}
}

func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Notifier) Subscribe(fn func(State)) (cancel func()) {
	n.mu.Lock()
	id := n.next
	n.next++
	n.fns[id] = fn
	cur := n.state
	n.mu.Unlock()

	fn(cur)
	return func() {
		n.mu.Lock()
		delete(n.fns, id)
		n.mu.Unlock()
	}
}

// Set moves to s and reports whether it changed.
func (n *Notifier) Set(s State) bool {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return false
	}
	n.state = s
	fns := make([]func(State), 0, len(n.fns))
	for _, fn := range n.fns {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
	return true
}
