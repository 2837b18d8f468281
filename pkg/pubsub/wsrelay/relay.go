package wsrelay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Relay fans published frames out to every connection subscribed to the
// topic, the publisher included.
type Relay struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[*peer]struct{}
	topics map[string]map[*peer]struct{}
}

type peer struct {
	id string
	*wsConn
}

func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		log: logger.With("service", "WSRelay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers:  map[*peer]struct{}{},
		topics: map[string]map[*peer]struct{}{},
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	p := &peer{id: uuid.NewString(), wsConn: &wsConn{ws: ws}}
	r.register(p)
	defer func() {
		r.unregister(p)
		_ = ws.Close()
	}()

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("websocket read failed", slog.String("peer", p.id), slog.Any("error", err))
			}
			return
		}
		r.handle(p, f)
	}
}

func (r *Relay) handle(p *peer, f Frame) {
	ack := Frame{Op: OpAck, ID: f.ID, Topic: f.Topic}
	switch f.Op {
	case OpSubscribe:
		r.mu.Lock()
		if r.topics[f.Topic] == nil {
			r.topics[f.Topic] = map[*peer]struct{}{}
		}
		r.topics[f.Topic][p] = struct{}{}
		r.mu.Unlock()
	case OpUnsubscribe:
		r.mu.Lock()
		r.leave(p, f.Topic)
		r.mu.Unlock()
	case OpPublish:
		r.fanout(f.Topic, Frame{Op: OpMessage, Topic: f.Topic, Payload: f.Payload})
	default:
		ack.Error = "unknown op " + string(f.Op)
	}
	if f.ID == "" {
		return
	}
	if err := p.send(ack); err != nil {
		r.log.Debug("ack failed", slog.String("peer", p.id), slog.Any("error", err))
	}
}

func (r *Relay) fanout(topic string, f Frame) {
	r.mu.RLock()
	targets := make([]*peer, 0, len(r.topics[topic]))
	for p := range r.topics[topic] {
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(f); err != nil {
			r.log.Warn("relay delivery failed", slog.String("peer", p.id), slog.String("topic", topic), slog.Any("error", err))
		}
	}
}

func (r *Relay) register(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = struct{}{}
}

func (r *Relay) unregister(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
	for topic := range r.topics {
		r.leave(p, topic)
	}
}

// leave drops p from topic. r.mu must be held.
func (r *Relay) leave(p *peer, topic string) {
	delete(r.topics[topic], p)
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
}

// Peers is the number of live connections.
func (r *Relay) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Close drops every connection; clients will try to reconnect.
func (r *Relay) Close() {
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()
	for _, p := range peers {
		_ = p.ws.Close()
	}
}
