// Package wsrelay relays chat topics between WebSocket clients.
// Relay is the server side http.Handler; Client implements pubsub.Channel
// on top of one relay connection.
package wsrelay

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

type Op string

const (
	OpSubscribe   Op = "sub"
	OpUnsubscribe Op = "unsub"
	OpPublish     Op = "pub"
	OpMessage     Op = "msg" // relay → client delivery
	OpAck         Op = "ack" // relay → client reply to a request carrying ID
)

// Frame is the single JSON message shape on the wire. Payloads must be JSON.
type Frame struct {
	Op      Op              `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}
