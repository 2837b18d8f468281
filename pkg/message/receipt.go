package message

import "time"

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

// Status is the message status a receipt of this kind advances to.
func (k ReceiptKind) Status() Status {
	if k == ReceiptRead {
		return StatusRead
	}
	return StatusDelivered
}

// Receipt is an ephemeral delivery or read signal from ActorID.
type Receipt struct {
	Refs    []Ref
	Kind    ReceiptKind
	ActorID string
	At      time.Time
}

// RefsOf collects the identities of ms.
func RefsOf(ms []Message) []Ref {
	out := make([]Ref, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Ref())
	}
	return out
}
