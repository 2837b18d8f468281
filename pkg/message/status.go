package message

// Status is the delivery status of a message.
//
// Forward order is sending < sent < delivered < read and skips are allowed.
// failed is a side state reachable only from sending or sent, and left only
// through Retry.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// AtLeast reports whether s is at or past target in the forward order.
// failed is never at least anything.
func (s Status) AtLeast(target Status) bool {
	return s.rank() >= 0 && s.rank() >= target.rank()
}

// CanTransition reports whether from→to is allowed outside of a retry.
func CanTransition(from, to Status) bool {
	if from == to || !to.Valid() {
		return false
	}
	if from == "" {
		return true
	}
	switch to {
	case StatusFailed:
		return from == StatusSending || from == StatusSent
	case StatusSending:
		return false
	}
	if from == StatusFailed {
		return false
	}
	return to.rank() > from.rank()
}

// Advance applies to when allowed and otherwise keeps from. Late or
// regressing events are therefore no-ops.
func Advance(from, to Status) Status {
	if CanTransition(from, to) {
		return to
	}
	return from
}

// Retry moves a failed message back to sending.
func Retry(from Status) (Status, bool) {
	if from != StatusFailed {
		return from, false
	}
	return StatusSending, true
}
