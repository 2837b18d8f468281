package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/schemas/common"
)

// Encode validates ev and wraps it in an envelope stamped by producer.
func Encode(ev Event, producer string, now time.Time) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: %w: nil event", ErrInvalidContract)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	env := common.Envelope{
		Meta: common.NewMeta(string(ev.EventType()), producer, now),
		Data: ev,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return b, nil
}

// Decode parses an envelope and returns its validated event. Malformed or
// invalid payloads match ErrInvalidContract, unknown types ErrUnknownEvent.
func Decode(b []byte) (common.Meta, Event, error) {
	var raw common.RawEnvelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return common.Meta{}, nil, fmt.Errorf("decode envelope: %w: %v", ErrInvalidContract, err)
	}
	var (
		ev  Event
		err error
	)
	switch EventType(raw.Meta.Type) {
	case TypeInstantMessage:
		ev, err = decodeAs[InstantMessageV1](raw.Data)
	case TypeInstantMessageUpdate:
		ev, err = decodeAs[InstantMessageUpdateV1](raw.Data)
	case TypeReadReceipt:
		ev, err = decodeAs[ReadReceiptV1](raw.Data)
	case TypeDeliveryReceipt:
		ev, err = decodeAs[DeliveryReceiptV1](raw.Data)
	case TypeTypingStart:
		ev, err = decodeAs[TypingStartV1](raw.Data)
	case TypeTypingStop:
		ev, err = decodeAs[TypingStopV1](raw.Data)
	default:
		return raw.Meta, nil, fmt.Errorf("decode: %w %q", ErrUnknownEvent, raw.Meta.Type)
	}
	if err != nil {
		return raw.Meta, nil, fmt.Errorf("decode %s: %w", raw.Meta.Type, err)
	}
	return raw.Meta, ev, nil
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidContract)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContract, err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}
