// Package chat holds the events exchanged by peers on a chat topic.
// The set is closed: Decode only ever returns the types declared here.
package chat

import "time"

type EventType string

const (
	TypeInstantMessage       EventType = "instant_message"
	TypeInstantMessageUpdate EventType = "instant_message_update"
	TypeReadReceipt          EventType = "instant_read_receipt"
	TypeDeliveryReceipt      EventType = "instant_delivery_receipt"
	TypeTypingStart          EventType = "typing_start"
	TypeTypingStop           EventType = "typing_stop"
)

// Event is one variant of the union.
type Event interface {
	EventType() EventType
	Validate() error
	isEvent()
}

// MessageRef names a message by temp id, canonical id or both.
type MessageRef struct {
	TempID      string `json:"temp_id,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"`
}

var kinds = map[string]bool{"text": true, "image": true, "video": true, "file": true}

// InstantMessageV1 - emitted by the sender as soon as the user submits,
// ahead of persistence.
type InstantMessageV1 struct {
	TempID          string    `json:"temp_id"`
	ChatID          string    `json:"chat_id"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	ContentOriginal string    `json:"content_original"`
	Kind            string    `json:"kind"`
	CreatedAt       time.Time `json:"created_at"`
}

// InstantMessageUpdateV1 carries a translation for an already sent message.
type InstantMessageUpdateV1 struct {
	TempID            string `json:"temp_id"`
	CanonicalID       string `json:"canonical_id,omitempty"`
	SenderID          string `json:"sender_id"`
	ContentTranslated string `json:"content_translated"`
	SourceLang        string `json:"source_lang,omitempty"`
	TargetLang        string `json:"target_lang"`
}

type ReadReceiptV1 struct {
	Messages []MessageRef `json:"messages"`
	ReadAt   time.Time    `json:"read_at"`
	ReadBy   string       `json:"read_by"`
}

type DeliveryReceiptV1 struct {
	Messages    []MessageRef `json:"messages"`
	DeliveredAt time.Time    `json:"delivered_at"`
	DeliveredTo string       `json:"delivered_to"`
}

type TypingStartV1 struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type TypingStopV1 struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

func (InstantMessageV1) EventType() EventType       { return TypeInstantMessage }
func (InstantMessageUpdateV1) EventType() EventType { return TypeInstantMessageUpdate }
func (ReadReceiptV1) EventType() EventType          { return TypeReadReceipt }
func (DeliveryReceiptV1) EventType() EventType      { return TypeDeliveryReceipt }
func (TypingStartV1) EventType() EventType          { return TypeTypingStart }
func (TypingStopV1) EventType() EventType           { return TypeTypingStop }

func (InstantMessageV1) isEvent()       {}
func (InstantMessageUpdateV1) isEvent() {}
func (ReadReceiptV1) isEvent()          {}
func (DeliveryReceiptV1) isEvent()      {}
func (TypingStartV1) isEvent()          {}
func (TypingStopV1) isEvent()           {}

// --------- validation ----------------

func (m InstantMessageV1) Validate() error {
	ve := &ValidationError{Type: TypeInstantMessage}
	ve.required("temp_id", m.TempID)
	ve.required("chat_id", m.ChatID)
	ve.required("sender_id", m.SenderID)
	ve.required("recipient_id", m.RecipientID)
	if !kinds[m.Kind] {
		ve.add("kind", "unknown")
	}
	if m.Kind == "text" && m.ContentOriginal == "" {
		ve.add("content_original", "required for text")
	}
	if m.CreatedAt.IsZero() {
		ve.add("created_at", "required")
	}
	return ve.err()
}

func (m InstantMessageUpdateV1) Validate() error {
	ve := &ValidationError{Type: TypeInstantMessageUpdate}
	if m.TempID == "" && m.CanonicalID == "" {
		ve.add("temp_id/canonical_id", "one is required")
	}
	ve.required("sender_id", m.SenderID)
	ve.required("content_translated", m.ContentTranslated)
	ve.required("target_lang", m.TargetLang)
	return ve.err()
}

func validateRefs(ve *ValidationError, refs []MessageRef) {
	if len(refs) == 0 {
		ve.add("messages", "required")
	}
	for _, r := range refs {
		if r.TempID == "" && r.CanonicalID == "" {
			ve.add("messages[]", "empty reference")
			return
		}
	}
}

func (r ReadReceiptV1) Validate() error {
	ve := &ValidationError{Type: TypeReadReceipt}
	validateRefs(ve, r.Messages)
	ve.required("read_by", r.ReadBy)
	if r.ReadAt.IsZero() {
		ve.add("read_at", "required")
	}
	return ve.err()
}

func (r DeliveryReceiptV1) Validate() error {
	ve := &ValidationError{Type: TypeDeliveryReceipt}
	validateRefs(ve, r.Messages)
	ve.required("delivered_to", r.DeliveredTo)
	if r.DeliveredAt.IsZero() {
		ve.add("delivered_at", "required")
	}
	return ve.err()
}

func (t TypingStartV1) Validate() error {
	ve := &ValidationError{Type: TypeTypingStart}
	ve.required("user_id", t.UserID)
	return ve.err()
}

func (t TypingStopV1) Validate() error {
	ve := &ValidationError{Type: TypeTypingStop}
	ve.required("user_id", t.UserID)
	return ve.err()
}
