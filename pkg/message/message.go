package message

import "time"

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindFile:
		return true
	}
	return false
}

// Failure names the leg of the send path that failed last.
type Failure string

const (
	FailureNone        Failure = ""
	FailureTransport   Failure = "transport"
	FailurePersistence Failure = "persistence"
)

// Message is the reconciled view of one logical chat message.
type Message struct {
	CanonicalID string `json:"canonical_id,omitempty"` // assigned by persistence
	TempID      string `json:"temp_id,omitempty"`      // client generated at creation

	ChatID      string `json:"chat_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`

	ContentOriginal   string `json:"content_original"`
	ContentTranslated string `json:"content_translated,omitempty"`
	SourceLang        string `json:"source_lang,omitempty"`
	TargetLang        string `json:"target_lang,omitempty"`
	TranslationError  string `json:"translation_error,omitempty"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`

	// IsInstant is true while the message is known only from the broadcast path.
	IsInstant bool `json:"is_instant"`

	Failure     Failure `json:"failure,omitempty"`
	Broadcasted bool    `json:"broadcasted,omitempty"`
}

// Ref addresses a message by either of its identities.
type Ref struct {
	TempID      string `json:"temp_id,omitempty"`
	CanonicalID string `json:"canonical_id,omitempty"`
}

func (r Ref) IsZero() bool { return r.TempID == "" && r.CanonicalID == "" }

func (r Ref) String() string {
	switch {
	case r.TempID != "" && r.CanonicalID != "":
		return r.TempID + "/" + r.CanonicalID
	case r.TempID != "":
		return r.TempID
	default:
		return r.CanonicalID
	}
}

func (m Message) Ref() Ref { return Ref{TempID: m.TempID, CanonicalID: m.CanonicalID} }

// AuthoredBy reports whether userID sent m.
func (m Message) AuthoredBy(userID string) bool { return userID != "" && m.SenderID == userID }

// Persisted reports whether the backing store has confirmed m.
func (m Message) Persisted() bool { return m.CanonicalID != "" }

// Equal compares by value, including the pointed-to timestamps.
func (m Message) Equal(o Message) bool {
	if !timeEqual(m.DeliveredAt, o.DeliveredAt) || !timeEqual(m.ReadAt, o.ReadAt) {
		return false
	}
	a, b := m, o
	a.DeliveredAt, a.ReadAt = nil, nil
	b.DeliveredAt, b.ReadAt = nil, nil
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	return a == b && m.CreatedAt.Equal(o.CreatedAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// earliest keeps the earlier of two optional timestamps.
func earliest(cur, in *time.Time) *time.Time {
	if in == nil {
		return cur
	}
	if cur == nil || in.Before(*cur) {
		t := *in
		return &t
	}
	return cur
}
