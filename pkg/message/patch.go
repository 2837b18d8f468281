package message

import "time"

// Patch is a partial message. Zero values mean "absent"; pointer fields
// distinguish an explicit reset from absence.
type Patch struct {
	TempID      string
	CanonicalID string

	ChatID          string
	SenderID        string
	RecipientID     string
	ContentOriginal string
	Kind            Kind
	CreatedAt       time.Time

	Status Status
	Retry  bool

	DeliveredAt *time.Time
	ReadAt      *time.Time

	Instant   bool // only meaningful when the patch creates a message
	Persisted bool

	ContentTranslated string
	SourceLang        string
	TargetLang        string
	TranslationError  *string

	Failure     *Failure
	Broadcasted bool
}

func (p Patch) Ref() Ref { return Ref{TempID: p.TempID, CanonicalID: p.CanonicalID} }

// creates reports whether p carries enough to build a new message.
func (p Patch) creates() bool {
	return p.SenderID != "" && (p.ContentOriginal != "" || p.Kind != "")
}

// PatchFrom turns a full record into a patch that merges all of its fields.
func PatchFrom(m Message) Patch {
	p := Patch{
		TempID:            m.TempID,
		CanonicalID:       m.CanonicalID,
		ChatID:            m.ChatID,
		SenderID:          m.SenderID,
		RecipientID:       m.RecipientID,
		ContentOriginal:   m.ContentOriginal,
		Kind:              m.Kind,
		CreatedAt:         m.CreatedAt,
		Status:            m.Status,
		DeliveredAt:       m.DeliveredAt,
		ReadAt:            m.ReadAt,
		Instant:           m.IsInstant,
		Persisted:         m.CanonicalID != "",
		ContentTranslated: m.ContentTranslated,
		SourceLang:        m.SourceLang,
		TargetLang:        m.TargetLang,
		Broadcasted:       m.Broadcasted,
	}
	if m.TranslationError != "" {
		e := m.TranslationError
		p.TranslationError = &e
	}
	if m.Failure != FailureNone {
		f := m.Failure
		p.Failure = &f
	}
	return p
}

// New builds a message from a creating patch.
func New(p Patch) Message {
	m := Message{
		TempID:      p.TempID,
		CanonicalID: p.CanonicalID,
		ChatID:      p.ChatID,
		SenderID:    p.SenderID,
		RecipientID: p.RecipientID,
		Kind:        p.Kind,
		CreatedAt:   p.CreatedAt,
		IsInstant:   p.Instant && p.CanonicalID == "" && !p.Persisted,
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	m.ContentOriginal = p.ContentOriginal
	if p.Status == "" {
		m.Status = StatusSending
	}
	return m.Apply(p)
}

// Apply merges p into m. It is idempotent and, apart from the failed side
// state, independent of the order in which patches arrive.
func (m Message) Apply(p Patch) Message {
	if m.TempID == "" {
		m.TempID = p.TempID
	}
	if m.CanonicalID == "" {
		m.CanonicalID = p.CanonicalID
	}
	if m.ChatID == "" {
		m.ChatID = p.ChatID
	}
	if m.SenderID == "" {
		m.SenderID = p.SenderID
	}
	if m.RecipientID == "" {
		m.RecipientID = p.RecipientID
	}
	if m.ContentOriginal == "" {
		m.ContentOriginal = p.ContentOriginal
	}
	if m.Kind == "" {
		m.Kind = p.Kind
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = p.CreatedAt
	}

	m.DeliveredAt = earliest(m.DeliveredAt, p.DeliveredAt)
	m.ReadAt = earliest(m.ReadAt, p.ReadAt)

	if p.Retry {
		m.Status, _ = Retry(m.Status)
	}
	if p.Status != "" {
		m.Status = Advance(m.Status, p.Status)
	}
	// A confirmation that lands after the peer already read the message
	// must not show it as merely delivered.
	if m.Status == StatusDelivered && m.ReadAt != nil {
		m.Status = StatusRead
	}

	if p.Persisted || m.CanonicalID != "" {
		m.IsInstant = false
	}
	if p.Broadcasted {
		m.Broadcasted = true
	}
	if p.Failure != nil {
		m.Failure = *p.Failure
	}

	if p.ContentTranslated != "" {
		m.ContentTranslated = p.ContentTranslated
		m.SourceLang = p.SourceLang
		m.TargetLang = p.TargetLang
		m.TranslationError = ""
	}
	if p.TranslationError != nil {
		m.TranslationError = *p.TranslationError
	}
	return m
}
