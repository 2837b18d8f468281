package message

import "errors"

// Source names where a record came from.
type Source int

const (
	SourceLocal Source = iota
	SourceBroadcast
	SourcePersistence
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceBroadcast:
		return "broadcast"
	case SourcePersistence:
		return "persistence"
	}
	return "unknown"
}

// Outcome describes what a reconciliation did to the store.
type Outcome struct {
	Message  Message
	Created  bool // a new slot was appended
	Promoted bool // an existing slot received its canonical id
	Changed  bool
	Dropped  bool  // the record was rejected as an anomaly
	Err      error // why it was dropped
}

// Reconciler merges records from the three sources into one message per
// logical send.
type Reconciler struct {
	LocalUserID string
}

// Reconcile folds rec into s. Matching goes canonical id, then temp id, then
// append. Anomalies (conflicting identities, updates for unknown messages)
// leave s untouched and are reported through Outcome.Dropped.
func (r Reconciler) Reconcile(s *Store, rec Patch, src Source) (*Store, Outcome) {
	self := rec.SenderID != "" && rec.SenderID == r.LocalUserID
	if !self && rec.SenderID == "" {
		// Updates may omit the sender; fall back to what the store knows.
		if m, ok := s.Find(rec.Ref()); ok {
			self = m.AuthoredBy(r.LocalUserID)
		}
	}

	switch src {
	case SourceBroadcast:
		rec.Instant = true
		rec.Persisted = false
		if self {
			// An echo of our own broadcast proves the channel accepted it
			// and says nothing else about delivery.
			if _, known := s.Find(rec.Ref()); known {
				rec.Status = ""
			} else {
				rec.Status = StatusSent
			}
			rec.Broadcasted = true
		}
	case SourcePersistence:
		rec.Instant = false
		rec.Persisted = true
		if self && !rec.Status.AtLeast(StatusDelivered) {
			rec.Status = StatusDelivered
		}
	}

	prev, known := s.Find(Ref{TempID: rec.TempID})
	if !known {
		prev, known = s.FindByCanonicalID(rec.CanonicalID)
	}

	promote := known && prev.CanonicalID == "" && rec.CanonicalID != "" && rec.TempID != ""
	base := s
	if promote {
		ps, _, err := s.Promote(rec.TempID, rec.CanonicalID)
		if err != nil {
			return s, Outcome{Dropped: true, Err: err}
		}
		base = ps
	}
	ns, m, err := base.Upsert(rec, MatchAny)
	if err != nil {
		return s, Outcome{Dropped: true, Err: err}
	}
	return ns, Outcome{
		Message:  m,
		Created:  !known,
		Promoted: promote,
		Changed:  ns != s,
	}
}

// IsAnomaly reports whether err is one of the identity anomalies the
// reconciler drops silently.
func IsAnomaly(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoID)
}
