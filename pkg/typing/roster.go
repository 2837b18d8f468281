package typing

import (
	"slices"
	"time"
)

// Roster holds remote users that are currently typing. A user that sends no
// heartbeat for the idle window is dropped, so a lost stop cannot leave a
// typer stuck.
type Roster struct {
	idle time.Duration
	seen map[string]time.Time
}

func NewRoster(idle time.Duration) *Roster {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Roster{idle: idle, seen: map[string]time.Time{}}
}

// Start records activity from user and reports whether it is a new typer.
func (r *Roster) Start(user string, now time.Time) bool {
	last, had := r.seen[user]
	if !had || now.After(last) {
		r.seen[user] = now
	}
	return !had
}

// Stop removes user and reports whether it was typing.
func (r *Roster) Stop(user string) bool {
	_, had := r.seen[user]
	delete(r.seen, user)
	return had
}

// Sweep removes expired typers and returns them sorted.
func (r *Roster) Sweep(now time.Time) []string {
	var gone []string
	for u, last := range r.seen {
		if !now.Before(last.Add(r.idle)) {
			gone = append(gone, u)
			delete(r.seen, u)
		}
	}
	slices.Sort(gone)
	return gone
}

// Active lists typers that have not expired at now.
func (r *Roster) Active(now time.Time) []string {
	out := make([]string, 0, len(r.seen))
	for u, last := range r.seen {
		if now.Before(last.Add(r.idle)) {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

// NextExpiry is the earliest time Sweep will drop someone.
func (r *Roster) NextExpiry() (time.Time, bool) {
	var next time.Time
	for _, last := range r.seen {
		if exp := last.Add(r.idle); next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	return next, !next.IsZero()
}

func (r *Roster) Len() int { return len(r.seen) }

func (r *Roster) Reset() { clear(r.seen) }
