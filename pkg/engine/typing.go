package engine

import (
	"log/slog"

	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
	"github.com/roboricindustries/raycon-chatsync/pkg/typing"
)

// InputChanged reports an edit of the local composer. It may broadcast a
// typing start or stop; a session left idle is closed by a timer.
func (e *Engine) InputChanged(prev, next string) {
	e.loop.post(func() {
		if e.closing {
			return
		}
		e.typingSignal(e.coord.Input(prev, next, e.clk.Now()))
		if e.coord.Active() {
			e.armTyping()
		}
	})
}

func (e *Engine) typingSignal(sig typing.Signal) {
	var ev chat.Event
	now := e.clk.Now()
	switch sig {
	case typing.SignalStart:
		ev = chat.TypingStartV1{UserID: e.cfg.LocalUserID, At: now}
	case typing.SignalStop:
		e.typingGen++
		if e.typingTimer != nil {
			e.typingTimer.Stop()
		}
		ev = chat.TypingStopV1{UserID: e.cfg.LocalUserID, At: now}
	default:
		return
	}
	e.metrics.Typing.WithLabelValues("out", sig.String()).Inc()
	e.publish(ev, nil)
}

// armTyping schedules the idle check for the current session. Any later
// input re-arms it and invalidates the earlier timer.
func (e *Engine) armTyping() {
	deadline, ok := e.coord.Deadline()
	if !ok {
		return
	}
	e.typingGen++
	gen := e.typingGen
	e.after(&e.typingTimer, deadline.Sub(e.clk.Now()), func() {
		if gen != e.typingGen || e.closing {
			return
		}
		sig := e.coord.Expire(e.clk.Now())
		if sig == typing.SignalStop {
			e.log.Debug("typing session expired")
		}
		e.typingSignal(sig)
		if e.coord.Active() {
			e.armTyping()
		}
	})
}

func (e *Engine) onTypingStart(user string) {
	if user == "" || user == e.cfg.LocalUserID {
		return
	}
	e.metrics.Typing.WithLabelValues("in", typing.SignalStart.String()).Inc()
	if e.roster.Start(user, e.clk.Now()) {
		e.log.Debug("peer started typing", slog.String("peer", user))
	}
	e.dirty = true
	e.armRoster()
}

func (e *Engine) onTypingStop(user string) {
	e.metrics.Typing.WithLabelValues("in", typing.SignalStop.String()).Inc()
	if e.roster.Stop(user) {
		e.dirty = true
	}
}

// armRoster schedules a sweep for the earliest typer expiry, so a lost
// stop cannot leave a peer shown as typing.
func (e *Engine) armRoster() {
	next, ok := e.roster.NextExpiry()
	if !ok {
		return
	}
	e.rosterGen++
	gen := e.rosterGen
	e.after(&e.rosterTimer, next.Sub(e.clk.Now()), func() {
		if gen != e.rosterGen || e.closing {
			return
		}
		if gone := e.roster.Sweep(e.clk.Now()); len(gone) > 0 {
			e.log.Debug("typing expired", slog.Any("peers", gone))
			e.dirty = true
		}
		e.armRoster()
	})
}
