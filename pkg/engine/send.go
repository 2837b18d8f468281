package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
)

// Send shows the draft optimistically, then broadcasts and persists it
// concurrently. The returned message is the optimistic one; later progress
// is visible through the snapshot.
func (e *Engine) Send(ctx context.Context, d Draft) (message.Message, error) {
	const op = "engine.Send"

	if d.Kind == "" {
		d.Kind = message.KindText
	}
	if !d.Kind.Valid() {
		return message.Message{}, fmt.Errorf("%s: unknown kind %q", op, d.Kind)
	}
	if d.Kind == message.KindText && strings.TrimSpace(d.Content) == "" {
		return message.Message{}, fmt.Errorf("%s: %w", op, ErrEmptyMessage)
	}
	if d.TempID == "" {
		d.TempID = uuid.NewString()
	}

	var out message.Message
	err := e.callCtx(ctx, func() error {
		if _, ok := e.store.FindByTempID(d.TempID); ok {
			return fmt.Errorf("%w: temp id %s", message.ErrDuplicate, d.TempID)
		}
		now := e.clk.Now()
		res := e.reconcile(message.Patch{
			TempID:          d.TempID,
			ChatID:          e.cfg.ChatID,
			SenderID:        e.cfg.LocalUserID,
			RecipientID:     e.cfg.PeerID,
			ContentOriginal: d.Content,
			Kind:            d.Kind,
			CreatedAt:       now,
			Status:          message.StatusSending,
		}, message.SourceLocal)
		if res.Dropped {
			return res.Err
		}
		out = res.Message

		e.typingSignal(e.coord.Submit(now))
		e.dispatch(out, true)
		e.translateOutgoing(out)
		return nil
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Retry re-sends a failed message under its original temp id. The broadcast
// is repeated only when it failed or was never started; otherwise the message
// is only persisted again.
func (e *Engine) Retry(ctx context.Context, ref message.Ref) (message.Message, error) {
	const op = "engine.Retry"

	var out message.Message
	err := e.callCtx(ctx, func() error {
		m, ok := e.store.Find(ref)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		if !m.AuthoredBy(e.cfg.LocalUserID) {
			return fmt.Errorf("%w: %s was not sent by %s", ErrNotRetryable, ref, e.cfg.LocalUserID)
		}
		if m.Status != message.StatusFailed && m.Failure != message.FailurePersistence {
			return fmt.Errorf("%w: %s is %s", ErrNotRetryable, ref, m.Status)
		}
		rebroadcast := m.Failure == message.FailureTransport ||
			(!m.Broadcasted && e.broadcasting[m.TempID] == 0)

		none := message.FailureNone
		res := e.reconcile(message.Patch{
			TempID:      m.TempID,
			CanonicalID: m.CanonicalID,
			Retry:       true,
			Failure:     &none,
		}, message.SourceLocal)
		if res.Dropped {
			return res.Err
		}
		out = res.Message
		e.metrics.Sends.WithLabelValues("retried").Inc()
		e.log.Info("retrying send",
			slog.String("temp_id", m.TempID),
			slog.Bool("rebroadcast", rebroadcast))
		e.dispatch(out, rebroadcast)
		return nil
	})
	if err != nil {
		return message.Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// dispatch starts the broadcast (optionally) and persistence legs for m.
// Insert is idempotent, so persisting an already stored message only
// confirms it again.
func (e *Engine) dispatch(m message.Message, broadcast bool) {
	tempID := m.TempID
	if broadcast {
		e.broadcasting[tempID]++
		e.publish(chat.InstantMessageV1{
			TempID:          m.TempID,
			ChatID:          m.ChatID,
			SenderID:        m.SenderID,
			RecipientID:     m.RecipientID,
			ContentOriginal: m.ContentOriginal,
			Kind:            string(m.Kind),
			CreatedAt:       m.CreatedAt,
		}, func(err error) { e.onBroadcastDone(tempID, err) })
	}

	rec := m
	e.goIO(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
		defer cancel()
		saved, err := e.cfg.Store.Insert(ctx, rec)
		e.loop.post(func() { e.onPersistDone(tempID, saved, err) })
	})
}

func (e *Engine) onBroadcastDone(tempID string, err error) {
	if n := e.broadcasting[tempID]; n > 1 {
		e.broadcasting[tempID] = n - 1
	} else {
		delete(e.broadcasting, tempID)
	}
	cur, ok := e.store.FindByTempID(tempID)
	if !ok {
		return
	}
	if err == nil {
		e.metrics.Sends.WithLabelValues("broadcast").Inc()
		e.reconcile(message.Patch{
			TempID:      tempID,
			Status:      message.StatusSent,
			Broadcasted: true,
		}, message.SourceLocal)
		return
	}

	e.metrics.Sends.WithLabelValues("failed_transport").Inc()
	if cur.Persisted() {
		// the peer gets it from the store
		e.log.Debug("broadcast failed after persistence",
			slog.String("temp_id", tempID), slog.Any("error", err))
		return
	}
	f := message.FailureTransport
	p := message.Patch{TempID: tempID, Failure: &f}
	if message.CanTransition(cur.Status, message.StatusFailed) {
		p.Status = message.StatusFailed
	}
	e.reconcile(p, message.SourceLocal)
	e.emitSendError(&SendError{
		TempID:  tempID,
		Failure: f,
		Err:     fmt.Errorf("%w: %w", ErrTransport, err),
	})
}

func (e *Engine) onPersistDone(tempID string, saved message.Message, err error) {
	cur, ok := e.store.FindByTempID(tempID)
	if !ok {
		return
	}
	if err != nil {
		e.metrics.Sends.WithLabelValues("failed_persistence").Inc()
		f := message.FailurePersistence
		p := message.Patch{TempID: tempID, Failure: &f}
		if message.CanTransition(cur.Status, message.StatusFailed) {
			p.Status = message.StatusFailed
		}
		e.reconcile(p, message.SourceLocal)
		e.emitSendError(&SendError{
			TempID:  tempID,
			Failure: f,
			Err:     fmt.Errorf("%w: %w", ErrPersistence, err),
		})
		return
	}
	if saved.TempID == "" {
		saved.TempID = tempID
	}
	e.metrics.Sends.WithLabelValues("persisted").Inc()
	e.confirmPersisted(saved)
}

// confirmPersisted folds the canonical record of one of our own messages
// into the store. A persistence failure recorded earlier is cleared since
// the record proves the write landed.
func (e *Engine) confirmPersisted(rec message.Message) {
	p := message.PatchFrom(rec)
	// The record knows nothing about the broadcast leg.
	p.Failure = nil
	cur, known := e.store.Find(rec.Ref())
	if known && cur.Failure == message.FailurePersistence {
		none := message.FailureNone
		p.Failure = &none
		if cur.Status == message.StatusFailed {
			p.Retry = true
		}
	}
	out := e.reconcile(p, message.SourcePersistence)
	if out.Dropped {
		return
	}
	m := out.Message
	if m.ContentTranslated != "" && rec.ContentTranslated == "" {
		e.writeBack(m, message.Patch{
			ContentTranslated: m.ContentTranslated,
			SourceLang:        m.SourceLang,
			TargetLang:        m.TargetLang,
		})
	}
}

// publish encodes ev and sends it off the loop. done, when set, receives
// the publish result back on the loop.
func (e *Engine) publish(ev chat.Event, done func(error)) {
	b, err := chat.Encode(ev, e.cfg.LocalUserID, e.clk.Now())
	if err != nil {
		e.log.Error("encode event", slog.String("type", string(ev.EventType())), slog.Any("error", err))
		if done != nil {
			done(err)
		}
		return
	}
	e.goIO(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
		defer cancel()
		err := e.cfg.Channel.Publish(ctx, e.topic, b)
		if err != nil && done == nil {
			e.log.Debug("publish failed", slog.String("type", string(ev.EventType())), slog.Any("error", err))
		}
		if done != nil {
			e.loop.post(func() { done(err) })
		}
	})
}

// writeBack sends p to the store once m has a canonical id.
func (e *Engine) writeBack(m message.Message, p message.Patch) {
	if m.CanonicalID == "" {
		return
	}
	id := m.CanonicalID
	e.goIO(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PersistTimeout)
		defer cancel()
		if err := e.cfg.Store.Update(ctx, id, p); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn("store write-back failed", slog.String("canonical_id", id), slog.Any("error", err))
		}
	})
}
