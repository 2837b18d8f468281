package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
	"github.com/roboricindustries/raycon-chatsync/pkg/schemas/common"
)

// receive is the channel handler. It decodes off the loop and drops poison
// payloads without disturbing the session.
func (e *Engine) receive(_ context.Context, payload []byte) {
	meta, ev, err := chat.Decode(payload)
	if err != nil {
		e.metrics.Poison.Inc()
		e.log.Warn("dropping undecodable event",
			slog.String("type", meta.Type),
			slog.Int("size", len(payload)),
			slog.Any("error", err))
		return
	}
	e.loop.post(func() { e.onEvent(meta, ev) })
}

func (e *Engine) onEvent(meta common.Meta, ev chat.Event) {
	if e.closing || meta.ProducerID() == e.cfg.LocalUserID {
		return
	}
	switch ev := ev.(type) {
	case chat.InstantMessageV1:
		e.onInstantMessage(ev)
	case chat.InstantMessageUpdateV1:
		e.onInstantUpdate(ev)
	case chat.ReadReceiptV1:
		e.onReceipt(ev.Messages, message.ReceiptRead, ev.ReadBy, ev.ReadAt)
	case chat.DeliveryReceiptV1:
		e.onReceipt(ev.Messages, message.ReceiptDelivered, ev.DeliveredTo, ev.DeliveredAt)
	case chat.TypingStartV1:
		e.onTypingStart(ev.UserID)
	case chat.TypingStopV1:
		e.onTypingStop(ev.UserID)
	}
}

func (e *Engine) onInstantMessage(ev chat.InstantMessageV1) {
	if ev.ChatID != e.cfg.ChatID || ev.SenderID == e.cfg.LocalUserID {
		return
	}
	out := e.reconcile(message.Patch{
		TempID:          ev.TempID,
		ChatID:          ev.ChatID,
		SenderID:        ev.SenderID,
		RecipientID:     ev.RecipientID,
		ContentOriginal: ev.ContentOriginal,
		Kind:            message.Kind(ev.Kind),
		CreatedAt:       ev.CreatedAt,
	}, message.SourceBroadcast)
	if out.Created {
		e.arrived(out.Message)
	}
}

func (e *Engine) onInstantUpdate(ev chat.InstantMessageUpdateV1) {
	if ev.SenderID == e.cfg.LocalUserID {
		return
	}
	e.reconcile(message.Patch{
		TempID:            ev.TempID,
		CanonicalID:       ev.CanonicalID,
		SenderID:          ev.SenderID,
		ContentTranslated: ev.ContentTranslated,
		SourceLang:        ev.SourceLang,
		TargetLang:        ev.TargetLang,
	}, message.SourceBroadcast)
}

func (e *Engine) onReceipt(refs []chat.MessageRef, kind message.ReceiptKind, actor string, at time.Time) {
	r := message.Receipt{Kind: kind, ActorID: actor, At: at}
	for _, ref := range refs {
		r.Refs = append(r.Refs, message.Ref{TempID: ref.TempID, CanonicalID: ref.CanonicalID})
	}
	ns, res := e.tracker.Apply(e.store, r)
	if res.Ignored {
		return
	}
	e.metrics.Receipts.WithLabelValues("in", string(kind)).Inc()
	if ns != e.store {
		e.store = ns
		e.dirty = true
	}
	if len(res.Unmatched) > 0 {
		e.log.Debug("receipt for unknown messages", slog.String("kind", string(kind)), slog.Int("refs", len(res.Unmatched)))
	}
}

// onPersisted handles a canonical record from the store feeds. Own messages
// are confirmed; peer messages are reconciled and, the first time they are
// seen, receipted.
func (e *Engine) onPersisted(rec message.Message) {
	if rec.ChatID != e.cfg.ChatID {
		return
	}
	if rec.AuthoredBy(e.cfg.LocalUserID) {
		if _, known := e.store.Find(rec.Ref()); known {
			e.confirmPersisted(rec)
			return
		}
	}
	out := e.reconcile(message.PatchFrom(rec), message.SourcePersistence)
	switch {
	case out.Dropped:
	case out.Created && !rec.AuthoredBy(e.cfg.LocalUserID):
		e.arrived(out.Message)
	case out.Promoted && out.Message.ReadAt != nil && rec.ReadAt == nil:
		e.writeBack(out.Message, readPatch(*out.Message.ReadAt))
	}
}

// arrived runs once per peer message, on whichever path saw it first.
func (e *Engine) arrived(m message.Message) {
	ns, changed := e.tracker.MarkDelivered(e.store, []message.Ref{m.Ref()}, e.clk.Now())
	if len(changed) > 0 {
		e.store, e.dirty = ns, true
		m = changed[0]
	}
	if e.viewing {
		e.markRead()
	} else {
		e.queueReceipts(message.ReceiptDelivered, m.Ref())
	}

	if e.roster.Stop(m.SenderID) {
		e.dirty = true
	}
	if e.opts.TranslateIncoming {
		e.translateIncoming(m)
	}
}
