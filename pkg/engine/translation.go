package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
	"github.com/roboricindustries/raycon-chatsync/pkg/translate"
)

// RetryTranslation runs translation again for a message whose last attempt
// failed.
func (e *Engine) RetryTranslation(ctx context.Context, ref message.Ref) error {
	const op = "engine.RetryTranslation"
	err := e.callCtx(ctx, func() error {
		if e.enricher == nil {
			return fmt.Errorf("%w: %w", ErrNotRetryable, translate.ErrNoBackend)
		}
		m, ok := e.store.Find(ref)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		if m.TranslationError == "" {
			return fmt.Errorf("%w: %s has no failed translation", ErrNotRetryable, ref)
		}
		cleared := ""
		out := e.reconcile(message.Patch{
			TempID:           m.TempID,
			CanonicalID:      m.CanonicalID,
			TranslationError: &cleared,
		}, message.SourceLocal)
		if out.Dropped {
			return out.Err
		}
		if m.AuthoredBy(e.cfg.LocalUserID) {
			e.translateOutgoing(out.Message)
		} else {
			e.translateIncoming(out.Message)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// translateOutgoing translates one of our messages for the peer and shares
// the result on the channel.
func (e *Engine) translateOutgoing(m message.Message) {
	e.translate(m, translate.Job{
		Key:       m.TempID,
		Text:      m.ContentOriginal,
		Sender:    e.cfg.Local,
		Recipient: e.cfg.Peer,
	}, true)
}

// translateIncoming translates a peer message for the local reader. The
// result stays local.
func (e *Engine) translateIncoming(m message.Message) {
	key := m.TempID
	if key == "" {
		key = m.CanonicalID
	}
	e.translate(m, translate.Job{
		Key:       key,
		Text:      m.ContentOriginal,
		Sender:    e.cfg.Peer,
		Recipient: e.cfg.Local,
	}, false)
}

func (e *Engine) translate(m message.Message, job translate.Job, share bool) {
	if e.enricher == nil || m.Kind != message.KindText {
		return
	}
	ref := m.Ref()
	e.goIO(func() {
		res, err := e.enricher.Enrich(context.Background(), job)
		e.loop.post(func() { e.onTranslated(ref, res, err, share) })
	})
}

func (e *Engine) onTranslated(ref message.Ref, res translate.Enrichment, err error, share bool) {
	cur, ok := e.store.Find(ref)
	if !ok {
		return
	}
	p := message.Patch{TempID: cur.TempID, CanonicalID: cur.CanonicalID}
	switch {
	case err != nil:
		e.metrics.Translations.WithLabelValues("failed").Inc()
		e.log.Warn("translation failed", slog.String("ref", ref.String()), slog.Any("error", err))
		msg := fmt.Errorf("%w: %w", ErrTranslation, err).Error()
		p.TranslationError = &msg
		e.reconcile(p, message.SourceLocal)
		return
	case res.Skipped:
		e.metrics.Translations.WithLabelValues("skipped").Inc()
		return
	}

	e.metrics.Translations.WithLabelValues("translated").Inc()
	p.ContentTranslated, p.SourceLang, p.TargetLang = res.Text, res.SourceLang, res.TargetLang
	out := e.reconcile(p, message.SourceLocal)
	if out.Dropped || !share {
		return
	}
	m := out.Message
	e.publish(chat.InstantMessageUpdateV1{
		TempID:            m.TempID,
		CanonicalID:       m.CanonicalID,
		SenderID:          m.SenderID,
		ContentTranslated: m.ContentTranslated,
		SourceLang:        m.SourceLang,
		TargetLang:        m.TargetLang,
	}, nil)
	e.writeBack(m, message.Patch{
		ContentTranslated: m.ContentTranslated,
		SourceLang:        m.SourceLang,
		TargetLang:        m.TargetLang,
	})
}
