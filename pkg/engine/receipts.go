package engine

import (
	"context"
	"time"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	chat "github.com/roboricindustries/raycon-chatsync/pkg/schemas/chat/v1"
)

// SetViewing tells the engine whether the chat is on screen. While it is,
// peer messages are marked read on arrival; switching it on marks the
// backlog read.
func (e *Engine) SetViewing(ctx context.Context, viewing bool) error {
	return e.callCtx(ctx, func() error {
		e.viewing = viewing
		if viewing {
			e.markRead()
		}
		return nil
	})
}

// MarkRead marks every unread peer message read and receipts them.
func (e *Engine) MarkRead(ctx context.Context) error {
	return e.callCtx(ctx, func() error {
		e.markRead()
		return nil
	})
}

func (e *Engine) markRead() {
	ns, changed := e.tracker.MarkRead(e.store, e.clk.Now())
	if len(changed) == 0 {
		return
	}
	e.store = ns
	e.dirty = true
	e.queueReceipts(message.ReceiptRead, message.RefsOf(changed)...)
	for _, m := range changed {
		if m.ReadAt != nil {
			e.writeBack(m, readPatch(*m.ReadAt))
		}
	}
}

// queueReceipts buffers outgoing receipts and flushes them now, or after
// the batch window when one is configured.
func (e *Engine) queueReceipts(kind message.ReceiptKind, refs ...message.Ref) {
	if len(refs) == 0 || e.closing {
		return
	}
	if kind == message.ReceiptRead {
		e.pendingRead = append(e.pendingRead, refs...)
	} else {
		e.pendingDelivered = append(e.pendingDelivered, refs...)
	}
	if e.opts.ReceiptBatchWindow <= 0 {
		e.flushReceipts()
		return
	}
	if e.batchArmed {
		return
	}
	e.batchArmed = true
	e.batchGen++
	gen := e.batchGen
	e.after(&e.batchTimer, e.opts.ReceiptBatchWindow, func() {
		if gen != e.batchGen || e.closing {
			return
		}
		e.batchArmed = false
		e.flushReceipts()
	})
}

func (e *Engine) flushReceipts() {
	now := e.clk.Now()
	if len(e.pendingDelivered) > 0 {
		e.publish(chat.DeliveryReceiptV1{
			Messages:    wireRefs(e.pendingDelivered),
			DeliveredAt: now,
			DeliveredTo: e.cfg.LocalUserID,
		}, nil)
		e.metrics.Receipts.WithLabelValues("out", string(message.ReceiptDelivered)).Inc()
		e.pendingDelivered = nil
	}
	if len(e.pendingRead) > 0 {
		e.publish(chat.ReadReceiptV1{
			Messages: wireRefs(e.pendingRead),
			ReadAt:   now,
			ReadBy:   e.cfg.LocalUserID,
		}, nil)
		e.metrics.Receipts.WithLabelValues("out", string(message.ReceiptRead)).Inc()
		e.pendingRead = nil
	}
}

func wireRefs(refs []message.Ref) []chat.MessageRef {
	out := make([]chat.MessageRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, chat.MessageRef{TempID: r.TempID, CanonicalID: r.CanonicalID})
	}
	return out
}

func readPatch(at time.Time) message.Patch {
	return message.Patch{Status: message.StatusRead, ReadAt: &at}
}
