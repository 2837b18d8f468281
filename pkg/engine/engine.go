// Package engine keeps one chat between two users consistent across the
// instant broadcast path and the durable persistence path.
//
// All state is owned by a single loop goroutine. Transport deliveries, store
// notifications, I/O completions and timers are posted into its mailbox and
// applied in order; readers see immutable snapshots.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/sourcegraph/conc"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
	"github.com/roboricindustries/raycon-chatsync/pkg/pubsub"
	"github.com/roboricindustries/raycon-chatsync/pkg/receipt"
	"github.com/roboricindustries/raycon-chatsync/pkg/translate"
	"github.com/roboricindustries/raycon-chatsync/pkg/typing"
)

// Store is the durable side of a chat. Insert is idempotent per (chat, temp
// id) and returns the canonical record.
type Store interface {
	Insert(ctx context.Context, m message.Message) (message.Message, error)
	Update(ctx context.Context, canonicalID string, p message.Patch) error
	SubscribeInsert(chatID string, fn func(message.Message)) (cancel func(), err error)
	SubscribeUpdate(chatID string, fn func(message.Message)) (cancel func(), err error)
}

type Config struct {
	ChatID      string
	LocalUserID string
	PeerID      string

	Local translate.Profile
	Peer  translate.Profile

	Channel    pubsub.Channel        // nil runs offline
	Store      Store                 // required
	Translator translate.Translator  // nil disables translation
	Options    Options               // zero value means DefaultOptions
	Logger     *slog.Logger
	Clock      clock.Clock
	Metrics    *Metrics
}

// Draft is what the user submits. TempID and Kind are optional.
type Draft struct {
	Content string
	Kind    message.Kind
	TempID  string
}

// View is an immutable snapshot of the chat.
type View struct {
	Messages []message.Message
	Typers   []string
	State    pubsub.State
}

type Engine struct {
	cfg     Config
	opts    Options
	log     *slog.Logger
	clk     clock.Clock
	metrics *Metrics
	topic   string

	rec      message.Reconciler
	tracker  receipt.Tracker
	enricher *translate.Enricher

	// owned by the loop goroutine
	store     *message.Store
	coord     *typing.Coordinator
	roster    *typing.Roster
	viewing   bool
	connState pubsub.State
	opened    bool
	closing   bool
	dirty     bool

	typingGen uint64
	rosterGen uint64
	batchGen  uint64

	typingTimer *clock.Timer
	rosterTimer *clock.Timer
	batchTimer  *clock.Timer

	batchArmed       bool
	pendingRead      []message.Ref
	pendingDelivered []message.Ref

	// in-flight instant_message publishes per temp id
	broadcasting map[string]int

	unsubscribe []func()

	loop     *mailbox
	events   *mailbox
	loopDone chan struct{}
	evDone   chan struct{}
	io       *conc.WaitGroup

	// set while a listener callback runs on the events goroutine
	inListener atomic.Bool

	view atomic.Pointer[View]

	onChange listeners[View]
	onState  listeners[pubsub.State]
	onError  listeners[*SendError]
}

// New validates cfg and starts the engine loop. Call Open to start
// receiving from the channel and the store.
func New(cfg Config) (*Engine, error) {
	const op = "engine.New"

	switch {
	case cfg.ChatID == "":
		return nil, fmt.Errorf("%s: %w: chat id is required", op, ErrInvalidConfig)
	case cfg.LocalUserID == "":
		return nil, fmt.Errorf("%s: %w: local user id is required", op, ErrInvalidConfig)
	case cfg.PeerID == "":
		return nil, fmt.Errorf("%s: %w: peer id is required", op, ErrInvalidConfig)
	case cfg.PeerID == cfg.LocalUserID:
		return nil, fmt.Errorf("%s: %w: peer and local user are the same", op, ErrInvalidConfig)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%s: %w: store is required", op, ErrInvalidConfig)
	}

	opts := cfg.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Channel == nil {
		cfg.Channel = pubsub.NewFallback(cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	e := &Engine{
		cfg:     cfg,
		opts:    opts,
		log:     cfg.Logger.With(slog.String("chat_id", cfg.ChatID), slog.String("user_id", cfg.LocalUserID)),
		clk:     cfg.Clock,
		metrics: cfg.Metrics,
		topic:   opts.TopicPrefix + cfg.ChatID,

		rec:     message.Reconciler{LocalUserID: cfg.LocalUserID},
		tracker: receipt.Tracker{LocalUserID: cfg.LocalUserID},

		store:     message.NewStore(cfg.ChatID),
		coord:     typing.NewCoordinator(opts.TypingIdle, opts.TypingDebounce),
		roster:    typing.NewRoster(opts.TypingIdle),
		connState: pubsub.StateConnecting,

		loop:     newMailbox(),
		events:   newMailbox(),
		loopDone: make(chan struct{}),
		evDone:   make(chan struct{}),
		io:       conc.NewWaitGroup(),

		broadcasting: map[string]int{},
	}
	if cfg.Translator != nil {
		e.enricher = translate.NewEnricher(cfg.Translator, opts.TranslateTimeout)
	}
	e.view.Store(&View{State: e.connState})

	go func() {
		defer close(e.loopDone)
		e.loop.run(e.flushView)
	}()
	go func() {
		defer close(e.evDone)
		e.events.run(nil)
	}()
	return e, nil
}

// Open subscribes to the chat topic, the store feeds and connection state.
func (e *Engine) Open(ctx context.Context) error {
	const op = "engine.Open"
	log := e.log.With("op", op)

	var err error
	if cerr := e.call(func() {
		switch {
		case e.closing:
			err = ErrClosed
		case e.opened:
			err = fmt.Errorf("already open")
		default:
			e.opened = true
		}
	}); cerr != nil {
		return fmt.Errorf("%s: %w", op, cerr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var cancels []func()
	fail := func(err error) error {
		for _, c := range cancels {
			c()
		}
		_ = e.call(func() { e.opened = false })
		return fmt.Errorf("%s: %w", op, err)
	}

	sub, err := e.cfg.Channel.Subscribe(ctx, e.topic, e.receive)
	if err != nil {
		return fail(fmt.Errorf("%w: subscribe %s: %w", ErrTransport, e.topic, err))
	}
	cancels = append(cancels, func() { _ = sub.Unsubscribe() })

	onStore := func(m message.Message) {
		e.loop.post(func() { e.onPersisted(m) })
	}
	cancelIns, err := e.cfg.Store.SubscribeInsert(e.cfg.ChatID, onStore)
	if err != nil {
		return fail(fmt.Errorf("%w: subscribe inserts: %w", ErrPersistence, err))
	}
	cancels = append(cancels, cancelIns)
	cancelUpd, err := e.cfg.Store.SubscribeUpdate(e.cfg.ChatID, onStore)
	if err != nil {
		return fail(fmt.Errorf("%w: subscribe updates: %w", ErrPersistence, err))
	}
	cancels = append(cancels, cancelUpd)

	cancels = append(cancels, e.cfg.Channel.NotifyState(func(s pubsub.State) {
		e.loop.post(func() { e.onConnState(s) })
	}))

	var closing bool
	if cerr := e.call(func() {
		closing = e.closing
		if !closing {
			e.unsubscribe = cancels
		}
	}); cerr != nil || closing {
		for _, c := range cancels {
			c()
		}
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}

	log.Info("chat engine open", slog.String("topic", e.topic))
	return nil
}

// Close unsubscribes, stops typing and receipt timers and waits for
// in-flight I/O until ctx is done. Completions that land before then are
// still reconciled; nothing new is sent. Close is idempotent.
//
// Close may be called from a listener. It then returns without waiting for
// the listener callbacks still queued behind the caller.
func (e *Engine) Close(ctx context.Context) error {
	const op = "engine.Close"
	log := e.log.With("op", op)

	first := false
	if err := e.call(func() {
		if e.closing {
			return
		}
		first = true
		e.closing = true
		for _, c := range e.unsubscribe {
			c()
		}
		e.unsubscribe = nil

		e.typingGen++
		e.rosterGen++
		e.batchGen++
		for _, t := range []*clock.Timer{e.typingTimer, e.rosterTimer, e.batchTimer} {
			if t != nil {
				t.Stop()
			}
		}
		e.batchArmed = false
		e.coord.Reset()
		e.roster.Reset()
		e.pendingRead, e.pendingDelivered = nil, nil
		e.dirty = true
	}); err != nil || !first {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if r := e.io.WaitAndRecover(); r != nil {
			log.Error("i/o goroutine panicked", slog.Any("panic", r.Value))
		}
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("%s: %w", op, ctx.Err())
		log.Warn("closing with i/o still in flight", slog.Any("error", ctx.Err()))
	}

	e.loop.close()
	<-e.loopDone
	e.events.close()
	if !e.inListener.Load() {
		<-e.evDone
	}
	return err
}

// Messages returns the current snapshot in creation order.
func (e *Engine) Messages() []message.Message {
	return append([]message.Message(nil), e.view.Load().Messages...)
}

// Message finds one message in the current snapshot.
func (e *Engine) Message(r message.Ref) (message.Message, bool) {
	for _, m := range e.view.Load().Messages {
		if (r.TempID != "" && m.TempID == r.TempID) || (r.CanonicalID != "" && m.CanonicalID == r.CanonicalID) {
			return m, true
		}
	}
	return message.Message{}, false
}

// Typers lists remote users currently typing.
func (e *Engine) Typers() []string {
	return append([]string(nil), e.view.Load().Typers...)
}

func (e *Engine) State() pubsub.State { return e.view.Load().State }

// OnChange calls fn with every new snapshot. Callbacks run on a dedicated
// goroutine, in order, and may call back into the engine, Close included.
func (e *Engine) OnChange(fn func(View)) (cancel func()) { return e.onChange.add(fn) }

func (e *Engine) OnConnectionState(fn func(pubsub.State)) (cancel func()) {
	return e.onState.add(fn)
}

// OnSendError calls fn whenever a broadcast or persistence leg fails.
func (e *Engine) OnSendError(fn func(*SendError)) (cancel func()) { return e.onError.add(fn) }

// call runs fn on the loop and waits for it.
func (e *Engine) call(fn func()) error {
	done := make(chan struct{})
	if !e.loop.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	<-done
	return nil
}

// callCtx is call for public operations that take a context.
func (e *Engine) callCtx(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if cerr := e.call(func() {
		if e.closing {
			err = ErrClosed
			return
		}
		err = fn()
	}); cerr != nil {
		return cerr
	}
	return err
}

// goIO runs fn off the loop. It is a no-op once shutdown started.
func (e *Engine) goIO(fn func()) bool {
	if e.closing {
		return false
	}
	e.io.Go(fn)
	return true
}

// after arms *t to post fn to the loop once d elapsed on the engine clock,
// stopping whatever *t was armed with before. Callers guard fn with a
// generation counter since a stopped timer may already have fired.
func (e *Engine) after(t **clock.Timer, d time.Duration, fn func()) {
	if *t != nil {
		(*t).Stop()
	}
	if d < 0 {
		d = 0
	}
	*t = e.clk.AfterFunc(d, func() { e.loop.post(fn) })
}

func (e *Engine) reconcile(p message.Patch, src message.Source) message.Outcome {
	ns, out := e.rec.Reconcile(e.store, p, src)
	outcome := "unchanged"
	switch {
	case out.Dropped:
		outcome = "dropped"
		e.log.Debug("record dropped",
			slog.String("source", src.String()),
			slog.String("ref", p.Ref().String()),
			slog.Any("error", out.Err))
	case out.Created:
		outcome = "created"
	case out.Promoted:
		outcome = "promoted"
	case out.Changed:
		outcome = "merged"
	}
	e.metrics.Reconciliations.WithLabelValues(src.String(), outcome).Inc()
	if ns != e.store {
		e.store = ns
		e.dirty = true
	}
	return out
}

func (e *Engine) onConnState(s pubsub.State) {
	if s == e.connState {
		return
	}
	e.connState = s
	e.dirty = true
	e.log.Info("connection state changed", slog.String("state", s.String()))
	fns := e.onState.snapshot()
	e.notify(func() {
		for _, fn := range fns {
			fn(s)
		}
	})
}

func (e *Engine) emitSendError(se *SendError) {
	e.log.Warn("send failed",
		slog.String("temp_id", se.TempID),
		slog.String("failure", string(se.Failure)),
		slog.Any("error", se.Err))
	fns := e.onError.snapshot()
	e.notify(func() {
		for _, fn := range fns {
			fn(se)
		}
	})
}

// flushView publishes a new snapshot after a batch that changed state.
func (e *Engine) flushView() {
	if !e.dirty {
		return
	}
	e.dirty = false
	v := &View{
		Messages: e.store.List(),
		Typers:   e.roster.Active(e.clk.Now()),
		State:    e.connState,
	}
	e.view.Store(v)
	fns := e.onChange.snapshot()
	if len(fns) == 0 {
		return
	}
	e.notify(func() {
		for _, fn := range fns {
			fn(*v)
		}
	})
}

// notify queues listener callbacks on the events goroutine.
func (e *Engine) notify(fn func()) {
	e.events.post(func() {
		e.inListener.Store(true)
		defer e.inListener.Store(false)
		fn()
	})
}

type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = map[uint64]func(T){}
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		out = append(out, fn)
	}
	return out
}
