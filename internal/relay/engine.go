// ABOUTME: Relay protocol engine: correlation table, inbound frame handling, sweep loops.
// ABOUTME: Decides live delivery vs. durable-store fallback for outgoing requests.

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/hub-relay/internal/peer"
	"github.com/2389/hub-relay/internal/store"
	"github.com/2389/hub-relay/internal/wire"
)

// Engine errors. Callers never see raw transport or decode errors; these
// cover malformed input only.
var (
	// ErrUnknownPeer indicates an identity absent from the configured peer table.
	ErrUnknownPeer = errors.New("unknown peer identity")

	// ErrNotConnected indicates the peer has no live connection and the
	// request kind cannot be queued (fire class).
	ErrNotConnected = errors.New("peer not connected")

	// ErrBadKind indicates a kind not valid for the attempted operation.
	ErrBadKind = errors.New("kind not valid for this operation")

	// ErrDeliveryFailed indicates the live transport write failed.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Knower reports whether an identity appears in the configured peer table.
// Implemented by peer.Authenticator.
type Knower interface {
	Known(id peer.Identity) bool
}

// EventHandler consumes an inbound non-reply envelope from a peer. Handlers
// must be idempotent per correlation key: redelivery can present the same
// logical message twice when a reply is lost in transit.
type EventHandler func(from peer.Identity, env *wire.Envelope)

// Options carries the protocol timings. Zero values take the defaults.
type Options struct {
	// RequestTimeout ages out correlation entries (default 20s).
	RequestTimeout time.Duration

	// TimeoutSweepInterval is the cadence of the timeout sweep (default 20s).
	TimeoutSweepInterval time.Duration

	// RedeliveryInterval is the cadence of the redelivery sweep and the
	// minimum age of records it resends (default 20s).
	RedeliveryInterval time.Duration

	// PendingMaxAge bounds how long a pending record is retried before
	// being dropped. Zero means retry forever.
	PendingMaxAge time.Duration
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 20 * time.Second
	}
	if o.TimeoutSweepInterval <= 0 {
		o.TimeoutSweepInterval = 20 * time.Second
	}
	if o.RedeliveryInterval <= 0 {
		o.RedeliveryInterval = 20 * time.Second
	}
	return o
}

// call is one in-flight correlation entry. After a durable-class timeout the
// entry is demoted: the envelope moves to the pending store while the entry
// stays only to carry the continuation of a still-blocked caller.
type call struct {
	key      string
	target   peer.Identity
	kind     wire.Kind
	added    time.Time
	envelope *wire.Envelope
	durable  bool
	demoted  bool

	// abandoned is set, under the engine mutex, when the blocked caller
	// gave up; the entry no longer needs to survive demotion.
	abandoned bool

	// result receives the reply payload; nil when no caller is blocked.
	result      chan any
	resolveOnce sync.Once
}

// resolve delivers v to the blocked caller, if any. Resolving twice is a
// safe no-op.
func (c *call) resolve(v any) {
	c.resolveOnce.Do(func() {
		if c.result != nil {
			c.result <- v
		}
	})
}

// Engine drives the relay protocol: it correlates requests with replies,
// demotes timed-out durable requests into the pending store, and redelivers
// stored envelopes once their target reconnects. It is also the public
// facade external collaborators use (see facade.go).
type Engine struct {
	registry *peer.Registry
	store    store.Store
	peers    Knower
	opts     Options
	logger   *slog.Logger

	mu    sync.Mutex
	calls map[string]*call

	handlerMu sync.RWMutex
	handlers  map[wire.Kind]EventHandler
}

// NewEngine creates an Engine over the given registry, pending store, and
// peer table. Pass nil logger for default.
func NewEngine(registry *peer.Registry, st store.Store, peers Knower, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		store:    st,
		peers:    peers,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "relay"),
		calls:    make(map[string]*call),
		handlers: make(map[wire.Kind]EventHandler),
	}
}

// Run drives the timeout and redelivery sweeps until ctx is cancelled. The
// two loops are independent so a slow store pass cannot starve timeout
// handling.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.TimeoutSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SweepTimeouts(time.Now())
			}
		}
	}()

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.RedeliveryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.SweepRedelivery(ctx, time.Now())
			}
		}
	}()

	wg.Wait()
}

// startCall writes a fresh correlated envelope to conn and registers the
// correlation entry. No entry is created when the write fails.
func (e *Engine) startCall(target peer.Identity, conn peer.Conn, kind wire.Kind, data any, subKind string, result chan any) (*call, bool) {
	key := wire.NewKey()
	env := &wire.Envelope{
		Type: kind,
		Key:  key,
		Data: wire.Payload{EventData: data, EventType: subKind},
	}

	c := &call{
		key:      key,
		target:   target,
		kind:     kind,
		added:    time.Now(),
		envelope: env,
		durable:  kind.Durable(),
		result:   result,
	}

	// Register before the write: the peer's read loop runs on its own
	// goroutine and can deliver the reply before WriteEnvelope returns.
	e.mu.Lock()
	e.calls[key] = c
	e.mu.Unlock()

	if err := conn.WriteEnvelope(env); err != nil {
		e.logger.Warn("failed to send to peer", "peer", target, "kind", kind, "error", err)
		e.mu.Lock()
		delete(e.calls, key)
		e.mu.Unlock()
		return nil, false
	}

	return c, true
}

// queueDurable writes a pending record for a durable-class request issued
// while the target is offline. No live-send attempt is made.
func (e *Engine) queueDurable(ctx context.Context, target peer.Identity, kind wire.Kind, data any, subKind string) bool {
	key := wire.NewKey()
	now := time.Now()
	msg := &store.PendingMessage{
		Key:     key,
		FromWho: target,
		Envelope: wire.Envelope{
			Type: kind,
			Key:  key,
			Data: wire.Payload{EventData: data, EventType: subKind},
		},
		CreatedAt: now,
		LastTried: now,
	}

	if err := e.store.Put(ctx, msg); err != nil {
		e.logger.Error("failed to queue pending message", "peer", target, "key", key, "error", err)
		return false
	}

	e.logger.Info("queued message for offline peer", "peer", target, "key", key, "kind", kind)
	return true
}

// HandleFrame processes one raw inbound frame from a peer. Malformed frames
// are dropped silently. Replies resolve their correlation entry and clean up
// any pending record sharing the key; everything else is dispatched to the
// registered handler for its kind.
func (e *Engine) HandleFrame(from peer.Identity, raw []byte) {
	env, err := wire.Decode(raw)
	if err != nil {
		e.logger.Debug("dropping malformed frame", "peer", from, "error", err)
		return
	}

	if env.Type.IsReply() {
		e.handleReply(from, env)
		return
	}

	e.dispatch(from, env)
}

func (e *Engine) handleReply(from peer.Identity, env *wire.Envelope) {
	if env.Key == "" {
		return
	}

	e.mu.Lock()
	c, ok := e.calls[env.Key]
	if ok {
		delete(e.calls, env.Key)
	}
	e.mu.Unlock()

	if ok {
		c.resolve(env.Data.EventData)
		e.logger.Debug("resolved reply", "peer", from, "key", env.Key)
	}

	// The original call may already have been demoted to the pending
	// store before this reply arrived; delete unconditionally.
	if err := e.store.Delete(context.Background(), env.Key); err != nil {
		e.logger.Warn("failed to delete pending message", "key", env.Key, "error", err)
	}
}

func (e *Engine) dispatch(from peer.Identity, env *wire.Envelope) {
	e.handlerMu.RLock()
	h := e.handlers[env.Type]
	e.handlerMu.RUnlock()

	if h == nil {
		e.logger.Debug("no handler for inbound event", "peer", from, "kind", env.Type)
		return
	}
	h(from, env)
}

// SweepTimeouts ages out correlation entries older than the request timeout.
// Fire-class entries resolve their caller with nil; durable-class entries
// are demoted into the pending store for the redelivery sweep to pick up.
// Exported so tests can drive ticks directly.
func (e *Engine) SweepTimeouts(now time.Time) {
	e.mu.Lock()
	var expired []*call
	for key, c := range e.calls {
		if c.demoted {
			continue
		}
		if now.Sub(c.added) > e.opts.RequestTimeout {
			if c.durable && c.result != nil && !c.abandoned {
				// Keep the entry so a post-redelivery reply can still
				// reach the blocked caller.
				c.demoted = true
			} else {
				delete(e.calls, key)
			}
			expired = append(expired, c)
		}
	}
	e.mu.Unlock()

	for _, c := range expired {
		if c.durable {
			msg := &store.PendingMessage{
				Key:       c.key,
				FromWho:   c.target,
				Envelope:  *c.envelope,
				CreatedAt: c.added,
				LastTried: now,
			}
			if err := e.store.Put(context.Background(), msg); err != nil {
				e.logger.Error("failed to demote timed-out call", "key", c.key, "error", err)
			} else {
				e.logger.Info("request timed out, demoted to pending store",
					"peer", c.target, "key", c.key)
			}
		} else {
			c.resolve(nil)
			e.logger.Debug("request timed out", "peer", c.target, "key", c.key, "kind", c.kind)
		}
	}
}

// SweepRedelivery resends due pending records to peers that are connected
// again, refreshing their last-attempt timestamps. Records stay until a
// matching reply deletes them; records older than PendingMaxAge are dropped.
// Each resend runs in its own goroutine so one slow peer does not stall the
// pass for unrelated peers. Exported so tests can drive ticks directly.
func (e *Engine) SweepRedelivery(ctx context.Context, now time.Time) {
	due, err := e.store.ListDue(ctx, now.Add(-e.opts.RedeliveryInterval))
	if err != nil {
		e.logger.Error("failed to list pending messages", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, msg := range due {
		if e.opts.PendingMaxAge > 0 && now.Sub(msg.CreatedAt) > e.opts.PendingMaxAge {
			e.logger.Warn("dropping pending message past max age",
				"peer", msg.FromWho, "key", msg.Key, "created_at", msg.CreatedAt)
			if err := e.store.Delete(ctx, msg.Key); err != nil {
				e.logger.Warn("failed to delete expired pending message", "key", msg.Key, "error", err)
			}
			e.abandonCall(msg.Key)
			continue
		}

		rec, ok := e.registry.Get(msg.FromWho)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(msg *store.PendingMessage, conn peer.Conn) {
			defer wg.Done()

			env := msg.Envelope
			env.Key = msg.Key
			if err := conn.WriteEnvelope(&env); err != nil {
				e.logger.Warn("redelivery failed", "peer", msg.FromWho, "key", msg.Key, "error", err)
				return
			}
			if err := e.store.Touch(ctx, msg.Key, now); err != nil {
				e.logger.Warn("failed to refresh pending message", "key", msg.Key, "error", err)
			}
			e.logger.Debug("redelivered pending message", "peer", msg.FromWho, "key", msg.Key)
		}(msg, rec.Conn)
	}
	wg.Wait()
}

// releaseCall detaches a cancelled caller from its correlation entry. A
// demoted entry exists only to carry the continuation, so it is dropped
// outright; a live entry stays for the timeout sweep to demote or discard,
// marked so demotion does not keep it around afterwards.
func (e *Engine) releaseCall(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.calls[key]
	if !ok {
		return
	}
	if c.demoted {
		delete(e.calls, key)
		return
	}
	c.abandoned = true
}

// abandonCall resolves a demoted entry with nil and forgets it.
func (e *Engine) abandonCall(key string) {
	e.mu.Lock()
	c, ok := e.calls[key]
	if ok {
		delete(e.calls, key)
	}
	e.mu.Unlock()

	if ok {
		c.resolve(nil)
	}
}

// pendingCalls returns the number of live correlation entries. Test helper.
func (e *Engine) pendingCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
