// ABOUTME: Public facade of the relay engine: send, broadcast, evaluate, peer listing.
// ABOUTME: The only surface external collaborators (commands, HTTP routes) touch.

package relay

import (
	"context"

	"github.com/2389/hub-relay/internal/peer"
	"github.com/2389/hub-relay/internal/wire"
)

// closeNormal is the websocket normal-closure code used by Disconnect.
const closeNormal = 1000

// Send issues a non-blocking send to target. The returned bool reports
// whether the message was accepted: delivered live, or durably queued for a
// disconnected peer. Behavior by kind:
//
//   - fire-and-forget kinds (send, broadcast, reply): written to the live
//     socket; a disconnected peer is a non-fatal failure (false, nil).
//   - requireReply: against a connected peer, writes a correlated envelope
//     and registers the correlation entry; against a disconnected peer, the
//     envelope is queued to the pending store immediately.
//   - eval: correlated write when connected; never queued.
//
// Errors are returned for malformed input only (unknown peer, kind not
// valid for sending). Transport failures are logged and reported as
// (false, nil).
func (e *Engine) Send(target peer.Identity, kind wire.Kind, data any, subKind string) (bool, error) {
	if !e.peers.Known(target) {
		return false, ErrUnknownPeer
	}
	if kind == wire.KindAuth || !kind.Valid() {
		return false, ErrBadKind
	}

	rec, connected := e.registry.Get(target)

	if !kind.NeedsReply() {
		if !connected {
			e.logger.Info("peer not connected", "peer", target, "kind", kind)
			return false, nil
		}
		env := &wire.Envelope{
			Type: kind,
			Data: wire.Payload{EventData: data, EventType: subKind},
		}
		if err := rec.Conn.WriteEnvelope(env); err != nil {
			e.logger.Warn("failed to send to peer", "peer", target, "kind", kind, "error", err)
			return false, nil
		}
		return true, nil
	}

	if !connected {
		if !kind.Durable() {
			e.logger.Info("peer not connected", "peer", target, "kind", kind)
			return false, nil
		}
		return e.queueDurable(context.Background(), target, kind, data, subKind), nil
	}

	_, ok := e.startCall(target, rec.Conn, kind, data, subKind, nil)
	return ok, nil
}

// Request issues a correlated request and blocks until the reply arrives,
// the timeout sweep resolves it with nil, or ctx is done. kind must be a
// reply-required or eval kind.
//
// For a durable-class request against a disconnected peer the envelope is
// queued and (nil, nil) is returned immediately; the eventual reply clears
// the pending record but no caller is left waiting for it.
func (e *Engine) Request(ctx context.Context, target peer.Identity, kind wire.Kind, data any, subKind string) (any, error) {
	if !e.peers.Known(target) {
		return nil, ErrUnknownPeer
	}
	if !kind.NeedsReply() {
		return nil, ErrBadKind
	}

	rec, connected := e.registry.Get(target)
	if !connected {
		if kind.Durable() {
			e.queueDurable(ctx, target, kind, data, subKind)
			return nil, nil
		}
		return nil, ErrNotConnected
	}

	result := make(chan any, 1)
	c, ok := e.startCall(target, rec.Conn, kind, data, subKind, result)
	if !ok {
		return nil, ErrDeliveryFailed
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		e.releaseCall(c.key)
		return nil, ctx.Err()
	}
}

// Evaluate runs code on the target peer and returns its result, or nil when
// the peer does not answer within the request timeout. Evaluation is
// session-bound: a timed-out request is discarded, never queued.
func (e *Engine) Evaluate(ctx context.Context, target peer.Identity, code string) (any, error) {
	return e.Request(ctx, target, wire.KindEval, code, "")
}

// Broadcast writes a fire-and-forget envelope to every connected peer.
// Best-effort: per-peer failures are logged and do not abort the loop.
func (e *Engine) Broadcast(kind wire.Kind, data any, subKind string) error {
	if kind.NeedsReply() || kind.IsReply() || kind == wire.KindAuth || !kind.Valid() {
		return ErrBadKind
	}

	env := &wire.Envelope{
		Type: kind,
		Data: wire.Payload{EventData: data, EventType: subKind},
	}
	for _, rec := range e.registry.Snapshot() {
		if err := rec.Conn.WriteEnvelope(env); err != nil {
			e.logger.Warn("broadcast write failed", "peer", rec.Identity, "error", err)
		}
	}
	return nil
}

// Reply acknowledges an inbound correlated envelope by echoing its key back
// to target. Satellites retry correlated sends until acknowledged, so event
// handlers call this once processing is done. Best-effort: a disconnected
// peer or transport failure is (false, nil); the satellite retries.
func (e *Engine) Reply(target peer.Identity, key string, data any) (bool, error) {
	if key == "" {
		return false, ErrBadKind
	}

	rec, ok := e.registry.Get(target)
	if !ok {
		e.logger.Info("peer not connected", "peer", target, "kind", wire.KindReply)
		return false, nil
	}

	env := &wire.Envelope{
		Type: wire.KindReply,
		Key:  key,
		Data: wire.Payload{EventData: data},
	}
	if err := rec.Conn.WriteEnvelope(env); err != nil {
		e.logger.Warn("failed to send reply", "peer", target, "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// ConnectedPeers lists the identities with a live connection. With
// includeSelf the hub's own name is appended.
func (e *Engine) ConnectedPeers(includeSelf bool) []peer.Identity {
	return e.registry.Connected(includeSelf)
}

// Disconnect closes the live connection for target, if any, and removes its
// registry entry. Reports whether a connection was closed.
func (e *Engine) Disconnect(target peer.Identity) bool {
	rec, ok := e.registry.Get(target)
	if !ok {
		e.logger.Info("peer not connected", "peer", target)
		return false
	}

	if err := rec.Conn.Close(closeNormal, "closed by gateway"); err != nil {
		e.logger.Debug("closing peer connection", "peer", target, "error", err)
	}
	e.registry.RemoveConn(target, rec.Conn)
	return true
}

// OnEvent registers the handler for inbound envelopes of the given kind.
// One handler per kind; registering again replaces the previous handler.
// Reply kinds are consumed by the engine itself and cannot be handled.
func (e *Engine) OnEvent(kind wire.Kind, handler EventHandler) {
	if kind.IsReply() {
		return
	}

	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handlers[kind] = handler
}
