// Package relay implements the request/response correlation protocol layered
// on top of one-way envelope delivery, plus the durable retry machinery that
// survives process restarts and disconnected peers.
//
// # State machine
//
// A single outgoing call moves through:
//
//	Issued -> AwaitingReply -> {Resolved | TimedOut}
//
// TimedOut transitions to Dropped for fire-class kinds (eval) or to
// Persisted for durable-class kinds (requireReply). Persisted envelopes are
// resent by the redelivery sweep each time their target is connected and the
// record is due, looping until a reply echoing the correlation key arrives.
//
// # Sweeps
//
// Two independent periodic loops advance the state machine:
//
//   - Timeout sweep: correlation entries older than the request timeout are
//     resolved with nil (fire class) or demoted into the pending store
//     (durable class).
//   - Redelivery sweep: due pending records whose target is connected are
//     rewritten to the live socket and their last-attempt timestamps
//     refreshed. Delivery is at-least-once; consumers must be idempotent
//     per correlation key (internal/dedupe provides the tool).
//
// # Facade
//
// The Engine doubles as the public facade: Send, Broadcast, Evaluate,
// Request, ConnectedPeers, Disconnect, and OnEvent for inbound dispatch.
// External collaborators receive an *Engine and touch nothing else.
package relay
