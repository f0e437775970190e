// Package peer tracks the satellite processes connected to the hub.
//
// A peer has a logical Identity drawn from the configured peer table,
// optionally suffixed with "|Dev" to mark its sandbox variant. The
// Authenticator resolves a presented shared secret back to an identity.
//
// The Registry maps each identity to at most one live connection plus its
// last-heartbeat timestamp. It is pure in-memory state, rebuilt as peers
// reconnect. Registering an identity that already has a connection closes
// the superseded socket.
//
// The Monitor runs the liveness protocol: every interval it pings all
// registered connections and evicts those whose heartbeat is older than the
// timeout, closing them with CloseHeartbeatTimeout.
package peer
