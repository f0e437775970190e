// Package gateway runs the websocket listener that satellites connect to.
// It authenticates the credential header on each upgrade, registers the
// connection with the peer registry, and feeds inbound frames to the relay
// engine. The gateway also owns the lifecycle of the engine sweeps, the
// liveness monitor, and the pending-message store.
package gateway
