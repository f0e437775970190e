// ABOUTME: Peer identity tokens and the sandbox variant suffix.
// ABOUTME: Identities are logical names independent of the live connection.

package peer

import "strings"

// SandboxSuffix marks the sandbox variant of a peer identity, e.g.
// "Waya" vs "Waya|Dev". Both variants authenticate with the same
// credential; the variant is selected by the connection path.
const SandboxSuffix = "|Dev"

// Identity is the logical name of a satellite process.
type Identity string

// IsSandbox reports whether id names a sandbox variant.
func (id Identity) IsSandbox() bool {
	return strings.HasSuffix(string(id), SandboxSuffix)
}

// Base strips the sandbox suffix, returning the configured identity.
func (id Identity) Base() Identity {
	return Identity(strings.TrimSuffix(string(id), SandboxSuffix))
}

// Sandbox returns the sandbox variant of id. Calling it on a sandbox
// identity is a no-op.
func (id Identity) Sandbox() Identity {
	if id.IsSandbox() {
		return id
	}
	return id + SandboxSuffix
}
