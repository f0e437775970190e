// ABOUTME: Credential-based peer authentication against the configured peer table.
// ABOUTME: Immutable reverse lookup from shared secret to peer identity.

package peer

// Authenticator resolves presented credentials to peer identities.
// The peer table is fixed at construction; there is no runtime mutation.
type Authenticator struct {
	byCredential map[string]Identity
	known        map[Identity]bool
}

// NewAuthenticator builds an Authenticator from the configured
// identity -> credential table. Lookups run in the credential -> identity
// direction, so the table is inverted once here.
func NewAuthenticator(peers map[string]string) *Authenticator {
	a := &Authenticator{
		byCredential: make(map[string]Identity, len(peers)),
		known:        make(map[Identity]bool, len(peers)),
	}
	for identity, credential := range peers {
		id := Identity(identity)
		a.byCredential[credential] = id
		a.known[id] = true
	}
	return a
}

// Identify resolves a presented credential to a peer identity. When sandbox
// is set the sandbox variant of the matched identity is returned. The second
// return value is false for unknown or empty credentials.
func (a *Authenticator) Identify(credential string, sandbox bool) (Identity, bool) {
	if credential == "" {
		return "", false
	}
	id, ok := a.byCredential[credential]
	if !ok {
		return "", false
	}
	if sandbox {
		id = id.Sandbox()
	}
	return id, true
}

// Known reports whether id (or its base identity, for sandbox variants)
// appears in the configured peer table.
func (a *Authenticator) Known(id Identity) bool {
	return a.known[id.Base()]
}
