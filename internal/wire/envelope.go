// ABOUTME: Wire envelope encoding/decoding for the relay protocol.
// ABOUTME: Defines envelope kinds, payloads, and correlation key generation.

package wire

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the envelope variant on the wire.
type Kind string

const (
	// KindAuth is the authentication acknowledgement sent once per connection.
	KindAuth Kind = "auth"

	// KindSend is a fire-and-forget business event. No correlation key,
	// no delivery guarantee beyond the live socket write.
	KindSend Kind = "send"

	// KindRequireReply is a durable-class request. It carries a correlation
	// key and survives peer unavailability via the pending store.
	KindRequireReply Kind = "requireReply"

	// KindEval is a fire-class remote evaluation request. It carries a
	// correlation key but is discarded on timeout, never persisted.
	KindEval Kind = "eval"

	// KindBroadcast is a fire-and-forget event fanned out to every
	// connected peer.
	KindBroadcast Kind = "broadcast"

	// KindReply answers a KindRequireReply envelope, echoing its key.
	KindReply Kind = "reply"

	// KindEvalReply answers a KindEval envelope, echoing its key.
	KindEvalReply Kind = "evalReply"
)

// ErrUnknownKind indicates an envelope with an unrecognized type tag.
var ErrUnknownKind = errors.New("unknown envelope kind")

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAuth, KindSend, KindRequireReply, KindEval, KindBroadcast, KindReply, KindEvalReply:
		return true
	}
	return false
}

// IsReply reports whether k answers a previously issued request.
func (k Kind) IsReply() bool {
	return k == KindReply || k == KindEvalReply
}

// NeedsReply reports whether envelopes of this kind carry a fresh
// correlation key and expect an answer.
func (k Kind) NeedsReply() bool {
	return k == KindRequireReply || k == KindEval
}

// Durable reports whether requests of this kind are demoted to the pending
// store on timeout instead of being discarded. Remote evaluation is
// session-bound, so stale results are useless and eval stays fire-class.
func (k Kind) Durable() bool {
	return k == KindRequireReply
}

// Payload is the caller-defined body of an envelope. EventType optionally
// tags the business sub-kind (e.g. a payment event name).
type Payload struct {
	EventData any    `json:"eventData"`
	EventType string `json:"eventType,omitempty"`
}

// Envelope is the unit exchanged over a peer connection. Key is present on
// request kinds that expect a reply and on the replies echoing it.
type Envelope struct {
	Type Kind    `json:"type"`
	Key  string  `json:"key,omitempty"`
	Data Payload `json:"data"`
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// Decode parses a raw frame into an Envelope. Frames with an unknown or
// missing type tag are rejected; callers drop them silently.
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Type)
	}
	return &e, nil
}

// AuthAck is the single envelope written to a peer after successful
// authentication.
func AuthAck() *Envelope {
	return &Envelope{
		Type: KindAuth,
		Data: Payload{EventData: true},
	}
}

// NewKey returns a fresh correlation key: 16 random bytes, hex-encoded.
// Uniqueness matters here, cryptographic strength does not.
func NewKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
