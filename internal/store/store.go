// ABOUTME: Store interface and data types for relay-pending message persistence.
// ABOUTME: Pending messages survive process restarts and disconnected peers.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/hub-relay/internal/peer"
	"github.com/2389/hub-relay/internal/wire"
)

// ErrNotFound is returned when a requested pending message does not exist.
var ErrNotFound = errors.New("pending message not found")

// PendingMessage is one durably queued envelope awaiting delivery. Key is
// the correlation key of the original request; a reply echoing it deletes
// the record.
type PendingMessage struct {
	Key       string
	FromWho   peer.Identity // target peer identity
	Envelope  wire.Envelope // original envelope; Key column is authoritative
	CreatedAt time.Time
	LastTried time.Time
}

// Store persists messages awaiting delivery. Implementations must be safe
// for concurrent use; the engine's sweep loops and receive path touch the
// store from independent goroutines.
type Store interface {
	// Put inserts or replaces the record for msg.Key.
	Put(ctx context.Context, msg *PendingMessage) error

	// Get retrieves a record by key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (*PendingMessage, error)

	// Delete removes a record by key. Deleting an absent key is a no-op;
	// the receive path cleans up unconditionally on every reply.
	Delete(ctx context.Context, key string) error

	// Touch refreshes the last-attempt timestamp after a redelivery.
	Touch(ctx context.Context, key string, lastTried time.Time) error

	// ListDue returns records whose last attempt is at or before cutoff,
	// oldest first.
	ListDue(ctx context.Context, cutoff time.Time) ([]*PendingMessage, error)

	// List returns all records, oldest first. Used at startup reporting
	// and in tests.
	List(ctx context.Context) ([]*PendingMessage, error)

	// Close releases the underlying resources.
	Close() error
}
