// ABOUTME: In-memory registry mapping peer identities to live connections.
// ABOUTME: Tracks last-heartbeat timestamps; rebuilt from scratch on each connect.

package peer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/hub-relay/internal/wire"
)

// Close codes used when the gateway terminates a connection.
const (
	// CloseHeartbeatTimeout is sent when a peer misses heartbeats
	// beyond the configured threshold.
	CloseHeartbeatTimeout = 4000

	// CloseSuperseded is sent to the old socket when the same identity
	// authenticates a new connection.
	CloseSuperseded = 4001
)

// SelfName is the identity under which the hub lists itself.
const SelfName Identity = "wss"

// Conn is the transport handle stored per registered peer. The gateway's
// websocket wrapper implements it; tests substitute fakes.
type Conn interface {
	// WriteEnvelope encodes and writes one envelope to the peer.
	WriteEnvelope(env *wire.Envelope) error

	// Ping sends a transport-level ping frame.
	Ping() error

	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}

// Record is a snapshot of one registered connection.
type Record struct {
	Identity      Identity
	Conn          Conn
	LastHeartbeat time.Time
}

// Registry holds the live connection per peer identity. A given identity has
// at most one live connection; registering a new one supersedes the old.
type Registry struct {
	mu     sync.RWMutex
	conns  map[Identity]*Record
	logger *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[Identity]*Record),
		logger: logger.With("component", "registry"),
	}
}

// Register stores conn as the live connection for id. If the identity was
// already registered, the superseded socket is closed so it cannot linger
// until it errors out on its own.
func (r *Registry) Register(id Identity, conn Conn) {
	r.mu.Lock()
	old := r.conns[id]
	r.conns[id] = &Record{
		Identity:      id,
		Conn:          conn,
		LastHeartbeat: time.Now(),
	}
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		r.logger.Warn("superseding existing connection", "peer", id)
		if err := old.Conn.Close(CloseSuperseded, "superseded by new connection"); err != nil {
			r.logger.Debug("closing superseded connection", "peer", id, "error", err)
		}
	}

	r.logger.Info("peer connected", "peer", id, "total_peers", total)
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id Identity) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.conns[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Remove drops the registry entry for id, regardless of which connection
// currently holds it.
func (r *Registry) Remove(id Identity) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Info("peer disconnected", "peer", id, "total_peers", total)
	}
}

// RemoveConn drops the entry for id only if conn is still the registered
// connection. A superseded socket's close must not evict its replacement.
func (r *Registry) RemoveConn(id Identity, conn Conn) {
	r.mu.Lock()
	rec, ok := r.conns[id]
	if ok && rec.Conn == conn {
		delete(r.conns, id)
	} else {
		ok = false
	}
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.logger.Info("peer disconnected", "peer", id, "total_peers", total)
	}
}

// Heartbeat refreshes the last-heartbeat timestamp for id. Called on every
// pong from the peer's socket.
func (r *Registry) Heartbeat(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.conns[id]; ok {
		rec.LastHeartbeat = time.Now()
	}
}

// Connected lists the identities with a live connection, sorted for stable
// output. With includeSelf the hub's own name is appended.
func (r *Registry) Connected(includeSelf bool) []Identity {
	r.mu.RLock()
	ids := make([]Identity, 0, len(r.conns)+1)
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if includeSelf {
		ids = append(ids, SelfName)
	}
	return ids
}

// Snapshot returns a copy of all records, for sweep loops that must not
// hold the registry lock while doing per-peer I/O.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]Record, 0, len(r.conns))
	for _, rec := range r.conns {
		records = append(records, *rec)
	}
	return records
}
