// Package store persists messages awaiting delivery to disconnected peers.
//
// The relay engine demotes timed-out durable-class requests into this store
// and queues durable sends to offline peers here directly. Records are
// keyed by correlation key; a reply echoing the key deletes the record.
// The redelivery sweep reads due records, resends them, and refreshes the
// last-attempt timestamp. Because the data lives in SQLite rather than
// process memory, retries survive restarts.
//
// Two implementations are provided: SQLiteStore for production and
// MockStore for tests.
package store
