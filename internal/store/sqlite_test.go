// ABOUTME: Tests for SQLite pending-message store implementation.
// ABOUTME: Covers CRUD, due listing, touch, and restart survival.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/hub-relay/internal/wire"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMessage(key string, lastTried time.Time) *PendingMessage {
	return &PendingMessage{
		Key:     key,
		FromWho: "Waya",
		Envelope: wire.Envelope{
			Type: wire.KindRequireReply,
			Key:  key,
			Data: wire.Payload{EventData: map[string]any{"x": float64(1)}, EventType: "started"},
		},
		CreatedAt: lastTried,
		LastTried: lastTried,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	if err := s.Put(ctx, testMessage("key-1", now)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FromWho != "Waya" {
		t.Errorf("fromWho = %q, want Waya", got.FromWho)
	}
	if got.Envelope.Type != wire.KindRequireReply {
		t.Errorf("envelope type = %q, want requireReply", got.Envelope.Type)
	}
	if got.Envelope.Data.EventType != "started" {
		t.Errorf("eventType = %q, want started", got.Envelope.Data.EventType)
	}
	if !got.LastTried.Equal(now) {
		t.Errorf("lastTried = %v, want %v", got.LastTried, now)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := time.Now().Truncate(time.Millisecond)
	if err := s.Put(ctx, testMessage("key-1", first)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Demotion after a timeout refreshes the same key.
	second := first.Add(25 * time.Second)
	if err := s.Put(ctx, testMessage("key-1", second)); err != nil {
		t.Fatalf("Put upsert failed: %v", err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record, got %d", len(all))
	}
	if !all[0].LastTried.Equal(second) {
		t.Errorf("lastTried = %v, want %v", all[0].LastTried, second)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, testMessage("key-1", time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "key-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().Truncate(time.Millisecond)
	if err := s.Put(ctx, testMessage("key-1", created)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	retried := created.Add(20 * time.Second)
	if err := s.Touch(ctx, "key-1", retried); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	got, err := s.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LastTried.Equal(retried) {
		t.Errorf("lastTried = %v, want %v", got.LastTried, retried)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want unchanged %v", got.CreatedAt, created)
	}

	if err := s.Touch(ctx, "missing", retried); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}
}

func TestListDue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	if err := s.Put(ctx, testMessage("old", base.Add(-40*time.Second))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, testMessage("older", base.Add(-60*time.Second))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, testMessage("fresh", base)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	due, err := s.ListDue(ctx, base.Add(-20*time.Second))
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due records, got %d", len(due))
	}
	// Oldest first
	if due[0].Key != "older" || due[1].Key != "old" {
		t.Errorf("order = [%s, %s], want [older, old]", due[0].Key, due[1].Key)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Put(ctx, testMessage("key-1", time.Now())); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A process restart reopens the same file and sees the record.
	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.FromWho != "Waya" {
		t.Errorf("fromWho = %q, want Waya", got.FromWho)
	}
}
