// ABOUTME: Tests for the correlation-key dedupe cache.
// ABOUTME: Validates first-seen semantics, TTL expiry, size bounds, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Seen_FirstCallMarks(t *testing.T) {
	cache := New(5*time.Minute, 100)

	assert.False(t, cache.Seen("a1b2c3"))
	assert.True(t, cache.Seen("a1b2c3"))
	assert.True(t, cache.Seen("a1b2c3"))
}

func TestCache_Seen_DistinctKeysIndependent(t *testing.T) {
	cache := New(5*time.Minute, 100)

	assert.False(t, cache.Seen("key-one"))
	assert.False(t, cache.Seen("key-two"))
	assert.True(t, cache.Seen("key-one"))
	assert.True(t, cache.Seen("key-two"))
}

func TestCache_Seen_ExpiredKeyIsNewAgain(t *testing.T) {
	cache := New(20*time.Millisecond, 100)

	assert.False(t, cache.Seen("short-lived"))
	time.Sleep(40 * time.Millisecond)
	assert.False(t, cache.Seen("short-lived"))
	assert.True(t, cache.Seen("short-lived"))
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)

	assert.False(t, cache.Seen("retryable"))
	cache.Forget("retryable")
	assert.False(t, cache.Seen("retryable"))

	// Forgetting an unknown key is a no-op.
	cache.Forget("never-seen")
}

func TestCache_MaxSize_EvictsOldest(t *testing.T) {
	cache := New(5*time.Minute, 3)

	assert.False(t, cache.Seen("k1"))
	assert.False(t, cache.Seen("k2"))
	assert.False(t, cache.Seen("k3"))
	assert.False(t, cache.Seen("k4"))

	assert.Equal(t, 3, cache.Len())

	// k1 was oldest and got evicted; it reads as unseen again.
	assert.False(t, cache.Seen("k1"))
	// k4 is still tracked.
	assert.True(t, cache.Seen("k4"))
}

func TestCache_ExpiredEntriesReclaimedOnInsert(t *testing.T) {
	cache := New(20*time.Millisecond, 100)

	cache.Seen("old-1")
	cache.Seen("old-2")
	time.Sleep(40 * time.Millisecond)

	cache.Seen("fresh")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_ConcurrentSeen_ExactlyOneWinner(t *testing.T) {
	cache := New(5*time.Minute, 1000)

	const goroutines = 32
	var wg sync.WaitGroup
	var firsts sync.Map

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if !cache.Seen("contested") {
				firsts.Store(n, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	firsts.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count, "exactly one goroutine should see the key as new")
}

func TestCache_ConcurrentMixedKeys(t *testing.T) {
	cache := New(5*time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.Seen(fmt.Sprintf("key-%d-%d", n, j))
				cache.Len()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16*50, cache.Len())
}
