package serverlog

import (
	"testing"

	"anthill/pkg/anthill"
)

// TestRecentMessagesRememberAndLookup verifies snapshot round-trips and
// in-place replacement.
func TestRecentMessagesRememberAndLookup(t *testing.T) {
	cache := newRecentMessages(8)

	cache.Remember(100, 11, messageSnapshot{Author: anthill.Actor{ID: 300}, Text: "hello"})
	snapshot, ok := cache.Lookup(100, 11)
	if !ok || snapshot.Author.ID != 300 || snapshot.Text != "hello" {
		t.Fatalf("snapshot = %+v, %v", snapshot, ok)
	}

	cache.Remember(100, 11, messageSnapshot{Author: anthill.Actor{ID: 300}, Text: "edited"})
	snapshot, _ = cache.Lookup(100, 11)
	if snapshot.Text != "edited" {
		t.Fatalf("replaced text = %q, want edited", snapshot.Text)
	}
	if cache.size() != 1 {
		t.Fatalf("size = %d, replacement must not grow the cache", cache.size())
	}

	if _, ok := cache.Lookup(999, 11); ok {
		t.Fatal("lookup must be community scoped")
	}
}

// TestRecentMessagesEvictsOldest verifies the FIFO bound.
func TestRecentMessagesEvictsOldest(t *testing.T) {
	cache := newRecentMessages(2)

	cache.Remember(100, 1, messageSnapshot{Text: "first"})
	cache.Remember(100, 2, messageSnapshot{Text: "second"})
	cache.Remember(100, 3, messageSnapshot{Text: "third"})

	if _, ok := cache.Lookup(100, 1); ok {
		t.Fatal("oldest snapshot must be evicted at capacity")
	}
	for _, messageID := range []int64{2, 3} {
		if _, ok := cache.Lookup(100, messageID); !ok {
			t.Fatalf("snapshot %d must survive eviction", messageID)
		}
	}
}

// TestRecentMessagesForget verifies deleted messages drop their snapshot.
func TestRecentMessagesForget(t *testing.T) {
	cache := newRecentMessages(8)

	cache.Remember(100, 11, messageSnapshot{Text: "hello"})
	cache.Forget(100, 11)
	if _, ok := cache.Lookup(100, 11); ok {
		t.Fatal("forgotten snapshot must not resolve")
	}

	cache.Forget(100, 404)
}
