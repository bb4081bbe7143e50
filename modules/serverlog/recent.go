package serverlog

import (
	"sync"

	"anthill/pkg/anthill"
)

// recentMessageCapacity bounds the snapshot cache. Old snapshots are evicted
// first-in first-out once the bound is reached.
const recentMessageCapacity = 4096

type messageKey struct {
	communityID int64
	messageID   int64
}

// messageSnapshot is the last content seen for one message, with its author.
// The gateway does not replay pre-edit content or attribute deletions, so
// this snapshot is the only source for edit_before and deletion rows.
type messageSnapshot struct {
	Author anthill.Actor
	Text   string
}

// recentMessages is a bounded FIFO cache of message snapshots keyed by
// community and message ID.
type recentMessages struct {
	mu       sync.Mutex
	capacity int
	entries  map[messageKey]messageSnapshot
	order    []messageKey
}

func newRecentMessages(capacity int) *recentMessages {
	if capacity <= 0 {
		capacity = recentMessageCapacity
	}
	return &recentMessages{
		capacity: capacity,
		entries:  make(map[messageKey]messageSnapshot, capacity),
	}
}

// Remember records or replaces the snapshot for one message. A replaced
// snapshot keeps its original eviction slot.
func (r *recentMessages) Remember(communityID, messageID int64, snapshot messageSnapshot) {
	key := messageKey{communityID, messageID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		r.entries[key] = snapshot
		return
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	r.entries[key] = snapshot
	r.order = append(r.order, key)
}

// Lookup returns the snapshot for one message when still cached.
func (r *recentMessages) Lookup(communityID, messageID int64) (messageSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, ok := r.entries[messageKey{communityID, messageID}]
	return snapshot, ok
}

// Forget drops the snapshot for one message. Its eviction slot is released
// lazily when it reaches the front of the order queue.
func (r *recentMessages) Forget(communityID, messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, messageKey{communityID, messageID})
}

func (r *recentMessages) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
