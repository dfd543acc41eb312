// Package feed keeps the most recently ingested messages in memory for the
// live feed. It is per-process and lost on restart.
package feed

import (
	"sync"
	"time"
)

// Entry is one ingested message as shown on the live feed. MessageID is the
// id assigned by the bus, not the client dedup id.
type Entry struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
}

// RecentBuffer is a fixed-capacity ring that drops the oldest entry when full.
type RecentBuffer struct {
	mu      sync.Mutex
	items   []Entry
	head    int // next write position
	size    int
	evicted uint64
}

func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentBuffer{items: make([]Entry, capacity)}
}

// Append stores e, evicting the oldest entry when the buffer is at capacity.
// It reports whether an entry was evicted.
func (b *RecentBuffer) Append(e Entry) (evicted bool) {
	e.Attributes = copyAttributes(e.Attributes)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.items) {
		b.evicted++
		evicted = true
	} else {
		b.size++
	}
	b.items[b.head] = e
	b.head = (b.head + 1) % len(b.items)
	return evicted
}

// Snapshot returns a newest-first copy. Callers may modify the result.
func (b *RecentBuffer) Snapshot() []Entry {
	b.mu.Lock()
	out := make([]Entry, b.size)
	idx := b.head
	for i := 0; i < b.size; i++ {
		idx = (idx - 1 + len(b.items)) % len(b.items)
		out[i] = b.items[idx]
	}
	b.mu.Unlock()

	for i := range out {
		out[i].Attributes = copyAttributes(out[i].Attributes)
	}
	return out
}

func (b *RecentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *RecentBuffer) Capacity() int {
	return len(b.items)
}

// Evicted reports how many entries were dropped to make room.
func (b *RecentBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
