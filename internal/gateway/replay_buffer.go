package gateway

import "sync"

type replayEntry struct {
	seq  int64
	data []byte // BAR envelope as sent
}

// ReplayBuffer keeps the most recent BAR envelopes for one pair so a client
// that noticed a seq gap can fetch what it missed from /api/missed.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // index of the oldest entry
	n       int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push records an envelope, evicting the oldest when full. data is retained
// as is: envelopes are immutable once built.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.entries)
	if rb.n < size {
		rb.entries[(rb.head+rb.n)%size] = replayEntry{seq: seq, data: data}
		rb.n++
		return
	}
	rb.entries[rb.head] = replayEntry{seq: seq, data: data}
	rb.head = (rb.head + 1) % size
}

// Range returns the envelopes with seq in [from, to], oldest first, and
// whether the buffer still held everything from `from` onward.
func (rb *ReplayBuffer) Range(from, to int64) (envelopes [][]byte, complete bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.n == 0 {
		return nil, false
	}
	size := len(rb.entries)
	oldest := rb.entries[rb.head].seq
	for i := 0; i < rb.n; i++ {
		e := rb.entries[(rb.head+i)%size]
		if e.seq >= from && e.seq <= to {
			envelopes = append(envelopes, e.data)
		}
	}
	return envelopes, from >= oldest
}

// Reset drops every entry. Used when the series is redrawn.
func (rb *ReplayBuffer) Reset() {
	rb.mu.Lock()
	rb.head, rb.n = 0, 0
	rb.mu.Unlock()
}

func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.n
}
