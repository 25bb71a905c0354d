package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope as sent
}

// ReplayBuffer keeps the most recent envelopes of one symbol so a client
// that noticed a symbol_seq gap can fetch what it missed.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // oldest entry once the buffer has wrapped
	size    int
}

// NewReplayBuffer holds up to size envelopes.
func NewReplayBuffer(size int) *ReplayBuffer {
	if size <= 0 {
		size = 500
	}
	return &ReplayBuffer{entries: make([]replayEntry, 0, size), size: size}
}

// Push stores a copy of data under seq, evicting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	e := replayEntry{Seq: seq, Data: append([]byte(nil), data...)}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.entries) < rb.size {
		rb.entries = append(rb.entries, e)
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % rb.size
}

// Range returns envelopes with from <= seq <= to, oldest first.
func (rb *ReplayBuffer) Range(from, to int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	n := len(rb.entries)
	for i := 0; i < n; i++ {
		e := rb.entries[(rb.head+i)%n]
		if e.Seq >= from && e.Seq <= to {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of stored envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}
