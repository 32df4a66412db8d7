// Package ring implements the per-session bounded event buffer: a fixed
// capacity FIFO of protocol.Event keyed by a dense, monotonically increasing
// sequence number starting at 1. Appends are O(1) amortized; snapshot reads
// never observe a torn event, only the pre- or post-append state.
package ring

import (
	"sync"

	"github.com/ehrlich-b/wormhole/internal/protocol"
)

// Ring is a bounded, single-appender, multi-reader event buffer.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	events   []protocol.Event // logical index i holds sequence minSeq+i
	minSeq   uint64           // sequence of events[0]; 1 when empty and nothing evicted yet
	nextSeq  uint64           // sequence to assign to the next appended event
}

// New creates a Ring with the given capacity; a capacity <= 0 falls back to
// the default of 1000.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{
		capacity: capacity,
		minSeq:   1,
		nextSeq:  1,
	}
}

// Append assigns the next sequence number to the event, stores it, evicting
// the oldest entry if the ring is at capacity, and returns the assigned
// sequence. The caller supplies everything but the sequence.
func (r *Ring) Append(timestamp string, payload []byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++

	ev := protocol.Event{
		Type:      protocol.TypeEvent,
		Sequence:  seq,
		Timestamp: timestamp,
		Message:   append([]byte(nil), payload...),
	}
	r.events = append(r.events, ev)
	if len(r.events) > r.capacity {
		r.events = r.events[1:]
		r.minSeq++
	}
	return seq
}

// Range returns the current [min_seq, max_seq] range. When the ring is
// empty, min_seq == max_seq == 0.
func (r *Ring) Range() (minSeq, maxSeq uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) == 0 {
		return 0, 0
	}
	return r.minSeq, r.events[len(r.events)-1].Sequence
}

// Snapshot returns a consistent copy of all stored events with sequence in
// (after, ...], i.e. strictly greater than after. If the ring has evicted
// events below after+1 (after < minSeq-1), truncated is true and the
// returned events start at the ring's current minimum instead.
func (r *Ring) Snapshot(after uint64) (events []protocol.Event, truncated bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.events) == 0 {
		return nil, false
	}

	if after < r.minSeq-1 {
		truncated = true
		events = append(events, r.events...)
		return events, truncated
	}

	for _, ev := range r.events {
		if ev.Sequence > after {
			events = append(events, ev)
		}
	}
	return events, false
}
