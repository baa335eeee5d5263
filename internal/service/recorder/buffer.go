package recorder

import (
	"sync"
	"time"
)

// timeBuffer is a bounded FIFO of capture instants awaiting persistence.
// Oldest entries live at the head. When full, an append evicts the head and
// the evicted instant is reported to the caller. Extracted batches can be
// spliced back onto the head after a failed write so that a later extract
// observes the buffer exactly as if the failed attempt never happened.
type timeBuffer struct {
	mu      sync.Mutex
	entries []time.Time
	max     int
}

func newTimeBuffer(max int) *timeBuffer {
	return &timeBuffer{
		entries: make([]time.Time, 0, max),
		max:     max,
	}
}

// append adds an instant at the tail, evicting the oldest entry when the
// buffer is at capacity. It reports the evicted instant, if any.
func (b *timeBuffer) append(instant time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted time.Time
	var dropped bool
	if len(b.entries) >= b.max {
		evicted = b.entries[0]
		dropped = true
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, instant)
	return evicted, dropped
}

// extractBatch removes and returns up to limit entries from the head in
// capture order. The returned slice is owned by the caller.
func (b *timeBuffer) extractBatch(limit int) []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || len(b.entries) == 0 {
		return nil
	}
	if limit > len(b.entries) {
		limit = len(b.entries)
	}
	batch := make([]time.Time, limit)
	copy(batch, b.entries[:limit])
	remaining := copy(b.entries, b.entries[limit:])
	b.entries = b.entries[:remaining]
	return batch
}

// prependBatch splices a previously extracted batch back onto the head,
// preserving its internal order.
func (b *timeBuffer) prependBatch(batch []time.Time) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	restored := make([]time.Time, 0, len(batch)+len(b.entries))
	restored = append(restored, batch...)
	restored = append(restored, b.entries...)
	b.entries = restored
}

// size returns the current number of pending entries.
func (b *timeBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
