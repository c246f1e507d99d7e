package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// DefaultCapacity is the number of samples retained when New is given a
// non-positive capacity.
const DefaultCapacity = 1000

// RingBuffer is a fixed-capacity, time-ordered circular buffer of samples.
//
// One goroutine writes; any number read concurrently. Every operation holds
// the lock only for the mutation or the copy; filtering happens on the
// copy after the lock is released, so the writer is never stuck behind a
// reader's computation.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Sample
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	writeCount atomic.Int64
	evictCount atomic.Int64
	clearCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		data:     make([]types.Sample, capacity),
		capacity: int64(capacity),
	}
}

// Write appends a sample, evicting exactly the oldest one first when the
// buffer is full.
func (rb *RingBuffer) Write(sample types.Sample) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.tail++
		rb.count--
		rb.evictCount.Add(1)
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = sample
	rb.head++
	rb.count++
	rb.writeCount.Add(1)
}

// Snapshot returns a copy of all samples, oldest first.
func (rb *RingBuffer) Snapshot() []types.Sample {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.copyLocked(rb.count)
}

// Latest returns a copy of the newest min(n, Len) samples, oldest first.
// Returns an empty slice for n < 1.
func (rb *RingBuffer) Latest(n int) []types.Sample {
	if n < 1 {
		return []types.Sample{}
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.copyLocked(int64(n))
}

// copyLocked copies the newest n samples (clamped to count), oldest first.
// The caller must hold rb.mu.
func (rb *RingBuffer) copyLocked(n int64) []types.Sample {
	if n > rb.count {
		n = rb.count
	}

	result := make([]types.Sample, n)
	start := rb.head - n
	for i := int64(0); i < n; i++ {
		result[i] = rb.data[(start+i)%rb.capacity]
	}
	return result
}

// PeekNewest returns the newest sample without removing it.
// Returns false if the buffer is empty.
func (rb *RingBuffer) PeekNewest() (types.Sample, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return types.Sample{}, false
	}

	return rb.data[(rb.head-1)%rb.capacity], true
}

// Peek returns the oldest sample without removing it.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Peek() (types.Sample, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return types.Sample{}, false
	}

	return rb.data[rb.tail%rb.capacity], true
}

// Len returns the current number of samples in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count == 0
}

// IsFull returns true if the buffer is full.
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count >= rb.capacity
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Clear atomically removes all samples from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.data)

	rb.head = 0
	rb.tail = 0
	rb.count = 0
	rb.clearCount.Add(1)
}

// Generation changes whenever the contents change. A value read after a
// Write or Clear returns reflects that call.
func (rb *RingBuffer) Generation() int64 {
	return rb.writeCount.Load() + rb.clearCount.Load()
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		WriteCount: rb.writeCount.Load(),
		EvictCount: rb.evictCount.Load(),
		ClearCount: rb.clearCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	WriteCount int64
	EvictCount int64
	ClearCount int64
}

// SampleFilter defines criteria for filtering samples by receipt time.
// A zero bound is open; both bounds are inclusive.
type SampleFilter struct {
	Since time.Time
	Until time.Time
}

// Inverted returns true if both bounds are set and Since is after Until.
func (f *SampleFilter) Inverted() bool {
	return !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until)
}

// IsOpen returns true if neither bound is set.
func (f *SampleFilter) IsOpen() bool {
	return f.Since.IsZero() && f.Until.IsZero()
}

// Matches returns true if the sample's receipt time is within the bounds.
func (f *SampleFilter) Matches(s *types.Sample) bool {
	if !f.Since.IsZero() && s.ReceivedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.ReceivedAt.After(f.Until) {
		return false
	}
	return true
}

// Range returns the samples matching the filter, oldest first.
// An open filter is a full snapshot; an inverted one is empty.
func (rb *RingBuffer) Range(filter SampleFilter) []types.Sample {
	if filter.Inverted() {
		return []types.Sample{}
	}

	snapshot := rb.Snapshot()
	if filter.IsOpen() {
		return snapshot
	}

	// Filter in place on the private copy.
	results := snapshot[:0]
	for i := range snapshot {
		if filter.Matches(&snapshot[i]) {
			results = append(results, snapshot[i])
		}
	}
	return results
}

// TimeRange returns the receipt times of the oldest and newest samples.
// Returns zero times if the buffer is empty.
func (rb *RingBuffer) TimeRange() (oldest, newest time.Time) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return time.Time{}, time.Time{}
	}

	return rb.data[rb.tail%rb.capacity].ReceivedAt, rb.data[(rb.head-1)%rb.capacity].ReceivedAt
}

// Duration returns the time span covered by samples in the buffer.
func (rb *RingBuffer) Duration() time.Duration {
	oldest, newest := rb.TimeRange()
	if oldest.IsZero() || newest.IsZero() {
		return 0
	}
	return newest.Sub(oldest)
}
