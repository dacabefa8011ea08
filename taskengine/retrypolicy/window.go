package retrypolicy

import (
	"sync"
)

// SlidingWindow implements a sliding window counter.
// Uses sub-buckets for accurate sliding window calculation.
type SlidingWindow struct {
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
	totalCount    int
	mu            sync.RWMutex
}

// NewSlidingWindow creates a new sliding window.
func NewSlidingWindow(windowSeconds int) *SlidingWindow {
	return &SlidingWindow{
		windowSeconds: windowSeconds,
		bucketCount:   10,
		buckets:       make(map[int64]int),
		totalCount:    0,
	}
}

// Record records an occurrence and returns the current count.
func (w *SlidingWindow) Record(timestamp float64) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	bucketSize := float64(w.windowSeconds) / float64(w.bucketCount)
	currentBucket := int64(timestamp / bucketSize)

	// Clean up old buckets
	minBucket := currentBucket - int64(w.bucketCount)
	for b := range w.buckets {
		if b < minBucket {
			w.totalCount -= w.buckets[b]
			delete(w.buckets, b)
		}
	}

	// Record in current bucket
	w.buckets[currentBucket]++
	w.totalCount++

	return w.getCountLocked(timestamp)
}

// GetCount returns the current count in the sliding window.
func (w *SlidingWindow) GetCount(timestamp float64) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.getCountLocked(timestamp)
}

// getCountLocked returns count (must hold lock).
func (w *SlidingWindow) getCountLocked(timestamp float64) int {
	bucketSize := float64(w.windowSeconds) / float64(w.bucketCount)
	currentBucket := int64(timestamp / bucketSize)
	minBucket := currentBucket - int64(w.bucketCount)

	count := 0
	for bucket, bucketCount := range w.buckets {
		if bucket >= minBucket {
			count += bucketCount
		}
	}
	return count
}

// IsEmpty returns true if the window has no activity.
func (w *SlidingWindow) IsEmpty() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.buckets) == 0
}
