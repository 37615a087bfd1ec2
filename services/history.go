package services

import (
	"sync"

	"greenhouse/models"
)

// DefaultHistoryCapacity is the number of readings kept when no capacity is configured.
const DefaultHistoryCapacity = 300

// RollingHistory is a bounded, insertion-ordered buffer of readings. Once
// full, appending evicts the oldest reading.
type RollingHistory struct {
	mu       sync.RWMutex
	buffer   []models.Reading
	start    int
	size     int
	capacity int
}

func NewRollingHistory(capacity int) *RollingHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &RollingHistory{
		buffer:   make([]models.Reading, capacity),
		capacity: capacity,
	}
}

// Append adds a reading, evicting the oldest one when at capacity.
func (h *RollingHistory) Append(r models.Reading) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.buffer[(h.start+h.size)%h.capacity] = r
		h.size++
		return
	}
	h.buffer[h.start] = r
	h.start = (h.start + 1) % h.capacity
}

// Latest returns the most recently appended reading.
func (h *RollingHistory) Latest() (models.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return models.Reading{}, false
	}
	return h.buffer[(h.start+h.size-1)%h.capacity], true
}

// Previous returns the reading appended before the latest one.
func (h *RollingHistory) Previous() (models.Reading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size < 2 {
		return models.Reading{}, false
	}
	return h.buffer[(h.start+h.size-2)%h.capacity], true
}

// Recent returns up to count readings, oldest first. count <= 0 returns all.
func (h *RollingHistory) Recent(count int) []models.Reading {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if count <= 0 || count > h.size {
		count = h.size
	}
	// Return a copy so callers never alias the ring
	result := make([]models.Reading, count)
	first := h.size - count
	for i := 0; i < count; i++ {
		result[i] = h.buffer[(h.start+first+i)%h.capacity]
	}
	return result
}

func (h *RollingHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *RollingHistory) Capacity() int {
	return h.capacity
}
