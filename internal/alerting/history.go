package alerting

import "sync"

// DefaultHistoryCapacity bounds the recent-events list.
const DefaultHistoryCapacity = 50

// History is a bounded, newest-first list of events. Once full, inserting
// evicts the oldest entry.
type History struct {
	mu       sync.RWMutex
	capacity int
	items    []Event
}

// NewHistory constructs a history with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity, items: make([]Event, 0, capacity)}
}

// Prepend inserts ev as the newest entry.
func (h *History) Prepend(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) < h.capacity {
		h.items = append(h.items, Event{})
	}
	copy(h.items[1:], h.items[:len(h.items)-1])
	h.items[0] = ev.clone()
}

// List returns a copy, newest first.
func (h *History) List() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, len(h.items))
	for i, ev := range h.items {
		out[i] = ev.clone()
	}
	return out
}

// Len returns the number of stored events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Capacity returns the maximum number of stored events.
func (h *History) Capacity() int {
	return h.capacity
}

// Update applies fn to the event with the given id and reports whether it was found.
func (h *History) Update(id string, fn func(*Event)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.items {
		if h.items[i].ID == id {
			fn(&h.items[i])
			return true
		}
	}
	return false
}

// UpdateAll applies fn to every event.
func (h *History) UpdateAll(fn func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.items {
		fn(&h.items[i])
	}
}

// Replace swaps in a list that is already newest first, truncated to capacity.
func (h *History) Replace(events []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(events)
	if n > h.capacity {
		n = h.capacity
	}
	h.items = make([]Event, n, h.capacity)
	for i := 0; i < n; i++ {
		h.items[i] = events[i].clone()
	}
}

// Clear removes every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = h.items[:0]
}
