// Package mru keeps window identifiers ordered by recency of focus.
package mru

import "github.com/bryanchriswhite/witcher/internal/window"

// DefaultLimit caps the number of remembered windows.
const DefaultLimit = 256

// History is an ordered ledger of window ids, most recently focused first.
// Each id appears at most once. It is not safe for concurrent use; the daemon
// loop is its only mutator.
type History struct {
	order []window.ID
	limit int
}

// New creates an empty history holding at most limit ids.
func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{limit: limit}
}

// Touch moves id to the front, inserting it if absent. The relative order
// of all other entries is kept.
func (h *History) Touch(id window.ID) {
	if i := h.indexOf(id); i >= 0 {
		copy(h.order[1:i+1], h.order[:i])
		h.order[0] = id
		return
	}
	h.order = append(h.order, 0)
	copy(h.order[1:], h.order)
	h.order[0] = id
	h.truncate()
}

// Reconcile prunes ids absent from the snapshot and appends snapshot windows
// that the history has not seen yet, in snapshot order.
func (h *History) Reconcile(snapshot []window.Window) {
	present := make(map[window.ID]struct{}, len(snapshot))
	for _, w := range snapshot {
		present[w.ID] = struct{}{}
	}

	kept := h.order[:0]
	known := make(map[window.ID]struct{}, len(h.order))
	for _, id := range h.order {
		if _, ok := present[id]; ok {
			kept = append(kept, id)
			known[id] = struct{}{}
		}
	}
	h.order = kept

	for _, w := range snapshot {
		if _, ok := known[w.ID]; ok {
			continue
		}
		known[w.ID] = struct{}{}
		h.order = append(h.order, w.ID)
	}
	h.truncate()
}

// Order returns a copy of the ids, most recent first.
func (h *History) Order() []window.ID {
	out := make([]window.ID, len(h.order))
	copy(out, h.order)
	return out
}

// Front returns the most recently focused id.
func (h *History) Front() (window.ID, bool) {
	if len(h.order) == 0 {
		return 0, false
	}
	return h.order[0], true
}

// Len returns the number of remembered ids.
func (h *History) Len() int {
	return len(h.order)
}

func (h *History) indexOf(id window.ID) int {
	for i, existing := range h.order {
		if existing == id {
			return i
		}
	}
	return -1
}

func (h *History) truncate() {
	if len(h.order) > h.limit {
		h.order = h.order[:h.limit]
	}
}
