package mru

import (
	"slices"
	"testing"

	"github.com/bryanchriswhite/witcher/internal/window"
)

func windows(ids ...window.ID) []window.Window {
	out := make([]window.Window, len(ids))
	for i, id := range ids {
		out[i] = window.Window{ID: id}
	}
	return out
}

func TestTouch(t *testing.T) {
	tests := []struct {
		name    string
		touches []window.ID
		want    []window.ID
	}{
		{"empty", nil, []window.ID{}},
		{"single", []window.ID{1}, []window.ID{1}},
		{"newest first", []window.ID{1, 2, 3}, []window.ID{3, 2, 1}},
		{"retouch moves to front", []window.ID{1, 2, 3, 1}, []window.ID{1, 3, 2}},
		{"retouch front is a no-op", []window.ID{1, 2, 2}, []window.ID{2, 1}},
		{"middle keeps relative order", []window.ID{1, 2, 3, 4, 2}, []window.ID{2, 4, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(0)
			for _, id := range tt.touches {
				h.Touch(id)
			}
			if got := h.Order(); !slices.Equal(got, tt.want) {
				t.Errorf("Order() = %v, want %v", got, tt.want)
			}
			if len(tt.touches) > 0 {
				front, ok := h.Front()
				if !ok || front != tt.touches[len(tt.touches)-1] {
					t.Errorf("Front() = %v, %v", front, ok)
				}
			}
		})
	}
}

func TestFrontEmpty(t *testing.T) {
	h := New(4)
	if _, ok := h.Front(); ok {
		t.Error("Front() on empty history returned ok")
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d", h.Len())
	}
}

func TestReconcile(t *testing.T) {
	h := New(0)
	for _, id := range []window.ID{1, 2, 3} {
		h.Touch(id)
	}
	// 2 closed, 4 and 5 appeared
	h.Reconcile(windows(5, 1, 3, 4))

	want := []window.ID{3, 1, 5, 4}
	if got := h.Order(); !slices.Equal(got, want) {
		t.Errorf("Order() = %v, want %v", got, want)
	}

	// Duplicates in a snapshot are only appended once.
	h.Reconcile(windows(3, 1, 5, 4, 6, 6))
	want = []window.ID{3, 1, 5, 4, 6}
	if got := h.Order(); !slices.Equal(got, want) {
		t.Errorf("Order() = %v, want %v", got, want)
	}

	h.Reconcile(nil)
	if h.Len() != 0 {
		t.Errorf("Len() after empty snapshot = %d", h.Len())
	}
}

func TestLimit(t *testing.T) {
	h := New(3)
	for _, id := range []window.ID{1, 2, 3, 4} {
		h.Touch(id)
	}
	if got, want := h.Order(), []window.ID{4, 3, 2}; !slices.Equal(got, want) {
		t.Errorf("Order() = %v, want %v", got, want)
	}

	h.Reconcile(windows(4, 3, 2, 9))
	if got, want := h.Order(), []window.ID{4, 3, 2}; !slices.Equal(got, want) {
		t.Errorf("Order() after reconcile = %v, want %v", got, want)
	}
}

func TestOrderIsACopy(t *testing.T) {
	h := New(0)
	h.Touch(1)
	h.Touch(2)
	order := h.Order()
	order[0] = 99
	if front, _ := h.Front(); front != 2 {
		t.Errorf("Front() = %v after mutating Order() result", front)
	}
}
