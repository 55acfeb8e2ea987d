package chat

import "sync"

// DefaultDedupWindow is the number of recently seen message keys kept
// for duplicate suppression across reconnects.
const DefaultDedupWindow = 200

// DedupWindow remembers the most recent message keys in arrival order.
// When full, recording a new key evicts the oldest one.
type DedupWindow struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
	next  int
}

// NewDedupWindow creates a window holding up to size keys.
func NewDedupWindow(size int) *DedupWindow {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return &DedupWindow{
		keys:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// Seen records key and reports whether it was already in the window.
func (w *DedupWindow) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[key]; ok {
		return true
	}

	if evicted := w.order[w.next]; evicted != "" {
		delete(w.keys, evicted)
	}
	w.order[w.next] = key
	w.next = (w.next + 1) % len(w.order)
	w.keys[key] = struct{}{}

	return false
}

// Size returns the number of keys currently held.
func (w *DedupWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}
