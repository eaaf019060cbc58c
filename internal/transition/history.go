package transition

import "sync"

// DefaultHistorySize is the number of results kept by NewHistory(0).
const DefaultHistorySize = 256

// History is a bounded, process-local record of recent results.
type History struct {
	mu      sync.RWMutex
	entries []Result // entries is a ring buffer
	next    int      // next is the slot the next result is written to
	full    bool
}

// NewHistory creates a history keeping the last size results.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &History{entries: make([]Result, size)}
}

// Add records r, overwriting the oldest result when full.
func (h *History) Add(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = r
	h.next = (h.next + 1) % len(h.entries)

	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to n results, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.next
	if h.full {
		count = len(h.entries)
	}

	if n <= 0 || n > count {
		n = count
	}

	out := make([]Result, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}

	return out
}
