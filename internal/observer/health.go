package observer

import "sync"

// adapterHealth tracks consecutive poll failures for an adapter.
// poll() writes from the observer goroutine while Health() may be read
// from elsewhere, so fields are protected by mu.
type adapterHealth struct {
	mu       sync.Mutex
	failures int
	lastErr  string
}

func newAdapterHealth() *adapterHealth {
	return &adapterHealth{}
}

func (h *adapterHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.lastErr = ""
}

func (h *adapterHealth) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
}

func (h *adapterHealth) snapshot() (failures int, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures, h.lastErr
}
