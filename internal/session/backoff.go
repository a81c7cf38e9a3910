package session

import "sync"

// DefaultMaxReconnects is the number of consecutive recoverable disconnects
// that are retried before a session is given up.
const DefaultMaxReconnects = 5

// Backoff counts consecutive reconnect attempts per device.
type Backoff struct {
	mu       sync.Mutex
	ceiling  int
	attempts map[string]int
}

func NewBackoff(ceiling int) *Backoff {
	if ceiling <= 0 {
		ceiling = DefaultMaxReconnects
	}
	return &Backoff{ceiling: ceiling, attempts: make(map[string]int)}
}

// Allow records an attempt and reports whether it is within the ceiling.
func (b *Backoff) Allow(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attempts[deviceID] >= b.ceiling {
		return false
	}
	b.attempts[deviceID]++
	return true
}

func (b *Backoff) Reset(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attempts, deviceID)
}

func (b *Backoff) Attempts(deviceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[deviceID]
}
