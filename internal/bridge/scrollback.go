// internal/bridge/scrollback.go
package bridge

import "sync"

// Scrollback is a bounded FIFO byte store holding the most recent output
// received from the device, replayed to late-joining sessions. Eviction is
// byte-granular: once the cap is exceeded the oldest bytes go first,
// regardless of the chunk boundaries they arrived in.
type Scrollback struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewScrollback creates a scrollback buffer with the given byte cap.
func NewScrollback(max int) *Scrollback {
	return &Scrollback{max: max}
}

// Append adds data, evicting the oldest bytes beyond the cap.
func (s *Scrollback) Append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data) >= s.max {
		s.buf = append(s.buf[:0], data[len(data)-s.max:]...)
		return
	}

	s.buf = append(s.buf, data...)
	if excess := len(s.buf) - s.max; excess > 0 {
		s.buf = append(s.buf[:0], s.buf[excess:]...)
	}
}

// Bytes returns a copy of the current contents, oldest byte first.
func (s *Scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// Len returns the number of buffered bytes.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Reset discards all buffered bytes.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}
