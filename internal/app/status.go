package app

import (
	"bytes"
	"sync"
)

// StatusBuffer holds the first N bytes of the most recent inbound
// message, zero padded.
type StatusBuffer struct {
	mu  sync.RWMutex
	buf []byte
}

func NewStatusBuffer(n int) *StatusBuffer {
	return &StatusBuffer{buf: make([]byte, n)}
}

// Set copies min(len(p), N) bytes and zero-fills the rest. It returns the
// number of bytes kept.
func (s *StatusBuffer) Set(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(s.buf, p)
	clear(s.buf[n:])
	return n
}

// Bytes returns a copy of the whole buffer, padding included.
func (s *StatusBuffer) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.buf)
}

// String returns the buffer up to the first zero byte.
func (s *StatusBuffer) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := bytes.IndexByte(s.buf, 0); i >= 0 {
		return string(s.buf[:i])
	}
	return string(s.buf)
}

func (s *StatusBuffer) Len() int { return len(s.buf) }
