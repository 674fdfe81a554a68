package transport

import "sync"

// MaxCapture bounds how much of each remote output stream is kept.
const MaxCapture = 64 << 10

// CappedBuffer keeps the last MaxCapture bytes written to it. The tail of a
// failing job's stderr is what carries the diagnostic.
type CappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - MaxCapture; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "[truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
