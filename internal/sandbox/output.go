package sandbox

import "sync"

// DefaultOutputMaxBytes caps captured stdout and stderr per stream.
const DefaultOutputMaxBytes int64 = 1 << 20

// CappedBuffer keeps the first max bytes written and drops the rest while
// still reporting full writes, so the child never blocks on a full pipe.
type CappedBuffer struct {
	mu        sync.Mutex
	max       int64
	buf       []byte
	truncated bool
}

// NewCappedBuffer returns a buffer holding at most max bytes. A non-positive
// max falls back to DefaultOutputMaxBytes.
func NewCappedBuffer(max int64) *CappedBuffer {
	if max <= 0 {
		max = DefaultOutputMaxBytes
	}
	return &CappedBuffer{max: max}
}

func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - int64(len(b.buf))
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
