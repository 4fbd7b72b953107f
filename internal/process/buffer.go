package process

import "sync"

// truncationMarker is appended to captured output that hit its bound.
const truncationMarker = "\n[output truncated]"

// boundedBuffer is an io.Writer that keeps at most max bytes and records
// whether anything was dropped. It bounds memory use against pathological
// archiver output.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - len(b.buf)
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.truncated {
		return b.buf
	}
	return append(append([]byte{}, b.buf...), truncationMarker...)
}
