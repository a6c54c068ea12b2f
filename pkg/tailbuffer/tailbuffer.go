// Package tailbuffer provides a fixed-capacity ring buffer that retains
// the most recent bytes written to it. The runner wires one into the
// sidecar's stderr so crash reports can include the tail of its output
// without buffering the whole stream.
package tailbuffer

import (
	"io"
	"sync"
)

// Buffer is a bounded io.ReadWriter. Writes never block or fail; once the
// capacity is exceeded the oldest bytes are discarded. Reads drain the
// buffer front to back.
type Buffer struct {
	mu     sync.Mutex
	buf    []byte
	start  int
	length int
}

// New returns a Buffer retaining the last capacity bytes written.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. It always reports the full input length as
// written, even when older bytes are discarded to make room.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	capacity := len(b.buf)
	if capacity == 0 {
		return n, nil
	}
	if n >= capacity {
		copy(b.buf, p[n-capacity:])
		b.start, b.length = 0, capacity
		return n, nil
	}

	pos := (b.start + b.length) % capacity
	first := copy(b.buf[pos:], p)
	copy(b.buf, p[first:])
	b.length += n
	if b.length > capacity {
		b.start = (b.start + b.length - capacity) % capacity
		b.length = capacity
	}
	return n, nil
}

// Read implements io.Reader, draining retained bytes oldest first. An
// empty buffer returns io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.length == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && b.length > 0 {
		p[n] = b.buf[b.start]
		b.start = (b.start + 1) % len(b.buf)
		b.length--
		n++
	}
	return n, nil
}

// String returns the retained bytes without draining them.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.length)
	for i := 0; i < b.length; i++ {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return string(out)
}
