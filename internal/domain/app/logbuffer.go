package app

import "sync"

// DefaultLogSize bounds the output kept per instance
const DefaultLogSize = 64 * 1024

// LogBuffer is a thread-safe ring buffer holding the most recent output
// of one instance. Older bytes are overwritten once it is full.
type LogBuffer struct {
	mu   sync.RWMutex
	data []byte
	size int
	head int
	full bool
}

// NewLogBuffer creates a ring buffer of the given size
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &LogBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, dropping the oldest bytes on overflow
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.head = 0
		b.full = true
		return n, nil
	}

	first := copy(b.data[b.head:], p)
	if first < n {
		copy(b.data, p[first:])
	}
	next := b.head + n
	if next >= b.size {
		b.full = true
	}
	b.head = next % b.size
	return n, nil
}

// Bytes returns a copy of the buffered output, oldest first.
// Unlike a stream read it does not consume anything.
func (b *LogBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]byte, b.head)
		copy(out, b.data[:b.head])
		return out
	}

	out := make([]byte, b.size)
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return out
}

// Len returns the number of buffered bytes
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.full {
		return b.size
	}
	return b.head
}
