package logging

import (
	"fmt"
	"sync"
)

// DefaultTailBytes bounds the output kept in memory per iteration
const DefaultTailBytes = 32 * 1024 * 1024

// TailBuffer keeps only the last N bytes written to it. Child processes write
// stdout and stderr into the same buffer, so writes are serialized.
type TailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
}

// NewTailBuffer creates a buffer keeping at most maxBytes; <= 0 selects DefaultTailBytes
func NewTailBuffer(maxBytes int) *TailBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}
	return &TailBuffer{maxBytes: maxBytes}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// copy so the dropped prefix can be collected
		kept := make([]byte, b.maxBytes)
		copy(kept, b.contents[len(b.contents)-b.maxBytes:])
		b.contents = kept
	}
	return len(p), nil
}

// Bytes returns a copy of the retained output
func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

// TotalBytes is the number of bytes ever written
func (b *TailBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Truncated reports whether older output was dropped
func (b *TailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents)) < b.total
}

// Output returns the retained bytes, prefixed with a marker line when output was dropped
func (b *TailBuffer) Output() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dropped := b.total - int64(len(b.contents)); dropped > 0 {
		marker := fmt.Sprintf("[output truncated: %d earlier bytes dropped]\n", dropped)
		out := make([]byte, 0, len(marker)+len(b.contents))
		out = append(out, marker...)
		return append(out, b.contents...)
	}
	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}
