package audio

import (
	"sync"
	"time"
)

// DefaultChunkSize is the number of samples per captured chunk.
const DefaultChunkSize = 4096

// Buffer is a block of mono float samples at a fixed rate.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Chunker accumulates a continuous sample stream and emits fixed-size chunks.
// It is fed from the device callback, so Write never blocks on the consumer.
type Chunker struct {
	size    int
	pending []float32
	onChunk func([]float32)
	mu      sync.Mutex
}

// NewChunker creates a chunker that hands every full chunk of size samples to onChunk.
func NewChunker(size int, onChunk func([]float32)) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{
		size:    size,
		pending: make([]float32, 0, size),
		onChunk: onChunk,
	}
}

// Size returns the chunk size in samples.
func (c *Chunker) Size() int {
	return c.size
}

// Write appends samples and emits as many full chunks as are available.
// Each emitted chunk is a fresh slice owned by the callback.
func (c *Chunker) Write(samples []float32) {
	c.mu.Lock()
	var ready [][]float32
	for len(samples) > 0 {
		n := c.size - len(c.pending)
		if n > len(samples) {
			n = len(samples)
		}
		c.pending = append(c.pending, samples[:n]...)
		samples = samples[n:]

		if len(c.pending) == c.size {
			chunk := make([]float32, c.size)
			copy(chunk, c.pending)
			ready = append(ready, chunk)
			c.pending = c.pending[:0]
		}
	}
	onChunk := c.onChunk
	c.mu.Unlock()

	if onChunk == nil {
		return
	}
	for _, chunk := range ready {
		onChunk(chunk)
	}
}

// Buffered returns the number of samples waiting for a full chunk.
func (c *Chunker) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Disconnect drops any partial chunk and clears the callback.
func (c *Chunker) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = c.pending[:0]
	c.onChunk = nil
}
