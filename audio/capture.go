package audio

import (
	"fmt"
	"sync"
)

// Capture owns an acquired microphone stream and turns it into encoded
// fixed-size chunks.
type Capture struct {
	stream    InputStream
	chunkSize int

	mu      sync.Mutex
	chunker *Chunker
	stopped bool
}

// OpenCapture acquires the input device at the capture rate. Any failure is
// reported as ErrCaptureUnavailable.
func OpenCapture(devices Devices, chunkSize int) (*Capture, error) {
	if devices == nil {
		return nil, fmt.Errorf("%w: no input devices", ErrCaptureUnavailable)
	}
	stream, err := devices.OpenInput(InputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Capture{stream: stream, chunkSize: chunkSize}, nil
}

// Start wires the buffering stage to the device callback. Every full chunk is
// encoded synchronously and handed to sink; sink must not block.
func (c *Capture) Start(sink func(Chunk)) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("capture stopped")
	}
	if c.chunker != nil {
		c.mu.Unlock()
		return nil
	}
	chunker := NewChunker(c.chunkSize, func(samples []float32) {
		sink(Encode(samples))
	})
	c.chunker = chunker
	c.mu.Unlock()

	if err := c.stream.Start(chunker.Write); err != nil {
		return fmt.Errorf("%w: start stream: %v", ErrCaptureUnavailable, err)
	}
	return nil
}

// Stop disconnects the buffering stage and releases the device. It is safe
// to call more than once and on a capture that was never started.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	chunker := c.chunker
	c.chunker = nil
	c.mu.Unlock()

	if chunker != nil {
		chunker.Disconnect()
	}
	return c.stream.Close()
}
