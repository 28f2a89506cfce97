package audio

import (
	"errors"
	"time"
)

// ErrCaptureUnavailable is returned when no microphone can be acquired.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// InputStream is an acquired microphone stream.
// Start begins delivering samples to onSamples on the device's own callback
// thread. Close releases the device; it must be safe to call more than once.
type InputStream interface {
	Start(onSamples func([]float32)) error
	Close() error
}

// Voice is one scheduled output buffer.
type Voice interface {
	// Stop cuts playback immediately. The voice's end hook is not invoked.
	Stop()
}

// Output is an acquired speaker with its own playback clock.
type Output interface {
	// Now returns the output clock's current position.
	Now() time.Duration
	// Play starts buf at clock position at and calls onEnded once it has
	// finished naturally. onEnded may run on the device thread.
	Play(buf *Buffer, at time.Duration, onEnded func()) Voice
	// Close releases the device; it must be safe to call more than once.
	Close() error
}

// Devices hands out input and output streams.
type Devices interface {
	OpenInput(sampleRate int) (InputStream, error)
	OpenOutput(sampleRate int) (Output, error)
}
