package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the rate microphone audio is captured and sent at.
	InputSampleRate = 16000
	// OutputSampleRate is the rate the model speaks at.
	OutputSampleRate = 24000

	// InputMIMEType labels outbound chunks on the wire.
	InputMIMEType = "audio/pcm;rate=16000"
	// OutputMIMEType labels inbound chunks on the wire.
	OutputMIMEType = "audio/pcm;rate=24000"
)

// ErrDecode is wrapped by every DecodeError.
var ErrDecode = errors.New("audio decode failed")

// DecodeError reports an inbound chunk that could not be turned into samples.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

// Chunk is one base64 PCM blob as it travels over the Live connection.
type Chunk struct {
	MIMEType string
	Data     string // Base64-encoded 16-bit little-endian PCM
}

// Encode converts float samples to a 16 kHz wire chunk.
// Samples are clamped to [-1, 1]; negatives scale by 32768 and positives by 32767.
func Encode(samples []float32) Chunk {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(floatToPCM(s)))
	}
	return Chunk{
		MIMEType: InputMIMEType,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

func floatToPCM(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Decode turns a wire chunk into a mono buffer at sampleRate.
func Decode(chunk Chunk, sampleRate int) (*Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return DecodePCM(pcm, sampleRate)
}

// DecodePCM converts raw 16-bit little-endian bytes into a mono buffer.
func DecodePCM(pcm []byte, sampleRate int) (*Buffer, error) {
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte length %d", len(pcm))}
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}
