package audio

import (
	"sync"
	"time"
)

// Mixer renders scheduled voices onto a frame timeline. Its clock advances
// only as frames are rendered, so Now tracks what the speaker has consumed.
type Mixer struct {
	rate int

	mu     sync.Mutex
	frame  int64
	gain   float32
	voices []*mixVoice
}

type mixVoice struct {
	mixer   *Mixer
	samples []float32
	start   int64
	onEnded func()
}

// NewMixer creates a mixer running at rate frames per second.
func NewMixer(rate int) *Mixer {
	return &Mixer{rate: rate, gain: 1}
}

// SetGain scales every rendered sample.
func (m *Mixer) SetGain(g float32) {
	m.mu.Lock()
	m.gain = g
	m.mu.Unlock()
}

// Now returns the position of the next frame to be rendered.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameToTime(m.frame)
}

func (m *Mixer) frameToTime(f int64) time.Duration {
	return time.Duration(f) * time.Second / time.Duration(m.rate)
}

// timeToFrame rounds to the nearest frame; scheduled start times are sums
// of truncated durations and may sit just below a frame boundary.
func (m *Mixer) timeToFrame(d time.Duration) int64 {
	return (int64(d)*int64(m.rate) + int64(time.Second)/2) / int64(time.Second)
}

// Play queues buf to start at clock position at. Buffers at a different rate
// are resampled first.
func (m *Mixer) Play(buf *Buffer, at time.Duration, onEnded func()) Voice {
	samples := buf.Samples
	if buf.SampleRate != m.rate {
		samples = Resample(samples, buf.SampleRate, m.rate)
	}
	v := &mixVoice{
		mixer:   m,
		samples: samples,
		start:   m.timeToFrame(at),
		onEnded: onEnded,
	}

	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// Render fills out with the mix of all voices and advances the clock.
func (m *Mixer) Render(out []float32) {
	m.mu.Lock()
	for i := range out {
		out[i] = 0
	}
	from := m.frame
	to := from + int64(len(out))

	var ended []func()
	live := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start] * m.gain
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		live = append(live, v)
	}
	for i := len(live); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = live
	m.frame = to
	m.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Active returns the number of voices still queued or playing.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func (v *mixVoice) Stop() {
	m := v.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + frac*(samples[idx+1]-samples[idx])
	}
	return out
}
