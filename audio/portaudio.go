package audio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudio opens the host's default microphone and speaker.
type PortAudio struct {
	closeOnce sync.Once
}

// NewPortAudio initializes the PortAudio library. Call Close on shutdown.
func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudio{}, nil
}

// Close terminates the PortAudio library.
func (p *PortAudio) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = portaudio.Terminate()
	})
	return err
}

type paInput struct {
	stream    *portaudio.Stream
	onSamples atomic.Pointer[func([]float32)]
	closeOnce sync.Once
}

// OpenInput opens a mono float32 capture stream on the default input device.
func (p *PortAudio) OpenInput(sampleRate int) (InputStream, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("no input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	in := &paInput{}
	stream, err := portaudio.OpenStream(params, func(samples []float32) {
		if fn := in.onSamples.Load(); fn != nil {
			(*fn)(samples)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	in.stream = stream
	log.Printf("🎙️ Microphone acquired: %s @ %d Hz", dev.Name, sampleRate)
	return in, nil
}

func (in *paInput) Start(onSamples func([]float32)) error {
	in.onSamples.Store(&onSamples)
	return in.stream.Start()
}

func (in *paInput) Close() error {
	var err error
	in.closeOnce.Do(func() {
		in.onSamples.Store(nil)
		_ = in.stream.Stop()
		err = in.stream.Close()
		log.Println("🎙️ Microphone released")
	})
	return err
}

type paOutput struct {
	*Mixer
	stream    *portaudio.Stream
	closeOnce sync.Once
}

// OpenOutput opens a mono float32 playback stream on the default output
// device, driven by a Mixer.
func (p *PortAudio) OpenOutput(sampleRate int) (Output, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("no output device: %w", err)
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Input.Device = nil
	params.Input.Channels = 0
	params.Output.Channels = 1
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	mixer := NewMixer(sampleRate)
	stream, err := portaudio.OpenStream(params, func(out []float32) {
		mixer.Render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}
	log.Printf("🔈 Speaker acquired: %s @ %d Hz", dev.Name, sampleRate)
	return &paOutput{Mixer: mixer, stream: stream}, nil
}

func (o *paOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		_ = o.stream.Stop()
		err = o.stream.Close()
		log.Println("🔈 Speaker released")
	})
	return err
}
