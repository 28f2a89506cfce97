package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/PlanLive/audio"
	"google.golang.org/genai"
)

// --- connection ---

type recv struct {
	events []Event
	err    error
}

type fakeConn struct {
	inbound chan recv
	done    chan struct{}

	mu        sync.Mutex
	log       []string
	audio     []audio.Chunk
	responses [][]*genai.FunctionResponse
	closes    int
	closeErr  error
	closeOnce sync.Once
	onClose   func() // runs inside Close, after the connection is marked down
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan recv, 16), done: make(chan struct{})}
}

func (c *fakeConn) record(entry string) {
	c.mu.Lock()
	c.log = append(c.log, entry)
	c.mu.Unlock()
}

func (c *fakeConn) Receive() ([]Event, error) {
	c.record("recv")
	select {
	case r, ok := <-c.inbound:
		if !ok {
			return nil, ErrRemoteClosed
		}
		return r.events, r.err
	case <-c.done:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) SendAudio(chunk audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeConn) SendToolResponse(responses []*genai.FunctionResponse) error {
	c.mu.Lock()
	c.responses = append(c.responses, responses)
	c.log = append(c.log, "resp")
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	err := c.closeErr
	hook := c.onClose
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	if hook != nil {
		hook()
	}
	return err
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) push(events ...Event) {
	c.inbound <- recv{events: events}
}

func (c *fakeConn) receives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.log {
		if e == "recv" {
			n++
		}
	}
	return n
}

func (c *fakeConn) snapshot() (log []string, responses [][]*genai.FunctionResponse, sent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...), append([][]*genai.FunctionResponse(nil), c.responses...), len(c.audio)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup []Setup
	err   error

	hangUp bool // remote closes right after the dial
}

func (d *fakeDialer) Dial(_ context.Context, setup Setup) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	if d.hangUp {
		close(c.inbound)
	}
	d.conns = append(d.conns, c)
	d.setup = append(d.setup, setup)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// --- devices ---

type fakeInput struct {
	mu        sync.Mutex
	onSamples func([]float32)
	closed    bool
}

func (f *fakeInput) Start(onSamples func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSamples = onSamples
	return nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.onSamples = nil
	return nil
}

func (f *fakeInput) feed(samples []float32) bool {
	f.mu.Lock()
	fn := f.onSamples
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

func (f *fakeInput) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

func (v *fakeVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*fakeVoice
	ends   []func()
	closed bool
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Play(_ *audio.Buffer, _ time.Duration, onEnded func()) audio.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{}
	o.voices = append(o.voices, v)
	o.ends = append(o.ends, onEnded)
	return v
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) setNow(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

func (o *fakeOutput) voice(i int) *fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voices[i]
}

func (o *fakeOutput) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// fakeDevices hands out a fresh stream per acquisition and remembers them.
type fakeDevices struct {
	mu      sync.Mutex
	inputs  []*fakeInput
	outputs []*fakeOutput
	inErr   error
	outErr  error
}

func (d *fakeDevices) OpenInput(int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inErr != nil {
		return nil, d.inErr
	}
	in := &fakeInput{}
	d.inputs = append(d.inputs, in)
	return in, nil
}

func (d *fakeDevices) OpenOutput(int) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.outErr != nil {
		return nil, d.outErr
	}
	out := &fakeOutput{}
	d.outputs = append(d.outputs, out)
	return out, nil
}

// live counts acquired streams not yet released.
func (d *fakeDevices) live() (inputs, outputs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, in := range d.inputs {
		if !in.isClosed() {
			inputs++
		}
	}
	for _, out := range d.outputs {
		if !out.isClosed() {
			outputs++
		}
	}
	return inputs, outputs
}

func (d *fakeDevices) input(i int) *fakeInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputs[i]
}

func (d *fakeDevices) output(i int) *fakeOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs[i]
}

// --- helpers ---

// --- presence ---

type fakeTracker struct {
	mu   sync.Mutex
	live map[string]bool
	// beforeStore runs at the start of Store.
	beforeStore func(*Session)
}

func newFakeTracker() *fakeTracker { return &fakeTracker{live: make(map[string]bool)} }

func (f *fakeTracker) Store(_ context.Context, s *Session) {
	if f.beforeStore != nil {
		f.beforeStore(s)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[s.ID] = true
}

func (f *fakeTracker) Touch(context.Context, *Session) {}

func (f *fakeTracker) Remove(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
}

func (f *fakeTracker) Close() error { return nil }

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T) (*Manager, *fakeDialer, *fakeDevices) {
	t.Helper()
	dialer := &fakeDialer{}
	devices := &fakeDevices{}
	m := NewManager(dialer, devices, audio.DefaultChunkSize, nil)
	t.Cleanup(m.Stop)
	return m, dialer, devices
}

// halfSecond is 0.5 s of model audio.
func halfSecond() AudioChunk {
	return AudioChunk{Chunk: audio.Encode(make([]float32, audio.OutputSampleRate/2))}
}
