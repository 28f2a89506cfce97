package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/room4-2/PlanLive/audio"
	"google.golang.org/genai"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// ToolHandler runs one function call for the model and returns a
// JSON-serialisable result.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (any, error)

// Options configures a Session.
type Options struct {
	SystemInstruction string
	Tools             []*genai.Tool

	OnClose    func()      // Remote side closed; teardown already done
	OnError    func(error) // Transport failure; caller decides whether to Stop
	OnToolCall ToolHandler
}

// ToolCallError is a tool handler failure reported back to the model.
type ToolCallError struct {
	Name string
	Err  error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Err)
}

func (e *ToolCallError) Unwrap() error { return e.Err }

// Session is one live duplex audio connection with its capture and playback
// devices. All resources are owned by the Session and released by teardown.
type Session struct {
	ID        string
	CreatedAt time.Time

	opts    Options
	conn    Conn
	capture *audio.Capture
	output  audio.Output
	player  *audio.Scheduler

	// One slot: capture never waits on the network.
	outbound chan audio.Chunk
	dropped  atomic.Int64
	sent     atomic.Int64
	stopping atomic.Bool // set before a local close so run ignores the resulting error

	mu           sync.RWMutex
	state        State
	closed       bool
	lastActivity time.Time
	onTeardown   func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// open acquires playback, then capture, then dials. Anything acquired is
// released again if a later step fails.
func open(ctx context.Context, dialer Dialer, devices audio.Devices, chunkSize int, opts Options, onTeardown func(*Session)) (*Session, error) {
	if devices == nil {
		return nil, fmt.Errorf("%w: no audio devices", audio.ErrCaptureUnavailable)
	}
	output, err := devices.OpenOutput(audio.OutputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open playback: %w", err)
	}

	capture, err := audio.OpenCapture(devices, chunkSize)
	if err != nil {
		_ = output.Close()
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now(),
		opts:         opts,
		capture:      capture,
		output:       output,
		player:       audio.NewScheduler(output),
		outbound:     make(chan audio.Chunk, 1),
		state:        StateOpening,
		lastActivity: time.Now(),
		onTeardown:   onTeardown,
		ctx:          sessCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	conn, err := dialer.Dial(ctx, Setup{
		SystemInstruction: opts.SystemInstruction,
		Tools:             opts.Tools,
	})
	if err != nil {
		cancel()
		_ = capture.Stop()
		_ = output.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.conn = conn

	log.Printf("🔌 [%s] Session opening", s.short())
	go s.sendLoop()
	go s.run()
	return s, nil
}

func (s *Session) short() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsClosed reports whether the session has been torn down.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// LastActivity returns when the last inbound message arrived.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Player exposes the playback scheduler.
func (s *Session) Player() *audio.Scheduler { return s.player }

// Dropped returns how many captured chunks were discarded because the
// previous send was still in flight.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Done is closed once the inbound dispatch loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the single inbound dispatch loop. A message is fully handled,
// including its tool response, before the next one is received.
func (s *Session) run() {
	defer close(s.done)

	for {
		events, err := s.conn.Receive()
		if err != nil {
			if s.IsClosed() || s.stopping.Load() {
				return
			}
			if errors.Is(err, ErrRemoteClosed) {
				s.handle(Closed{Reason: err.Error()})
				return
			}
			s.handle(Errored{Err: fmt.Errorf("%w: %v", ErrConnection, err)})
			return
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		for _, ev := range events {
			if s.IsClosed() {
				return
			}
			if !s.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event. It returns false when the loop must stop.
func (s *Session) handle(ev Event) bool {
	switch ev := ev.(type) {
	case Opened:
		s.markOpen()
	case ToolCallBatch:
		s.dispatchTools(ev.Calls)
	case AudioChunk:
		buf, err := audio.Decode(ev.Chunk, audio.OutputSampleRate)
		if err != nil {
			log.Printf("⚠️ [%s] Dropping audio chunk: %v", s.short(), err)
			return true
		}
		s.player.Schedule(buf)
	case Interrupted:
		log.Printf("✋ [%s] Interrupted, flushing %d buffer(s)", s.short(), s.player.Pending())
		s.player.Interrupt()
	case Closed:
		log.Printf("🔌 [%s] Remote closed: %s", s.short(), ev.Reason)
		if s.shutdown() {
			if s.opts.OnClose != nil {
				s.opts.OnClose()
			}
		}
		return false
	case Errored:
		log.Printf("❌ [%s] Connection error: %v", s.short(), ev.Err)
		if s.opts.OnError != nil {
			s.opts.OnError(ev.Err)
		}
	}
	return true
}

func (s *Session) markOpen() {
	s.mu.Lock()
	if s.closed || s.state != StateOpening {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.mu.Unlock()

	log.Printf("✅ [%s] Session open, starting capture", s.short())
	if err := s.capture.Start(s.enqueue); err != nil {
		log.Printf("❌ [%s] Capture failed to start: %v", s.short(), err)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
	}
}

// enqueue is the capture sink. It runs on the device thread and never blocks.
func (s *Session) enqueue(chunk audio.Chunk) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.outbound <- chunk:
	default:
		s.dropped.Add(1)
	}
}

// sendLoop forwards captured chunks in order. Send failures are logged and
// never stop capture.
func (s *Session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.outbound:
			if s.State() != StateOpen {
				continue
			}
			if err := s.conn.SendAudio(chunk); err != nil {
				if !s.IsClosed() {
					log.Printf("⚠️ [%s] Failed to send audio: %v", s.short(), err)
				}
				continue
			}
			s.sent.Add(1)
		}
	}
}

// dispatchTools answers every call in the batch exactly once, in order, with
// a single tool-response frame.
func (s *Session) dispatchTools(calls []*genai.FunctionCall) {
	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, fc := range calls {
		log.Printf("🔧 [%s] Function call: %s (id: %s)", s.short(), fc.Name, fc.ID)

		result, err := s.invoke(fc)
		resp := &genai.FunctionResponse{ID: fc.ID, Name: fc.Name}
		if err != nil {
			log.Printf("⚠️ [%s] %v", s.short(), err)
			resp.Response = map[string]any{"error": errorMessage(err)}
		} else {
			resp.Response = map[string]any{"result": result}
		}
		responses = append(responses, resp)
	}

	if s.IsClosed() {
		log.Printf("🔧 [%s] Session closed, dropping %d tool response(s)", s.short(), len(responses))
		return
	}
	if err := s.conn.SendToolResponse(responses); err != nil {
		log.Printf("❌ [%s] Failed to send tool response: %v", s.short(), err)
	}
}

func (s *Session) invoke(fc *genai.FunctionCall) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &ToolCallError{Name: fc.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if s.opts.OnToolCall == nil {
		return nil, &ToolCallError{Name: fc.Name, Err: errors.New("no tool handler registered")}
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	result, err = s.opts.OnToolCall(s.ctx, fc.Name, args)
	if err != nil {
		return nil, &ToolCallError{Name: fc.Name, Err: err}
	}
	if _, err := json.Marshal(result); err != nil {
		return nil, &ToolCallError{Name: fc.Name, Err: fmt.Errorf("result not serialisable: %w", err)}
	}
	return result, nil
}

func errorMessage(err error) string {
	var tce *ToolCallError
	if errors.As(err, &tce) {
		return tce.Err.Error()
	}
	return err.Error()
}

// Stop closes the connection (best effort) and always tears down. Safe to
// call repeatedly and concurrently with in-flight dispatch.
func (s *Session) Stop() {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	s.stopping.Store(true)
	if err := s.conn.Close(); err != nil {
		log.Printf("⚠️ [%s] %v: %v", s.short(), ErrClose, err)
	}
	s.shutdown()
}

// shutdown runs teardown once. It reports whether this call did the work.
func (s *Session) shutdown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.state = StateClosed
	hook := s.onTeardown
	s.mu.Unlock()

	s.cancel()
	if err := s.capture.Stop(); err != nil {
		log.Printf("⚠️ [%s] Failed to release capture: %v", s.short(), err)
	}
	s.player.Reset()
	if err := s.output.Close(); err != nil {
		log.Printf("⚠️ [%s] Failed to release playback: %v", s.short(), err)
	}
	// Remote-close path: make sure the SDK side is released as well.
	_ = s.conn.Close()

	log.Printf("🔌 [%s] Session closed (sent %d, dropped %d chunks)", s.short(), s.sent.Load(), s.dropped.Load())
	if hook != nil {
		hook(s)
	}
	return true
}
