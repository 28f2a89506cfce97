package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/PlanLive/audio"
	"github.com/room4-2/PlanLive/session"
	"github.com/room4-2/PlanLive/workspace"
	"google.golang.org/genai"
)

type recv struct {
	events []session.Event
	err    error
}

type fakeConn struct {
	inbound chan recv
	done    chan struct{}
	once    sync.Once

	mu        sync.Mutex
	responses [][]*genai.FunctionResponse
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan recv, 8), done: make(chan struct{})}
}

func (c *fakeConn) Receive() ([]session.Event, error) {
	select {
	case r := <-c.inbound:
		return r.events, r.err
	case <-c.done:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) SendAudio(audio.Chunk) error { return nil }

func (c *fakeConn) SendToolResponse(r []*genai.FunctionResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) sent() [][]*genai.FunctionResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]*genai.FunctionResponse(nil), c.responses...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(context.Context, session.Setup) (session.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type nopInput struct{}

func (nopInput) Start(func([]float32)) error { return nil }
func (nopInput) Close() error                { return nil }

type nopVoice struct{}

func (nopVoice) Stop() {}

type nopOutput struct{}

func (nopOutput) Now() time.Duration { return 0 }
func (nopOutput) Play(*audio.Buffer, time.Duration, func()) audio.Voice {
	return nopVoice{}
}
func (nopOutput) Close() error { return nil }

type nopDevices struct{}

func (nopDevices) OpenInput(int) (audio.InputStream, error) { return nopInput{}, nil }
func (nopDevices) OpenOutput(int) (audio.Output, error)     { return nopOutput{}, nil }

func newAssistant(t *testing.T, dialer *fakeDialer) (*Assistant, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New()
	tools := workspace.NewTools(ws, nil, nil, nil, 1)
	m := session.NewManager(dialer, nopDevices{}, 4096, nil)
	a := New(m, ws, tools)
	t.Cleanup(func() {
		a.Stop()
		tools.Close()
	})
	return a, ws
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAssistant_StartStopTracksListening(t *testing.T) {
	t.Parallel()
	a, ws := newAssistant(t, &fakeDialer{})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !ws.Listening() || !a.Active() {
		t.Fatal("not listening after Start")
	}

	a.Stop()
	if ws.Listening() || a.Active() {
		t.Fatal("still listening after Stop")
	}
}

func TestAssistant_DialFailure(t *testing.T) {
	t.Parallel()
	a, ws := newAssistant(t, &fakeDialer{err: errors.New("refused")})

	err := a.Start(context.Background())
	if !errors.Is(err, session.ErrConnection) {
		t.Fatalf("err = %v; want ErrConnection", err)
	}
	if ws.Listening() {
		t.Error("listening after failed start")
	}
}

func TestAssistant_RemoteCloseClearsListening(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	a, ws := newAssistant(t, d)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	d.last().inbound <- recv{err: session.ErrRemoteClosed}
	eventually(t, func() bool { return !ws.Listening() && !a.Active() }, "remote close not reflected")
}

func TestAssistant_TransportErrorStopsSession(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	a, ws := newAssistant(t, d)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	d.last().inbound <- recv{err: errors.New("connection reset")}
	eventually(t, func() bool { return !ws.Listening() && !a.Active() }, "transport error did not stop the session")
}

func TestAssistant_ToolCallsDriveWorkspace(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	a, ws := newAssistant(t, d)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	conn := d.last()
	conn.inbound <- recv{events: []session.Event{
		session.Opened{},
		session.ToolCallBatch{Calls: []*genai.FunctionCall{
			{ID: "1", Name: workspace.ToolChangeTheme, Args: map[string]any{"theme": "dark"}},
			{ID: "2", Name: "launch_rocket", Args: map[string]any{}},
		}},
	}}

	eventually(t, func() bool { return len(conn.sent()) == 1 }, "no tool response")
	if ws.Snapshot().Theme != workspace.ThemeDark {
		t.Errorf("theme = %s", ws.Snapshot().Theme)
	}
	batch := conn.sent()[0]
	if len(batch) != 2 {
		t.Fatalf("responses = %d; want 2", len(batch))
	}
	if _, ok := batch[0].Response["result"]; !ok {
		t.Errorf("theme response = %v", batch[0].Response)
	}
	if _, ok := batch[1].Response["error"]; !ok {
		t.Errorf("unknown tool response = %v", batch[1].Response)
	}
}

func TestAssistant_RestartReplacesSession(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	a, ws := newAssistant(t, d)
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := d.last()
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-first.done:
	default:
		t.Error("first connection not closed")
	}
	if !ws.Listening() {
		t.Error("not listening after restart")
	}
}
