package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/config"
	"github.com/room4-2/PlanLive/messages"
	"github.com/room4-2/PlanLive/workspace"
)

type fakePlanner struct {
	mu  sync.Mutex
	got workspace.PlanRequest
	err error
}

func (p *fakePlanner) Plan(_ context.Context, req workspace.PlanRequest) (*workspace.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = req
	if p.err != nil {
		return nil, p.err
	}
	return &workspace.Plan{
		Title: "Bench",
		Items: []*workspace.Item{{Name: "Plank", Kind: workspace.KindComponent, Cost: "$20"}},
	}, nil
}

func (p *fakePlanner) request() workspace.PlanRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got
}

type fakeVoice struct {
	ws  *workspace.Workspace
	err error
	mu  sync.Mutex
	on  bool
}

func (v *fakeVoice) Start(context.Context) error {
	if v.err != nil {
		return v.err
	}
	v.mu.Lock()
	v.on = true
	v.mu.Unlock()
	v.ws.SetListening(true)
	return nil
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.on = false
	v.mu.Unlock()
	v.ws.SetListening(false)
}

func (v *fakeVoice) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.on
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type harness struct {
	srv     *Server
	http    *httptest.Server
	ws      *workspace.Workspace
	planner *fakePlanner
}

func newHarness(t *testing.T, voice func(*workspace.Workspace) Voice) *harness {
	t.Helper()
	ws := workspace.New()
	planner := &fakePlanner{}
	tools := workspace.NewTools(ws, planner, nil, nil, 1)
	var v Voice
	if voice != nil {
		v = voice(ws)
	}
	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	s := NewServerWebsocket(cfg, ws, tools, v)
	tools.SetLocationProvider(s)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		hs.Close()
		tools.Close()
	})
	return &harness{srv: s, http: hs, ws: ws, planner: planner}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(messages.ClientMessage{Type: typ, Payload: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func isStatus(status string) func(frame) bool {
	return func(f frame) bool {
		if f.Type != messages.TypeStatus {
			return false
		}
		var p messages.StatusPayload
		return json.Unmarshal(f.Payload, &p) == nil && p.Status == status
	}
}

func isError(code string) func(frame) bool {
	return func(f frame) bool {
		if f.Type != messages.TypeError {
			return false
		}
		var p messages.ErrorPayload
		return json.Unmarshal(f.Payload, &p) == nil && p.Code == code
	}
}

func isState(match func(workspace.State) bool) func(frame) bool {
	return func(f frame) bool {
		if f.Type != messages.TypeState {
			return false
		}
		var s workspace.State
		return json.Unmarshal(f.Payload, &s) == nil && match(s)
	}
}

func TestServer_ConnectSendsStatusAndState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)

	connected := isStatus(messages.StatusConnected)
	initial := isState(func(s workspace.State) bool { return s.Style == workspace.StylePhotorealistic })
	var sawStatus, sawState bool
	readUntil(t, conn, func(f frame) bool {
		sawStatus = sawStatus || connected(f)
		sawState = sawState || initial(f)
		return sawStatus && sawState
	})
}

func TestServer_Ping(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionPing})
	readUntil(t, conn, isStatus(messages.StatusPong))
}

func TestServer_RejectsBadFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, isError(messages.ErrCodeInvalidMessage))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: "dance"})
	readUntil(t, conn, isError(messages.ErrCodeUnknownAction))

	send(t, conn, "telemetry", map[string]any{})
	readUntil(t, conn, isError(messages.ErrCodeInvalidMessage))
}

func TestServer_PlanCommandBroadcastsState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)
	other := h.dial(t)

	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionPlan, Topic: "garden bench", Image: img})

	hasPlan := isState(func(s workspace.State) bool { return s.Plan != nil && s.Plan.Title == "Bench" })
	readUntil(t, conn, hasPlan)
	readUntil(t, other, hasPlan)

	got := h.planner.request()
	if got.Topic != "garden bench" || got.ImageMIMEType != "image/png" || len(got.Image) != 3 {
		t.Errorf("plan request = %+v", got)
	}
}

func TestServer_PlanFailureReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.planner.mu.Lock()
	h.planner.err = errors.New("model overloaded")
	h.planner.mu.Unlock()
	conn := h.dial(t)

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionPlan, Topic: "shed"})
	readUntil(t, conn, isError(messages.ErrCodePlanFailed))
}

func TestServer_StyleThemeSelect(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.ws.SetPlan(&workspace.Plan{Title: "Kit", Items: []*workspace.Item{
		{Name: "Saw", Kind: workspace.KindTool},
		{Name: "Glue", Kind: workspace.KindComponent},
	}})
	conn := h.dial(t)

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionStyle, Style: "watercolor"})
	readUntil(t, conn, isState(func(s workspace.State) bool { return s.Style == workspace.StyleWatercolor }))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionTheme, Theme: "dark"})
	readUntil(t, conn, isState(func(s workspace.State) bool { return s.Theme == workspace.ThemeDark }))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionSelect, Criteria: "tools"})
	readUntil(t, conn, isState(func(s workspace.State) bool {
		return s.Plan != nil && s.Plan.Items[0].Selected && !s.Plan.Items[1].Selected
	}))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionStyle, Style: "crayon"})
	readUntil(t, conn, isError(messages.ErrCodeInvalidValue))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionSelect, Criteria: "all", Mode: "toggle"})
	readUntil(t, conn, isError(messages.ErrCodeInvalidValue))
}

func TestServer_GenerateWithoutMediaReportsError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionGenerate, ItemID: "missing"})
	readUntil(t, conn, isError(messages.ErrCodeMediaFailed))
}

func TestServer_VoiceCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(ws *workspace.Workspace) Voice { return &fakeVoice{ws: ws} })
	conn := h.dial(t)
	readUntil(t, conn, isStatus(messages.StatusConnected))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionVoiceStart})
	readUntil(t, conn, isStatus(messages.StatusListening))

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionVoiceStop})
	readUntil(t, conn, isStatus(messages.StatusNotListening))
}

func TestServer_VoiceUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)

	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionVoiceStart})
	readUntil(t, conn, isError(messages.ErrCodeVoiceFailed))

	failing := newHarness(t, func(ws *workspace.Workspace) Voice {
		return &fakeVoice{ws: ws, err: errors.New("no microphone")}
	})
	conn = failing.dial(t)
	send(t, conn, messages.TypeCommand, messages.CommandPayload{Action: messages.ActionVoiceStart})
	readUntil(t, conn, isError(messages.ErrCodeVoiceFailed))
}

func TestServer_LocationRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)
	readUntil(t, conn, isStatus(messages.StatusConnected))

	type result struct {
		loc workspace.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := h.srv.Location(context.Background())
		done <- result{loc, err}
	}()

	f := readUntil(t, conn, func(f frame) bool { return f.Type == messages.TypeLocationRequest })
	var req messages.LocationRequestPayload
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.RequestID == "" {
		t.Fatalf("location request = %s (%v)", f.Payload, err)
	}
	send(t, conn, messages.TypeLocation, messages.LocationPayload{RequestID: req.RequestID, Lat: 52.52, Lng: 13.405})

	select {
	case r := <-done:
		if r.err != nil || r.loc.Lat != 52.52 || r.loc.Lng != 13.405 {
			t.Errorf("Location = %+v, %v", r.loc, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("location never resolved")
	}
}

func TestServer_LocationFallbacks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if _, err := h.srv.Location(context.Background()); !errors.Is(err, ErrNoClients) {
		t.Errorf("no clients err = %v", err)
	}

	h.srv.config.DefaultLocation = &config.Location{Lat: 1, Lng: 2}
	loc, err := h.srv.Location(context.Background())
	if err != nil || loc.Lat != 1 || loc.Lng != 2 {
		t.Errorf("default location = %+v, %v", loc, err)
	}
}

func TestServer_LocationDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)
	readUntil(t, conn, isStatus(messages.StatusConnected))

	done := make(chan error, 1)
	go func() {
		_, err := h.srv.Location(context.Background())
		done <- err
	}()

	f := readUntil(t, conn, func(f frame) bool { return f.Type == messages.TypeLocationRequest })
	var req messages.LocationRequestPayload
	_ = json.Unmarshal(f.Payload, &req)
	send(t, conn, messages.TypeLocation, messages.LocationPayload{RequestID: req.RequestID, Error: "permission denied"})

	select {
	case err := <-done:
		if !errors.Is(err, ErrLocationDenied) {
			t.Errorf("err = %v; want ErrLocationDenied", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("location never resolved")
	}
}

func TestServer_LocationTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.srv.locationTimeout = 50 * time.Millisecond
	conn := h.dial(t)
	readUntil(t, conn, isStatus(messages.StatusConnected))

	if _, err := h.srv.Location(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v; want deadline exceeded", err)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	conn := h.dial(t)
	readUntil(t, conn, isStatus(messages.StatusConnected))

	resp, err := http.Get(h.http.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status    string `json:"status"`
		Clients   int    `json:"clients"`
		Listening bool   `json:"listening"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Clients != 1 || body.Listening {
		t.Errorf("health = %+v", body)
	}
}

func TestPlanRequest(t *testing.T) {
	t.Parallel()
	raw := base64.StdEncoding.EncodeToString([]byte("jpeg"))

	req, err := planRequest(&messages.CommandPayload{Topic: "  desk ", Image: raw})
	if err != nil || req.Topic != "desk" || req.ImageMIMEType != "image/jpeg" || string(req.Image) != "jpeg" {
		t.Errorf("plain base64 = %+v, %v", req, err)
	}

	req, err = planRequest(&messages.CommandPayload{Image: "data:image/webp;base64," + raw})
	if err != nil || req.ImageMIMEType != "image/webp" {
		t.Errorf("data URL = %+v, %v", req, err)
	}

	if _, err := planRequest(&messages.CommandPayload{Image: "data:image/png;base64"}); err == nil {
		t.Error("malformed data URL accepted")
	}
	if _, err := planRequest(&messages.CommandPayload{Image: "%%%"}); err == nil {
		t.Error("invalid base64 accepted")
	}
}
