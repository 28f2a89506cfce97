package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/config"
	"github.com/room4-2/PlanLive/messages"
	"github.com/room4-2/PlanLive/workspace"
)

var (
	ErrNoClients      = errors.New("no browser connected")
	ErrLocationDenied = errors.New("location denied by browser")
)

const defaultLocationTimeout = 15 * time.Second

// Voice starts and stops the live voice session.
type Voice interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	config     *config.Config
	ws         *workspace.Workspace
	tools      *workspace.Tools
	voice      Voice

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	listening   atomic.Bool

	mu      sync.RWMutex
	clients map[string]*Client

	locMu           sync.Mutex
	pending         map[string]chan messages.LocationPayload
	locationTimeout time.Duration
}

// NewServerWebsocket creates the browser server. voice may be nil when no
// audio devices are available.
func NewServerWebsocket(cfg *config.Config, ws *workspace.Workspace, tools *workspace.Tools, voice Voice) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:          cfg,
		ws:              ws,
		tools:           tools,
		voice:           voice,
		ctx:             ctx,
		cancel:          cancel,
		clients:         make(map[string]*Client),
		pending:         make(map[string]chan messages.LocationPayload),
		locationTimeout: defaultLocationTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for reference images
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	s.listening.Store(ws.Listening())
	s.unsubscribe = ws.Subscribe(s.broadcastState)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 WebSocket server starting on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	s.unsubscribe()
	s.cancel()
	for _, c := range s.snapshotClients() {
		c.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// ClientCount returns the number of connected browsers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) snapshotClients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(uuid.New().String(), conn)
	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()
	log.Printf("✅ [%s] Browser connected", c.short())

	go c.writePump()
	c.queueMessage(messages.NewStatusMessage(c.ID, messages.StatusConnected, "Workspace attached"))
	c.queueMessage(messages.NewStatusMessage(c.ID, messages.ListeningStatus(s.ws.Listening()), ""))
	c.pushState(s.ws.Snapshot())

	c.readLoop(s.handleClientMessage)

	// Clean up
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	log.Printf("🔌 [%s] Browser disconnected", c.short())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	listening := s.voice != nil && s.voice.Active()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","clients":%d,"listening":%t}`, s.ClientCount(), listening)
}

// broadcastState runs on the mutating goroutine, so it only hands the
// state to each client's pump.
func (s *Server) broadcastState(state workspace.State) {
	clients := s.snapshotClients()
	for _, c := range clients {
		c.pushState(state)
	}
	if s.listening.Swap(state.Listening) != state.Listening {
		msg := messages.NewStatusMessage("", messages.ListeningStatus(state.Listening), "")
		for _, c := range clients {
			c.queueMessage(msg)
		}
	}
}

func (s *Server) handleClientMessage(c *Client, msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeCommand:
		var cmd messages.CommandPayload
		if err := sonic.Unmarshal(msg.Payload, &cmd); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid command payload"))
			return
		}
		s.handleCommand(c, &cmd)

	case messages.TypeLocation:
		var loc messages.LocationPayload
		if err := sonic.Unmarshal(msg.Payload, &loc); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid location payload"))
			return
		}
		s.resolveLocation(loc)

	default:
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (s *Server) handleCommand(c *Client, cmd *messages.CommandPayload) {
	switch cmd.Action {
	case messages.ActionPing:
		c.queueMessage(messages.NewStatusMessage(c.ID, messages.StatusPong, ""))

	case messages.ActionPlan:
		req, err := planRequest(cmd)
		if err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidValue, err.Error()))
			return
		}
		c.queueMessage(messages.NewStatusMessage(c.ID, messages.StatusPlanning, cmd.Topic))
		// Planning outlives a single command frame; it is bound to the server.
		go func() {
			if _, err := s.tools.Plan(s.ctx, req); err != nil {
				log.Printf("❌ [%s] Planning failed: %v", c.short(), err)
				c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodePlanFailed, err.Error()))
			}
		}()

	case messages.ActionVoiceStart:
		if s.voice == nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeVoiceFailed, "Voice is not available on this server"))
			return
		}
		if err := s.voice.Start(s.ctx); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeVoiceFailed, err.Error()))
		}

	case messages.ActionVoiceStop:
		if s.voice != nil {
			s.voice.Stop()
		}

	case messages.ActionGenerate:
		media := workspace.MediaKind(cmd.Media)
		if media == "" {
			media = workspace.MediaImage
		}
		if err := s.tools.Generate(cmd.ItemID, media); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, errorCode(err, messages.ErrCodeMediaFailed), err.Error()))
		}

	case messages.ActionSelect:
		if cmd.Mode != "" && cmd.Mode != "select" && cmd.Mode != "deselect" {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidValue, "mode must be select or deselect"))
			return
		}
		if _, err := s.ws.Select(cmd.Criteria, cmd.Mode != "deselect"); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, errorCode(err, messages.ErrCodeInvalidValue), err.Error()))
		}

	case messages.ActionTheme:
		if err := s.ws.SetTheme(workspace.Theme(cmd.Theme)); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidValue, err.Error()))
		}

	case messages.ActionStyle:
		style, err := workspace.ParseStyle(cmd.Style)
		if err == nil {
			err = s.ws.SetStyle(style)
		}
		if err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidValue, err.Error()))
		}

	default:
		c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeUnknownAction, "Unknown action: "+cmd.Action))
	}
}

func errorCode(err error, fallback string) string {
	if errors.Is(err, workspace.ErrInvalidValue) || errors.Is(err, workspace.ErrItemNotFound) {
		return messages.ErrCodeInvalidValue
	}
	return fallback
}

// planRequest decodes the optional reference image, which may arrive as a
// data: URL.
func planRequest(cmd *messages.CommandPayload) (workspace.PlanRequest, error) {
	req := workspace.PlanRequest{Topic: strings.TrimSpace(cmd.Topic), ImageMIMEType: cmd.ImageMIMEType}
	if cmd.Image == "" {
		return req, nil
	}

	data := cmd.Image
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return req, errors.New("malformed data URL")
		}
		if mime, _, _ := strings.Cut(header, ";"); mime != "" && req.ImageMIMEType == "" {
			req.ImageMIMEType = mime
		}
		data = payload
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return req, fmt.Errorf("invalid base64 image: %w", err)
	}
	if req.ImageMIMEType == "" {
		req.ImageMIMEType = "image/jpeg"
	}
	req.Image = img
	return req, nil
}

// Location asks the connected browsers for their position and returns the
// first answer. Without an answer the configured default is used.
func (s *Server) Location(ctx context.Context) (workspace.Location, error) {
	fallback := func(err error) (workspace.Location, error) {
		if d := s.config.DefaultLocation; d != nil {
			log.Printf("📍 Using default location: %v", err)
			return workspace.Location{Lat: d.Lat, Lng: d.Lng}, nil
		}
		return workspace.Location{}, err
	}

	clients := s.snapshotClients()
	if len(clients) == 0 {
		return fallback(ErrNoClients)
	}

	id := uuid.New().String()
	reply := make(chan messages.LocationPayload, 1)
	s.locMu.Lock()
	s.pending[id] = reply
	s.locMu.Unlock()
	defer func() {
		s.locMu.Lock()
		delete(s.pending, id)
		s.locMu.Unlock()
	}()

	req := messages.NewLocationRequest(id)
	for _, c := range clients {
		c.queueMessage(req)
	}

	ctx, cancel := context.WithTimeout(ctx, s.locationTimeout)
	defer cancel()

	select {
	case loc := <-reply:
		if loc.Error != "" {
			return fallback(fmt.Errorf("%w: %s", ErrLocationDenied, loc.Error))
		}
		return workspace.Location{Lat: loc.Lat, Lng: loc.Lng}, nil
	case <-ctx.Done():
		return fallback(fmt.Errorf("location request timed out: %w", ctx.Err()))
	}
}

func (s *Server) resolveLocation(loc messages.LocationPayload) {
	s.locMu.Lock()
	reply, ok := s.pending[loc.RequestID]
	if ok {
		delete(s.pending, loc.RequestID)
	}
	s.locMu.Unlock()

	if !ok {
		return
	}
	select {
	case reply <- loc:
	default:
	}
}
