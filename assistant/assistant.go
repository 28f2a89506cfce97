// Package assistant binds the live voice session to the planning workspace.
package assistant

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/room4-2/PlanLive/functions"
	"github.com/room4-2/PlanLive/session"
	"github.com/room4-2/PlanLive/workspace"
	"google.golang.org/genai"
)

// Assistant starts and stops voice sessions whose tool calls drive the
// workspace, and keeps the workspace Listening flag in step.
type Assistant struct {
	manager     *session.Manager
	ws          *workspace.Workspace
	tools       *workspace.Tools
	decls       []*genai.Tool
	instruction string

	mu sync.Mutex // serialises Start and Stop
}

// New creates an assistant using the default instruction and tool set.
func New(manager *session.Manager, ws *workspace.Workspace, tools *workspace.Tools) *Assistant {
	return &Assistant{
		manager:     manager,
		ws:          ws,
		tools:       tools,
		decls:       functions.Tools(),
		instruction: session.DefaultSystemInstruction,
	}
}

// run tracks one started session so its callbacks only ever act on it.
type run struct {
	session atomic.Pointer[session.Session]
	failed  atomic.Bool
}

// Start opens a new voice session, replacing any active one.
func (a *Assistant) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &run{}
	s, err := a.manager.Start(ctx, session.Options{
		SystemInstruction: a.instruction,
		Tools:             a.decls,
		OnToolCall:        a.tools.Dispatch,
		OnClose:           a.settle,
		OnError: func(err error) {
			log.Printf("❌ Voice session failed: %v", err)
			r.failed.Store(true)
			if s := r.session.Load(); s != nil {
				s.Stop()
			}
			a.settle()
		},
	})
	if err != nil {
		a.settle()
		return fmt.Errorf("failed to start voice session: %w", err)
	}
	r.session.Store(s)
	if r.failed.Load() {
		s.Stop()
	}
	a.settle()
	return nil
}

// Stop ends the active voice session.
func (a *Assistant) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.manager.Stop()
	a.settle()
}

// Active reports whether a voice session is running.
func (a *Assistant) Active() bool {
	return a.manager.Active()
}

// settle mirrors the manager state into the workspace. It runs from session
// callbacks and must not take a.mu.
func (a *Assistant) settle() {
	a.ws.SetListening(a.manager.Active())
}
