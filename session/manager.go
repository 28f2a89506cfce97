package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/room4-2/PlanLive/audio"
)

// Manager owns the single active voice session.
type Manager struct {
	dialer    Dialer
	devices   audio.Devices
	chunkSize int
	presence  presenceTracker // a nil *Presence is a valid no-op

	mu      sync.Mutex // serialises Start and Stop
	current atomic.Pointer[Session]
}

// NewManager creates a session manager. presence may be nil.
func NewManager(dialer Dialer, devices audio.Devices, chunkSize int, presence *Presence) *Manager {
	return &Manager{
		dialer:    dialer,
		devices:   devices,
		chunkSize: chunkSize,
		presence:  presence,
	}
}

// Start tears down any existing session, then opens a new one. It returns
// once the connection handshake has been initiated.
func (m *Manager) Start(ctx context.Context, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.current.Load(); prev != nil {
		log.Printf("🔄 [%s] Replacing active session", prev.short())
		prev.Stop()
	}

	s, err := open(ctx, m.dialer, m.devices, m.chunkSize, opts, m.forget)
	if err != nil {
		return nil, err
	}
	m.current.Store(s)
	if !s.IsClosed() {
		m.presence.Store(ctx, s)
	}
	// A remote close may have torn it down before or during Store; forget
	// may then have run first.
	if s.IsClosed() {
		m.current.CompareAndSwap(s, nil)
		m.presence.Remove(context.Background(), s.ID)
	}
	return s, nil
}

// forget runs from Session teardown, possibly on the dispatch goroutine, so
// it must not take m.mu.
func (m *Manager) forget(s *Session) {
	m.current.CompareAndSwap(s, nil)
	m.presence.Remove(context.Background(), s.ID)
}

// Stop tears down the active session, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.current.Load(); s != nil {
		s.Stop()
	}
}

// Current returns the active session or nil.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// Active reports whether a session is open or opening.
func (m *Manager) Active() bool {
	s := m.current.Load()
	return s != nil && !s.IsClosed()
}

// StartHeartbeat refreshes the presence record of the active session until
// ctx is done.
func (m *Manager) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s := m.current.Load(); s != nil && !s.IsClosed() {
				m.presence.Touch(ctx, s)
			}
		}
	}
}

// Shutdown stops the active session and closes the presence store.
func (m *Manager) Shutdown() {
	m.Stop()
	if err := m.presence.Close(); err != nil {
		log.Printf("⚠️ Failed to close presence store: %v", err)
	}
}
