package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/messages"
	"github.com/room4-2/PlanLive/workspace"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// Client is one connected browser.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage

	// Only the newest workspace state matters; it is coalesced here and
	// flagged on stateReady. version is the newest state accepted so far.
	state      *workspace.State
	stateReady chan struct{}
	hasState   bool
	version    uint64

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

func newClient(id string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:           id,
		Conn:         conn,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		stateReady:   make(chan struct{}, 1),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Client) short() string {
	if len(c.ID) < 8 {
		return c.ID
	}
	return c.ID[:8]
}

// writePump handles all outgoing messages in a single goroutine
func (c *Client) writePump() {
	defer func() {
		// Send close message before exiting
		c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.Conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-c.CloseChan:
			return
		case <-c.stateReady:
			c.mu.Lock()
			state := c.state
			c.state = nil
			c.mu.Unlock()
			if state == nil {
				continue
			}
			if err := c.write(messages.NewStateMessage(*state)); err != nil {
				return
			}
		case msg := <-c.writeChan:
			if err := c.write(msg); err != nil {
				return
			}

			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.writeChan:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					// No more messages, continue outer loop
				}
			}
		}
	}
}

func (c *Client) write(msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ [%s] Failed to encode %s message: %v", c.short(), msg.Type, err)
		return nil
	}
	c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (c *Client) queueMessage(msg *messages.ServerMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.writeChan <- msg:
	default:
		log.Printf("⚠️ [%s] Write queue full, dropping %s message", c.short(), msg.Type)
	}
}

// pushState replaces any unsent state with s. States no newer than one
// already accepted are dropped.
func (c *Client) pushState(s workspace.State) {
	c.mu.Lock()
	if c.closed || (c.hasState && s.Version <= c.version) {
		c.mu.Unlock()
		return
	}
	c.hasState = true
	c.version = s.Version
	c.state = &s
	c.mu.Unlock()

	select {
	case c.stateReady <- struct{}{}:
	default:
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// Close terminates the client and releases its connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	// Signal close (for other goroutines waiting on this)
	close(c.CloseChan)

	if c.Conn != nil {
		return c.Conn.Close()
	}
	return nil
}

// readLoop reads client frames until the connection drops.
func (c *Client) readLoop(handle func(*Client, *messages.ClientMessage)) {
	defer c.Close()

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ [%s] Read failed: %v", c.short(), err)
			}
			return
		}
		c.touch()

		if messageType != websocket.TextMessage {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Binary frames are not supported"))
			continue
		}

		var clientMsg messages.ClientMessage
		if err := sonic.Unmarshal(message, &clientMsg); err != nil {
			c.queueMessage(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		handle(c, &clientMsg)
	}
}
