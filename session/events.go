package session

import (
	"context"
	"errors"

	"github.com/room4-2/PlanLive/audio"
	"google.golang.org/genai"
)

var (
	// ErrConnection wraps transport-level failures.
	ErrConnection = errors.New("connection error")
	// ErrRemoteClosed is returned by Conn.Receive when the remote side closed the channel.
	ErrRemoteClosed = errors.New("connection closed by remote")
	// ErrClose wraps failures of the close handshake.
	ErrClose = errors.New("close failed")
)

// Event is one inbound occurrence on a Live connection.
type Event interface {
	isEvent()
}

// Opened reports that the remote side completed setup.
type Opened struct{}

// AudioChunk carries model speech.
type AudioChunk struct {
	Chunk audio.Chunk
}

// ToolCallBatch carries every function call of one inbound message.
type ToolCallBatch struct {
	Calls []*genai.FunctionCall
}

// Interrupted reports that the user barged in over the model's speech.
type Interrupted struct{}

// Closed reports that the connection is gone.
type Closed struct {
	Reason string
}

// Errored reports a failure on the connection.
type Errored struct {
	Err error
}

func (Opened) isEvent()        {}
func (AudioChunk) isEvent()    {}
func (ToolCallBatch) isEvent() {}
func (Interrupted) isEvent()   {}
func (Closed) isEvent()        {}
func (Errored) isEvent()       {}

// Setup is what a Dialer needs to open a connection.
type Setup struct {
	SystemInstruction string
	Tools             []*genai.Tool
}

// Conn is an open duplex connection to the Live service.
type Conn interface {
	// Receive blocks for the next inbound message and returns the events it
	// carries, in order. A remote close is reported as ErrRemoteClosed.
	Receive() ([]Event, error)
	// SendAudio forwards one encoded microphone chunk.
	SendAudio(chunk audio.Chunk) error
	// SendToolResponse sends one batched tool-response frame.
	SendToolResponse(responses []*genai.FunctionResponse) error
	// Close requests the connection be closed.
	Close() error
}

// Dialer opens Live connections.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Conn, error)
}
