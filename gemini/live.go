package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/audio"
	"github.com/room4-2/PlanLive/session"
	"google.golang.org/genai"
)

// Dialer opens Gemini Live sessions.
type Dialer struct {
	client *genai.Client
	model  string
	voice  string
}

// NewDialer creates a Live dialer. voice is a prebuilt voice name such as
// Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus or Zephyr.
func NewDialer(client *genai.Client, model, voice string) *Dialer {
	return &Dialer{client: client, model: model, voice: voice}
}

// LiveConfig builds the connect config for a session setup.
func (d *Dialer) LiveConfig(setup session.Setup) *genai.LiveConnectConfig {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Tools:              setup.Tools,
	}
	if setup.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: setup.SystemInstruction}},
		}
	}
	if d.voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.voice},
			},
		}
	}
	return config
}

// Dial connects to the Live API.
func (d *Dialer) Dial(ctx context.Context, setup session.Setup) (session.Conn, error) {
	sess, err := d.client.Live.Connect(ctx, d.model, d.LiveConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	log.Printf("✅ Connected to Gemini Live (%s)", d.model)
	return &liveConn{sess: sess}, nil
}

// liveConn adapts a genai Live session to session.Conn.
type liveConn struct {
	sess *genai.Session

	mu     sync.RWMutex
	closed bool
}

func (c *liveConn) Receive() ([]session.Event, error) {
	msg, err := c.sess.Receive()
	if err != nil {
		return nil, receiveError(err)
	}
	return Translate(msg), nil
}

// receiveError maps a websocket close to session.ErrRemoteClosed.
func receiveError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %d %s", session.ErrRemoteClosed, ce.Code, ce.Text)
	}
	return err
}

// Translate splits one Live server message into session events, in the
// order they must be applied.
func Translate(msg *genai.LiveServerMessage) []session.Event {
	if msg == nil {
		return nil
	}
	var events []session.Event

	if msg.SetupComplete != nil {
		events = append(events, session.Opened{})
	}

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		log.Printf("📥 Received from Gemini: %d function call(s)", len(msg.ToolCall.FunctionCalls))
		events = append(events, session.ToolCallBatch{Calls: msg.ToolCall.FunctionCalls})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, session.Interrupted{})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				events = append(events, session.AudioChunk{Chunk: audio.Chunk{
					MIMEType: part.InlineData.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(part.InlineData.Data),
				}})
			}
		}
	}

	if msg.GoAway != nil {
		log.Println("⚠️ Gemini Live announced disconnect (go away)")
	}
	return events
}

func (c *liveConn) session() (*genai.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.sess == nil {
		return nil, fmt.Errorf("connection is closed")
	}
	return c.sess, nil
}

func (c *liveConn) SendAudio(chunk audio.Chunk) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("invalid base64: %w", err)
	}
	mime := chunk.MIMEType
	if mime == "" {
		mime = audio.InputMIMEType
	}
	if err := sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{MIMEType: mime, Data: data},
	}); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (c *liveConn) SendToolResponse(responses []*genai.FunctionResponse) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	if err := sess.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	}); err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}
	log.Printf("📤 Sent %d tool response(s) to Gemini", len(responses))
	return nil
}

// Close terminates the Live connection. Repeated calls are no-ops.
func (c *liveConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.sess != nil {
		return c.sess.Close()
	}
	return nil
}
