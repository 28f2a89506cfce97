package gemini

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/room4-2/PlanLive/audio"
	"github.com/room4-2/PlanLive/session"
	"google.golang.org/genai"
)

func TestTranslate(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x00, 0x40, 0x00, 0xc0}
	msg := &genai.LiveServerMessage{
		SetupComplete: &genai.LiveServerSetupComplete{},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "1", Name: "generate_image", Args: map[string]any{"targetName": "frame"}},
		}},
		ServerContent: &genai.LiveServerContent{
			Interrupted: true,
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{Text: "ignored"},
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: pcm}},
			}},
		},
	}

	events := Translate(msg)
	if len(events) != 4 {
		t.Fatalf("events = %d (%#v); want 4", len(events), events)
	}
	if _, ok := events[0].(session.Opened); !ok {
		t.Errorf("events[0] = %T; want Opened", events[0])
	}
	batch, ok := events[1].(session.ToolCallBatch)
	if !ok || len(batch.Calls) != 1 || batch.Calls[0].ID != "1" {
		t.Errorf("events[1] = %#v", events[1])
	}
	if _, ok := events[2].(session.Interrupted); !ok {
		t.Errorf("events[2] = %T; want Interrupted", events[2])
	}
	chunk, ok := events[3].(session.AudioChunk)
	if !ok {
		t.Fatalf("events[3] = %T; want AudioChunk", events[3])
	}
	buf, err := audio.Decode(chunk.Chunk, audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(buf.Samples) != 2 || buf.Samples[0] != 0.5 || buf.Samples[1] != -0.5 {
		t.Errorf("samples = %v; want [0.5 -0.5]", buf.Samples)
	}
}

func TestTranslate_Empty(t *testing.T) {
	t.Parallel()
	if got := Translate(nil); got != nil {
		t.Errorf("Translate(nil) = %v", got)
	}
	if got := Translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}); len(got) != 0 {
		t.Errorf("turn complete produced %v", got)
	}
}

func TestReceiveError(t *testing.T) {
	t.Parallel()
	closed := receiveError(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"})
	if !errors.Is(closed, session.ErrRemoteClosed) {
		t.Errorf("close error = %v; want ErrRemoteClosed", closed)
	}
	other := errors.New("read tcp: connection reset")
	if got := receiveError(other); got != other || errors.Is(got, session.ErrRemoteClosed) {
		t.Errorf("other error = %v", got)
	}
}

func TestLiveConfig(t *testing.T) {
	t.Parallel()
	d := NewDialer(nil, "models/test", "Zephyr")
	tools := []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{Name: "x"}}}}
	cfg := d.LiveConfig(session.Setup{SystemInstruction: "hello", Tools: tools})

	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "hello" {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Error("voice not set")
	}
	if len(cfg.Tools) != 1 {
		t.Errorf("tools = %v", cfg.Tools)
	}
}

func TestLiveConn_ClosedRejectsSends(t *testing.T) {
	t.Parallel()
	c := &liveConn{}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.SendAudio(audio.Encode([]float32{0})); err == nil {
		t.Error("SendAudio on closed connection succeeded")
	}
	if err := c.SendToolResponse(nil); err == nil {
		t.Error("SendToolResponse on closed connection succeeded")
	}
}
