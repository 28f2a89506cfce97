package messages

import "encoding/json"

// Client message types
const (
	TypeCommand  = "command"
	TypeLocation = "location"
)

// Command actions
const (
	ActionPlan       = "plan"
	ActionVoiceStart = "voice_start"
	ActionVoiceStop  = "voice_stop"
	ActionGenerate   = "generate"
	ActionSelect     = "select"
	ActionTheme      = "theme"
	ActionStyle      = "style"
	ActionPing       = "ping"
)

// ClientMessage represents a message from the browser
type ClientMessage struct {
	Type    string          `json:"type"` // "command", "location"
	Payload json.RawMessage `json:"payload"`
}

// CommandPayload carries a UI command. Only the fields of the given action
// are set.
type CommandPayload struct {
	Action string `json:"action"`

	// plan
	Topic         string `json:"topic,omitempty"`
	Image         string `json:"image,omitempty"` // base64, optionally a data: URL
	ImageMIMEType string `json:"imageMimeType,omitempty"`

	// generate
	ItemID string `json:"itemId,omitempty"`
	Media  string `json:"media,omitempty"` // "image", "blueprint", "video"

	// select
	Criteria string `json:"criteria,omitempty"`
	Mode     string `json:"mode,omitempty"` // "select", "deselect"

	Theme string `json:"theme,omitempty"`
	Style string `json:"style,omitempty"`
}

// LocationPayload answers a location_request.
type LocationPayload struct {
	RequestID string  `json:"requestId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Error     string  `json:"error,omitempty"` // e.g. permission denied
}
