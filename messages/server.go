package messages

import "github.com/room4-2/PlanLive/workspace"

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"
	ErrCodePlanFailed     = "PLAN_FAILED"
	ErrCodeMediaFailed    = "MEDIA_FAILED"
	ErrCodeVoiceFailed    = "VOICE_FAILED"
	ErrCodeInvalidValue   = "INVALID_VALUE"
)

// Message types
const (
	TypeState           = "state"
	TypeStatus          = "status"
	TypeLocationRequest = "location_request"
	TypeError           = "error"
)

// Status values
const (
	StatusConnected    = "connected"
	StatusListening    = "listening"
	StatusNotListening = "not_listening"
	StatusPlanning     = "planning"
	StatusPong         = "pong"
)

// ServerMessage represents a message sent to the browser
type ServerMessage struct {
	Type     string      `json:"type"` // "state", "status", "location_request", "error"
	ClientID string      `json:"clientId,omitempty"`
	Payload  interface{} `json:"payload"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LocationRequestPayload asks the browser for its position.
type LocationRequestPayload struct {
	RequestID string `json:"requestId"`
}

// NewStateMessage creates a workspace snapshot message
func NewStateMessage(state workspace.State) *ServerMessage {
	return &ServerMessage{Type: TypeState, Payload: state}
}

// NewStatusMessage creates a status message
func NewStatusMessage(clientID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:     TypeStatus,
		ClientID: clientID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewLocationRequest creates a location request message
func NewLocationRequest(requestID string) *ServerMessage {
	return &ServerMessage{
		Type:    TypeLocationRequest,
		Payload: LocationRequestPayload{RequestID: requestID},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(clientID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:     TypeError,
		ClientID: clientID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// ListeningStatus maps the voice flag to a status value.
func ListeningStatus(listening bool) string {
	if listening {
		return StatusListening
	}
	return StatusNotListening
}
