package realtime

import (
	"encoding/json"
)

// Event names
const (
	EventInitialState = "initial_state"
	EventToggle       = "toggle"
	EventError        = "error"
	EventHeartbeat    = "heartbeat"
)

// Message is one outbound event. Data is encoded once and shared by every
// client the message is queued for.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage encodes payload as the data of an event
func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: data}, nil
}

// inboundMessage is a frame sent by a WebSocket client
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ToggleEvent sets or clears one line item's completion flag. Completed is a
// pointer so that a missing field is distinguishable from false.
type ToggleEvent struct {
	OrderID   string `json:"order_id" validate:"required"`
	ItemID    string `json:"item_id" validate:"required"`
	Completed *bool  `json:"completed" validate:"required"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Message string `json:"message"`
}

// HeartbeatPayload is the data of a heartbeat event
type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}
