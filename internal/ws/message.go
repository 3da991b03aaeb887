package ws

import "encoding/json"

// MessageType is the "type" field of every presentation message.
type MessageType string

// Presentation client to terminal.
const (
	MessageTypeInput  MessageType = "input"
	MessageTypeKey    MessageType = "key"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"
)

// Terminal to presentation client.
const (
	MessageTypeOutput     MessageType = "output"
	MessageTypeHistory    MessageType = "history"
	MessageTypeState      MessageType = "state"
	MessageTypeActivities MessageType = "activities"
	MessageTypeStatus     MessageType = "status"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Message is one JSON document on the presentation stream. Data carries raw
// terminal bytes (base64 in JSON, so split runes and non-UTF-8 bytes survive);
// Payload carries a JSON snapshot.
type Message struct {
	Type    MessageType     `json:"type"`
	Data    []byte          `json:"data,omitempty"`
	Key     string          `json:"key,omitempty"`
	Rows    int             `json:"rows,omitempty"`
	Cols    int             `json:"cols,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func payloadMessage(typ MessageType, v any) (*Message, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: payload}, nil
}
