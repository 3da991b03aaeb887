// Package frame encodes and decodes the ttyd wire protocol: one opcode byte
// followed by the payload, with message boundaries supplied by the WebSocket.
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/FL-Penly/mobile-terminal/internal/model"
)

// Opcode is the first byte of every frame. The same byte means different things
// depending on direction.
type Opcode byte

const (
	// Client -> server
	OpInput  Opcode = '0'
	OpResize Opcode = '1'
	OpPause  Opcode = '2'
	OpResume Opcode = '3'

	// Server -> client
	OpOutput      Opcode = '0'
	OpTitle       Opcode = '1'
	OpPreferences Opcode = '2'
)

// ErrUnknownOpcode is returned for inbound frames with an opcode the client does
// not understand.
var ErrUnknownOpcode = fmt.Errorf("%w: unknown opcode", model.ErrProtocol)

// Frame is one decoded unit of the protocol. Payload aliases the message it was
// decoded from.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// Dimensions is the JSON body of the init handshake and of resize frames.
type Dimensions struct {
	AuthToken string `json:"AuthToken"`
	Columns   int    `json:"columns"`
	Rows      int    `json:"rows"`
}

// Encode builds [op][payload].
func Encode(op Opcode, payload []byte) []byte {
	buf := make([]byte, len(payload)+1)
	buf[0] = byte(op)
	copy(buf[1:], payload)
	return buf
}

// Decode splits a message into opcode and payload without interpreting the
// opcode. ok is false for an empty message, which callers ignore.
func Decode(msg []byte) (f Frame, ok bool) {
	if len(msg) == 0 {
		return Frame{}, false
	}
	return Frame{Op: Opcode(msg[0]), Payload: msg[1:]}, true
}

// DecodeServer decodes a server -> client message and rejects opcodes the
// server is not expected to send.
func DecodeServer(msg []byte) (Frame, bool, error) {
	f, ok := Decode(msg)
	if !ok {
		return Frame{}, false, nil
	}
	switch f.Op {
	case OpOutput, OpTitle, OpPreferences:
		return f, true, nil
	default:
		return Frame{}, false, fmt.Errorf("%w 0x%02x", ErrUnknownOpcode, byte(f.Op))
	}
}

// Input encodes keystroke bytes.
func Input(data []byte) []byte {
	return Encode(OpInput, data)
}

// Pause asks the server to stop reading process output.
func Pause() []byte {
	return []byte{byte(OpPause)}
}

// Resume asks the server to continue reading process output.
func Resume() []byte {
	return []byte{byte(OpResume)}
}

// Resize encodes a window size change.
func Resize(token string, cols, rows int) ([]byte, error) {
	body, err := json.Marshal(Dimensions{AuthToken: token, Columns: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resize: %w", err)
	}
	return Encode(OpResize, body), nil
}

// Init encodes the handshake sent right after the socket opens. ttyd expects the
// first message to be the bare JSON object, without an opcode.
func Init(token string, cols, rows int) ([]byte, error) {
	body, err := json.Marshal(Dimensions{AuthToken: token, Columns: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal init: %w", err)
	}
	return body, nil
}

// ParseDimensions decodes a resize or init body.
func ParseDimensions(body []byte) (Dimensions, error) {
	var d Dimensions
	if err := json.Unmarshal(body, &d); err != nil {
		return Dimensions{}, fmt.Errorf("%w: malformed dimensions: %v", model.ErrProtocol, err)
	}
	if d.Columns <= 0 || d.Rows <= 0 {
		return Dimensions{}, fmt.Errorf("%w: invalid dimensions %dx%d", model.ErrProtocol, d.Columns, d.Rows)
	}
	return d, nil
}
