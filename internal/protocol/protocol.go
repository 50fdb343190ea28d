// Package protocol defines the typed envelopes exchanged with the agent
// backend over the duplex channel. Every frame is a flat JSON object with a
// "type" discriminator; unused fields are omitted.
package protocol

import (
	"encoding/json"
	"fmt"

	"canvassync/internal/canvas"
)

// Type is the envelope discriminator.
type Type string

// Outbound envelope types (client → backend).
const (
	TypeCanvasText   Type = "canvas_text"
	TypeCanvasIdle   Type = "canvas_idle"
	TypeChatMessage  Type = "chat_message"
	TypeSessionStart Type = "session_start"
	TypeSessionEnd   Type = "session_end"
)

// Inbound envelope types (backend → client).
const (
	TypeChatResponse Type = "chat_response"
	TypeMilestone    Type = "milestone"
	TypeError        Type = "error"
	TypeStateUpdate  Type = "state_update"
)

// Action is a structured action a chat response may carry, passed through to
// the UI untouched.
type Action struct {
	Kind  string          `json:"kind"`
	Label string          `json:"label,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is a single frame on the channel.
type Envelope struct {
	Type Type `json:"type"`

	// canvas_text
	Text     string           `json:"text,omitempty"`
	Position *canvas.Position `json:"position,omitempty"`
	ItemID   string           `json:"item_id,omitempty"`

	// canvas_idle
	DurationMs int64 `json:"duration_ms,omitempty"`

	// chat_message / chat_response
	Content string   `json:"content,omitempty"`
	Actions []Action `json:"actions,omitempty"`

	// session_start
	Domain string `json:"domain,omitempty"`
	GoalID string `json:"goal_id,omitempty"`

	// milestone
	Title string `json:"title,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// state_update
	CurrentState string `json:"current_state,omitempty"`
}

// CanvasText builds a canvas text-update frame.
func CanvasText(text string, pos canvas.Position, itemID string) Envelope {
	return Envelope{Type: TypeCanvasText, Text: text, Position: &pos, ItemID: itemID}
}

// CanvasIdle builds an idle-nudge frame.
func CanvasIdle(durationMs int64) Envelope {
	return Envelope{Type: TypeCanvasIdle, DurationMs: durationMs}
}

// ChatMessage builds a user chat frame.
func ChatMessage(content string) Envelope {
	return Envelope{Type: TypeChatMessage, Content: content}
}

// SessionStart builds a session open frame.
func SessionStart(domain, goalID string) Envelope {
	return Envelope{Type: TypeSessionStart, Domain: domain, GoalID: goalID}
}

// SessionEnd builds a session close frame.
func SessionEnd() Envelope {
	return Envelope{Type: TypeSessionEnd}
}

// Encode marshals an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("protocol: envelope has no type")
	}
	return json.Marshal(e)
}

// Decode unmarshals a wire frame, requiring a known type field.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: frame missing type")
	}
	return e, nil
}
