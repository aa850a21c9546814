package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Terminator separates messages on the byte stream. JSON string escaping
// guarantees an encoded message never contains this byte.
const Terminator = '\n'

// wireMessage is the JSON shape shared by all message types. Required fields
// are pointers so Decode can tell an absent field from a zero value; fields
// not belonging to the decoded type stay nil and unknown extra fields are
// ignored for forward compatibility.
type wireMessage struct {
	Type       string          `json:"type"`
	Timestamp  *float64        `json:"timestamp,omitempty"`
	X          *float64        `json:"x,omitempty"`
	Y          *float64        `json:"y,omitempty"`
	Button     *string         `json:"button,omitempty"`
	Pressed    *bool           `json:"pressed,omitempty"`
	DX         *int            `json:"dx,omitempty"`
	DY         *int            `json:"dy,omitempty"`
	ClientInfo *map[string]any `json:"client_info,omitempty"`
}

// Encode serializes a message into a single newline-terminated JSON record.
// Ratio coordinates are clamped into [0,1] before marshalling.
func Encode(msg Message) ([]byte, error) {
	w := wireMessage{
		Type:      string(msg.Type),
		Timestamp: &msg.Timestamp,
	}
	switch msg.Type {
	case TypeHandshake:
		info := msg.ClientInfo
		if info == nil {
			info = map[string]any{}
		}
		// The pointer keeps an empty info object on the wire; omitempty
		// would drop the field Decode requires.
		w.ClientInfo = &info
	case TypeMouseMove:
		x, y := clamp01(msg.X), clamp01(msg.Y)
		w.X, w.Y = &x, &y
	case TypeMouseClick:
		if _, err := ParseButton(string(msg.Button)); err != nil {
			return nil, fmt.Errorf("encode mouse_click: %w", err)
		}
		x, y := clamp01(msg.X), clamp01(msg.Y)
		button := string(msg.Button)
		w.X, w.Y = &x, &y
		w.Button = &button
		w.Pressed = &msg.Pressed
	case TypeMouseDelta, TypeMouseScroll:
		w.DX, w.DY = &msg.DX, &msg.DY
	case TypeDisconnect:
	default:
		return nil, fmt.Errorf("encode: unknown message type %q", msg.Type)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return append(b, Terminator), nil
}

// Decode parses a single record, with or without its terminator. It returns
// an error wrapping ErrMalformedMessage on invalid JSON, an unknown type, a
// missing required field, or an unknown button name. A decode failure is
// never fatal to the connection: the caller drops the record and continues.
func Decode(data []byte) (Message, error) {
	data = bytes.TrimRight(data, "\r\n")
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedMessage, err)
	}
	if w.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if w.Timestamp == nil {
		return Message{}, missingField(w.Type, "timestamp")
	}
	msg := Message{Type: Type(w.Type), Timestamp: *w.Timestamp}
	switch msg.Type {
	case TypeHandshake:
		if w.ClientInfo == nil {
			return Message{}, missingField(w.Type, "client_info")
		}
		msg.ClientInfo = *w.ClientInfo
	case TypeMouseMove:
		if w.X == nil || w.Y == nil {
			return Message{}, missingField(w.Type, "x/y")
		}
		msg.X, msg.Y = clamp01(*w.X), clamp01(*w.Y)
	case TypeMouseClick:
		if w.X == nil || w.Y == nil {
			return Message{}, missingField(w.Type, "x/y")
		}
		if w.Button == nil {
			return Message{}, missingField(w.Type, "button")
		}
		if w.Pressed == nil {
			return Message{}, missingField(w.Type, "pressed")
		}
		button, err := ParseButton(*w.Button)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.X, msg.Y = clamp01(*w.X), clamp01(*w.Y)
		msg.Button = button
		msg.Pressed = *w.Pressed
	case TypeMouseDelta, TypeMouseScroll:
		if w.DX == nil || w.DY == nil {
			return Message{}, missingField(w.Type, "dx/dy")
		}
		msg.DX, msg.DY = *w.DX, *w.DY
	case TypeDisconnect:
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, w.Type)
	}
	return msg, nil
}

func missingField(typ, field string) error {
	return fmt.Errorf("%w: %s: missing field %s", ErrMalformedMessage, typ, field)
}
