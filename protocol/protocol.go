// Package protocol defines the wire messages exchanged between a zedlink
// client and server. Every message is a single JSON object terminated by a
// newline byte; all messages carry a type discriminator and a timestamp in
// float seconds since the Unix epoch.
package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Type discriminates wire messages.
type Type string

const (
	TypeHandshake   Type = "handshake"
	TypeMouseMove   Type = "mouse_move"
	TypeMouseClick  Type = "mouse_click"
	TypeMouseDelta  Type = "mouse_delta"
	TypeMouseScroll Type = "mouse_scroll"
	TypeDisconnect  Type = "disconnect"
)

// ErrMalformedMessage is returned by Decode for records that cannot be turned
// into a valid Message. Callers drop the offending record and keep the
// connection alive.
var ErrMalformedMessage = errors.New("malformed message")

// Button is a closed enum of mouse buttons carried by mouse_click messages.
// Unknown button names are rejected at decode time.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

func ParseButton(s string) (Button, error) {
	switch Button(s) {
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return Button(s), nil
	default:
		return "", fmt.Errorf("unknown button %q", s)
	}
}

// Message is the tagged union of all wire messages. Type selects which fields
// are meaningful:
//
//	handshake    ClientInfo
//	mouse_move   X, Y (ratios in [0,1])
//	mouse_click  X, Y, Button, Pressed
//	mouse_delta  DX, DY (pixels)
//	mouse_scroll DX, DY (wheel steps)
//	disconnect   no payload
type Message struct {
	Type      Type
	Timestamp float64

	X float64
	Y float64

	Button  Button
	Pressed bool

	DX int
	DY int

	ClientInfo map[string]any
}

// Now returns the current time in wire timestamp format.
func Now() float64 {
	return Seconds(time.Now())
}

func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func NewHandshake(info map[string]any) Message {
	return Message{Type: TypeHandshake, ClientInfo: info, Timestamp: Now()}
}

func NewMouseMove(x, y float64) Message {
	return Message{Type: TypeMouseMove, X: clamp01(x), Y: clamp01(y), Timestamp: Now()}
}

func NewMouseClick(x, y float64, button Button, pressed bool) Message {
	return Message{
		Type:      TypeMouseClick,
		X:         clamp01(x),
		Y:         clamp01(y),
		Button:    button,
		Pressed:   pressed,
		Timestamp: Now(),
	}
}

func NewMouseDelta(dx, dy int) Message {
	return Message{Type: TypeMouseDelta, DX: dx, DY: dy, Timestamp: Now()}
}

func NewMouseScroll(dx, dy int) Message {
	return Message{Type: TypeMouseScroll, DX: dx, DY: dy, Timestamp: Now()}
}

func NewDisconnect() Message {
	return Message{Type: TypeDisconnect, Timestamp: Now()}
}

// clamp01 keeps ratio coordinates inside [0,1]. Applied on encode and again
// on decode: wire values are never trusted to be in range.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
