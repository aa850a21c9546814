package injectsvc

import (
	"github.com/go-vgo/robotgo"
	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// NewRobotgo returns the production Backend driving the local pointer
// through robotgo.
func NewRobotgo(log *zap.Logger) Backend {
	return &robotgoBackend{log: log}
}

type robotgoBackend struct {
	log *zap.Logger
}

func (b *robotgoBackend) SetPosition(x, y int) {
	robotgo.Move(x, y)
}

func (b *robotgoBackend) MoveRelative(dx, dy int) {
	x, y := robotgo.GetMousePos()
	robotgo.Move(x+dx, y+dy)
}

func (b *robotgoBackend) Press(button protocol.Button) {
	robotgo.Toggle(robotgoButton(button), "down")
}

func (b *robotgoBackend) Release(button protocol.Button) {
	robotgo.Toggle(robotgoButton(button), "up")
}

func (b *robotgoBackend) Scroll(dx, dy int) {
	robotgo.Scroll(dx, dy)
}

// robotgo names the middle button "center".
func robotgoButton(b protocol.Button) string {
	if b == protocol.ButtonMiddle {
		return "center"
	}
	return string(b)
}
