package capturesvc

import (
	"context"
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// uiohook wheel directions.
const (
	wheelVertical   = 3
	wheelHorizontal = 4
)

// HookBackend captures global input through gohook. Ready closes once the
// hook delivers its HookEnabled event, which is the only reliable signal
// that the OS actually granted the hook.
type HookBackend struct {
	log       *zap.Logger
	ready     chan struct{}
	readyOnce sync.Once
}

func NewHookBackend(log *zap.Logger) *HookBackend {
	return &HookBackend{
		log:   log,
		ready: make(chan struct{}),
	}
}

func (b *HookBackend) Ready() <-chan struct{} {
	return b.ready
}

func (b *HookBackend) Start(ctx context.Context, pub BackendPublisher) error {
	events := hook.Start()
	defer hook.End()
	b.log.Debug("Input hook starting")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("hook event channel closed")
			}
			b.handle(ctx, ev, pub)
		}
	}
}

func (b *HookBackend) handle(ctx context.Context, ev hook.Event, pub BackendPublisher) {
	switch ev.Kind {
	case hook.HookEnabled:
		b.readyOnce.Do(func() {
			close(b.ready)
		})
		b.log.Info("Input hook engaged")
	case hook.MouseMove, hook.MouseDrag:
		pub(ctx, Event{Class: ClassMove, X: int(ev.X), Y: int(ev.Y)})
	case hook.MouseDown, hook.MouseUp:
		button, ok := hookButton(ev.Button)
		if !ok {
			return
		}
		pub(ctx, Event{
			Class:   ClassButton,
			X:       int(ev.X),
			Y:       int(ev.Y),
			Button:  button,
			Pressed: ev.Kind == hook.MouseDown,
		})
	case hook.MouseWheel:
		dx, dy := wheelSteps(ev)
		pub(ctx, Event{Class: ClassWheel, DX: dx, DY: dy})
	case hook.KeyDown:
		pub(ctx, Event{Class: ClassKey, Code: ev.Keycode, Pressed: true})
	case hook.KeyUp:
		pub(ctx, Event{Class: ClassKey, Code: ev.Keycode, Pressed: false})
	}
}

// uiohook button order: 1 left, 2 middle, 3 right. Extra buttons are not part
// of the wire protocol and are ignored.
func hookButton(n uint16) (protocol.Button, bool) {
	switch n {
	case 1:
		return protocol.ButtonLeft, true
	case 2:
		return protocol.ButtonMiddle, true
	case 3:
		return protocol.ButtonRight, true
	default:
		return "", false
	}
}

func wheelSteps(ev hook.Event) (int, int) {
	steps := int(ev.Rotation)
	if ev.Direction == wheelHorizontal {
		return steps, 0
	}
	return 0, steps
}
