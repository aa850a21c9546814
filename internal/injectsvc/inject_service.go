// Package injectsvc applies remote input events to the local desktop.
package injectsvc

import (
	"sync"

	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// Backend is the local input-injection capability. Operations do not return
// errors: the underlying OS calls are fire-and-forget, and an unavailable
// backend is replaced by the noop implementation instead of failing calls.
type Backend interface {
	SetPosition(x, y int)
	MoveRelative(dx, dy int)
	Press(button protocol.Button)
	Release(button protocol.Button)
	Scroll(dx, dy int)
}

// NewNoop returns a Backend that drops every operation. Each operation kind
// warns once and then traces at debug level, so a dispatcher without a usable
// desktop keeps running without flooding the log.
func NewNoop(log *zap.Logger) Backend {
	return &noopBackend{log: log, warned: map[string]struct{}{}}
}

type noopBackend struct {
	log    *zap.Logger
	mu     sync.Mutex
	warned map[string]struct{}
}

func (b *noopBackend) drop(op string, fields ...zap.Field) {
	b.mu.Lock()
	_, seen := b.warned[op]
	if !seen {
		b.warned[op] = struct{}{}
	}
	b.mu.Unlock()
	if !seen {
		b.log.Warn("Input injection unavailable, dropping events", zap.String("op", op))
		return
	}
	b.log.Debug("Dropped injection op", append([]zap.Field{zap.String("op", op)}, fields...)...)
}

func (b *noopBackend) SetPosition(x, y int) {
	b.drop("move", zap.Int("x", x), zap.Int("y", y))
}

func (b *noopBackend) MoveRelative(dx, dy int) {
	b.drop("move_relative", zap.Int("dx", dx), zap.Int("dy", dy))
}

func (b *noopBackend) Press(button protocol.Button) {
	b.drop("press", zap.String("button", string(button)))
}

func (b *noopBackend) Release(button protocol.Button) {
	b.drop("release", zap.String("button", string(button)))
}

func (b *noopBackend) Scroll(dx, dy int) {
	b.drop("scroll", zap.Int("dx", dx), zap.Int("dy", dy))
}
