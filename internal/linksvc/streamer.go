package linksvc

import (
	"sync"
	"time"

	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// SendFunc writes one message to the active session.
type SendFunc func(protocol.Message) error

const defaultSendInterval = 8 * time.Millisecond

// Streamer converts captured input into resolution-independent wire messages
// while armed. Position samples are rate-limited and deduplicated; clicks and
// wheel steps are forwarded immediately and never reordered relative to the
// moves that preceded them. All handlers are driven from a single event
// goroutine, so sends stay in temporal order.
type Streamer struct {
	log    *zap.Logger
	send   SendFunc
	width  int
	height int

	minInterval time.Duration
	now         func() time.Time

	mu         sync.Mutex
	armed      bool
	lastSentAt time.Time
	lastX      int
	lastY      int
}

type StreamerOption func(*Streamer)

// WithSendInterval sets the minimum spacing between consecutive move
// messages.
func WithSendInterval(d time.Duration) StreamerOption {
	return func(s *Streamer) {
		s.minInterval = d
	}
}

func WithStreamerClock(now func() time.Time) StreamerOption {
	return func(s *Streamer) {
		s.now = now
	}
}

func NewStreamer(log *zap.Logger, send SendFunc, width, height int, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		log:         log,
		send:        send,
		width:       width,
		height:      height,
		minInterval: defaultSendInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm starts streaming and emits the entry position immediately, so the peer
// pointer lands where the trigger fired.
func (s *Streamer) Arm(x, y int) {
	s.mu.Lock()
	s.armed = true
	s.lastX, s.lastY = x, y
	s.lastSentAt = s.now()
	msg := protocol.NewMouseMove(s.ratioX(x), s.ratioY(y))
	s.mu.Unlock()

	_ = s.send(msg)
	s.log.Debug("Streamer armed", zap.Int("x", x), zap.Int("y", y))
}

// Disarm stops streaming. Events arriving afterwards are ignored.
func (s *Streamer) Disarm() {
	s.mu.Lock()
	s.armed = false
	s.mu.Unlock()
}

func (s *Streamer) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// HandleMove emits a move message when the position changed since the last
// emission and the send interval has elapsed. Skipped samples are not queued;
// the next allowed sample carries the freshest position anyway.
func (s *Streamer) HandleMove(x, y int) {
	s.mu.Lock()
	if !s.armed || (x == s.lastX && y == s.lastY) {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if now.Sub(s.lastSentAt) < s.minInterval {
		s.mu.Unlock()
		return
	}
	s.lastX, s.lastY = x, y
	s.lastSentAt = now
	msg := protocol.NewMouseMove(s.ratioX(x), s.ratioY(y))
	s.mu.Unlock()

	// Send outside the lock: a blocked write must not stall Disarm.
	_ = s.send(msg)
}

// HandleButton forwards a press or release at the given position. Clicks are
// never throttled.
func (s *Streamer) HandleButton(x, y int, button protocol.Button, pressed bool) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return
	}
	s.lastX, s.lastY = x, y
	msg := protocol.NewMouseClick(s.ratioX(x), s.ratioY(y), button, pressed)
	s.mu.Unlock()

	_ = s.send(msg)
}

// HandleWheel forwards scroll steps. Wheel events are never throttled.
func (s *Streamer) HandleWheel(dx, dy int) {
	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return
	}
	msg := protocol.NewMouseScroll(dx, dy)
	s.mu.Unlock()

	_ = s.send(msg)
}

func (s *Streamer) ratioX(x int) float64 {
	return float64(x) / float64(s.width)
}

func (s *Streamer) ratioY(y int) float64 {
	return float64(y) / float64(s.height)
}
