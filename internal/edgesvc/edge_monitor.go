// Package edgesvc watches pointer samples for dwell at a configured screen
// edge and fires a trigger when the pointer has stayed inside the threshold
// band for the trigger delay. Two clocks drive it: position samples update
// the edge state, a periodic tick checks the dwell, so the delay boundary is
// not missed while the pointer sits still.
package edgesvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Edge is the screen boundary that arms the mode transition.
type Edge uint8

const (
	EdgeTop Edge = iota
	EdgeBottom
	EdgeLeft
	EdgeRight
)

func (e Edge) String() string {
	switch e {
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	}
	return fmt.Sprintf("edge(%d)", uint8(e))
}

func ParseEdge(s string) (Edge, error) {
	switch s {
	case "top":
		return EdgeTop, nil
	case "bottom":
		return EdgeBottom, nil
	case "left":
		return EdgeLeft, nil
	case "right":
		return EdgeRight, nil
	default:
		return EdgeRight, fmt.Errorf("unknown trigger edge %q", s)
	}
}

// Config carries the monitor's tunable parameters. Values are assumed to be
// normalized already (see the config package ranges).
type Config struct {
	Edge      Edge
	Delay     time.Duration
	Threshold int
}

var defaultOptions = monitorOptions{
	now:  time.Now,
	tick: 10 * time.Millisecond,
}

type monitorOptions struct {
	now  func() time.Time
	tick time.Duration
}

type Option func(*monitorOptions)

func WithClock(now func() time.Time) Option {
	return func(o *monitorOptions) {
		o.now = now
	}
}

func WithTick(d time.Duration) Option {
	return func(o *monitorOptions) {
		o.tick = d
	}
}

// Monitor owns the edge state. It is safe to feed samples from one goroutine
// while the dwell tick runs on another; one mutex guards all state and
// callbacks are always invoked outside it.
type Monitor struct {
	log     *zap.Logger
	options monitorOptions
	ready   chan struct{}

	width  int
	height int

	mu        sync.Mutex
	edge      Edge
	delay     time.Duration
	threshold int
	lastX     int
	lastY     int
	atEdge    bool
	enteredAt time.Time

	remote     func() bool
	remoteSink func(x, y int)
	onTrigger  func(x, y int)
	onLeave    func()
}

func New(log *zap.Logger, width, height int, cfg Config, opts ...Option) *Monitor {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Monitor{
		log:       log,
		options:   options,
		ready:     make(chan struct{}),
		width:     width,
		height:    height,
		edge:      cfg.Edge,
		delay:     cfg.Delay,
		threshold: cfg.Threshold,
	}
}

// OnTrigger registers the dwell-trigger callback. It receives the last
// pointer position. Registration must happen before Start.
func (m *Monitor) OnTrigger(fn func(x, y int)) {
	m.onTrigger = fn
}

// OnLeave registers an informational callback fired when the pointer leaves
// the edge band before the dwell completes.
func (m *Monitor) OnLeave(fn func()) {
	m.onLeave = fn
}

// SetRemoteGate installs the hard mode gate: while gate() is true, samples
// bypass edge logic entirely and go to the remote sink.
func (m *Monitor) SetRemoteGate(gate func() bool, sink func(x, y int)) {
	m.remote = gate
	m.remoteSink = sink
}

// Start runs the dwell tick until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	close(m.ready)
	ticker := time.NewTicker(m.options.tick)
	defer ticker.Stop()
	m.mu.Lock()
	m.log.Info("Edge monitor started",
		zap.Stringer("edge", m.edge),
		zap.Duration("delay", m.delay),
		zap.Int("threshold", m.threshold),
		zap.Int("width", m.width),
		zap.Int("height", m.height),
	)
	m.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.checkDwell()
		}
	}
}

func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// HandleMove consumes one pointer sample.
func (m *Monitor) HandleMove(x, y int) {
	if m.remote != nil && m.remote() {
		if m.remoteSink != nil {
			m.remoteSink(x, y)
		}
		return
	}

	m.mu.Lock()
	m.lastX, m.lastY = x, y
	at := m.atTriggerEdge(x, y)
	var left bool
	switch {
	case at && !m.atEdge:
		m.atEdge = true
		m.enteredAt = m.options.now()
		m.log.Debug("Pointer entered trigger edge", zap.Int("x", x), zap.Int("y", y))
	case !at && m.atEdge:
		m.atEdge = false
		m.enteredAt = time.Time{}
		left = true
	}
	m.mu.Unlock()

	if left {
		m.log.Debug("Pointer left trigger edge before dwell completed")
		if m.onLeave != nil {
			m.onLeave()
		}
	}
}

// checkDwell fires the trigger when the dwell is complete. State is reset
// before the callback runs, so the same dwell can never fire twice.
func (m *Monitor) checkDwell() {
	m.mu.Lock()
	if !m.atEdge || m.enteredAt.IsZero() {
		m.mu.Unlock()
		return
	}
	if m.options.now().Sub(m.enteredAt) < m.delay {
		m.mu.Unlock()
		return
	}
	m.atEdge = false
	m.enteredAt = time.Time{}
	x, y := m.lastX, m.lastY
	fn := m.onTrigger
	m.mu.Unlock()

	m.log.Info("Edge trigger fired", zap.Int("x", x), zap.Int("y", y))
	if fn != nil {
		fn(x, y)
	}
}

// atTriggerEdge must be called with the mutex held.
func (m *Monitor) atTriggerEdge(x, y int) bool {
	switch m.edge {
	case EdgeTop:
		return y <= m.threshold
	case EdgeBottom:
		return y >= m.height-m.threshold
	case EdgeLeft:
		return x <= m.threshold
	case EdgeRight:
		return x >= m.width-m.threshold
	}
	return false
}

// SetEdge changes the trigger edge and clears any dwell in progress.
func (m *Monitor) SetEdge(edge Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edge == m.edge {
		return
	}
	m.edge = edge
	m.resetDwell()
	m.log.Info("Trigger edge changed", zap.Stringer("edge", edge))
}

// SetDelay changes the dwell delay and clears any dwell in progress.
func (m *Monitor) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delay == m.delay {
		return
	}
	m.delay = delay
	m.resetDwell()
	m.log.Info("Trigger delay changed", zap.Duration("delay", delay))
}

// SetThreshold changes the edge threshold and clears any dwell in progress.
func (m *Monitor) SetThreshold(threshold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threshold == m.threshold {
		return
	}
	m.threshold = threshold
	m.resetDwell()
	m.log.Info("Edge threshold changed", zap.Int("threshold", threshold))
}

// resetDwell must be called with the mutex held.
func (m *Monitor) resetDwell() {
	m.atEdge = false
	m.enteredAt = time.Time{}
}
