// Package capturesvc observes local pointer and keyboard activity through an
// OS-global input hook and fans the events out on a bounded bus. Position
// samples are lossy under backpressure; button, wheel and key events are
// never dropped.
package capturesvc

import (
	"context"
	"fmt"
	"time"

	"github.com/zedlink/zedlink/pkg/bus"
	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// Class keys the event bus by event kind.
type Class uint8

const (
	ClassMove Class = iota
	ClassButton
	ClassWheel
	ClassKey
)

// Event is a single captured input event. Class selects which fields are
// meaningful: moves and buttons carry the pointer position, wheels carry
// step deltas, keys carry the virtual keycode.
type Event struct {
	Class Class

	X int
	Y int

	Button  protocol.Button
	Pressed bool

	DX int
	DY int

	Code uint16
}

// BackendPublisher hands captured events to the service. The hook goroutine
// must never run application logic directly.
type BackendPublisher func(ctx context.Context, ev Event)

// Backend is an OS input hook implementation.
type Backend interface {
	Start(ctx context.Context, pub BackendPublisher) error
	Ready() <-chan struct{}
}

var defaultOptions = serviceOptions{
	readyTimeout:   5 * time.Second,
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	readyTimeout   time.Duration
	backoffTimeout time.Duration
}

type Option func(*serviceOptions)

// WithReadyTimeout bounds how long Start waits for the hook to engage before
// reporting the capture capability unavailable.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.readyTimeout = d
	}
}

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

type Service struct {
	log     *zap.Logger
	options serviceOptions
	backend Backend

	events *bus.Bus[Class, Event]
	ready  chan struct{}
}

func New(log *zap.Logger, backend Backend, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:     log,
		options: options,
		backend: backend,
		events:  bus.New[Class, Event](log.Named("bus")),
		ready:   make(chan struct{}),
	}
}

// Start runs the hook backend and blocks until ctx is done. It fails fast
// when the hook does not engage within the ready timeout; there is no
// degraded capture mode.
func (s *Service) Start(ctx context.Context) error {
	go s.runBackend(ctx)

	t := time.NewTimer(s.options.readyTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
		return fmt.Errorf("input capture unavailable: hook did not engage within %s", s.options.readyTimeout)
	case <-s.backend.Ready():
	}
	close(s.ready)
	s.log.Info("Capture service started")
	<-ctx.Done()
	if dropped := s.events.Dropped(); dropped > 0 {
		s.log.Debug("Lossy samples dropped under backpressure", zap.Uint64("count", dropped))
	}
	return nil
}

func (s *Service) runBackend(ctx context.Context) {
	for {
		err := s.backend.Start(ctx, s.publish)
		if err != nil {
			s.log.Error("Input hook stopped", zap.Error(err))
		}
		t := time.NewTimer(s.options.backoffTimeout)
		// retry after backoff
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// publish applies the loss policy: position samples may be dropped when a
// subscriber lags, everything else is delivered with backpressure.
func (s *Service) publish(ctx context.Context, ev Event) {
	if ev.Class == ClassMove {
		s.events.TryPublish(ClassMove, ev)
		return
	}
	s.events.Publish(ctx, ev.Class, ev)
}

// Subscribe returns an ordered stream of captured events for the given
// classes (all classes when none are given).
func (s *Service) Subscribe(ctx context.Context, classes ...Class) <-chan bus.Message[Class, Event] {
	return s.events.Subscribe(ctx, classes...)
}
