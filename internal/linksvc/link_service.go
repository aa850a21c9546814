// Package linksvc owns the client side of a control link: the Local/Remote
// state machine, the TCP session to the server, and the streamer that turns
// captured input into wire messages. Edge triggers arm it, the escape hotkey
// or a dead session disarm it.
package linksvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zedlink/zedlink/internal/capturesvc"
	"github.com/zedlink/zedlink/internal/edgesvc"
	"github.com/zedlink/zedlink/internal/peersvc"
	"github.com/zedlink/zedlink/pkg/bus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Mode is the controller state. Local routes pointer samples through edge
// detection; Remote streams them to the connected server.
type Mode int32

const (
	ModeLocal Mode = iota
	ModeRemote
)

func (m Mode) String() string {
	if m == ModeRemote {
		return "remote"
	}
	return "local"
}

// Capture is the captured-input event source.
type Capture interface {
	Subscribe(ctx context.Context, classes ...capturesvc.Class) <-chan bus.Message[capturesvc.Class, capturesvc.Event]
}

// Peers provides connection candidates beyond the configured address.
type Peers interface {
	Recent(n int) ([]peersvc.Peer, error)
	MarkConnected(address string) (peersvc.Peer, error)
	Scan(ctx context.Context, port int, timeout time.Duration) ([]peersvc.Peer, error)
}

// Config carries the link parameters resolved from the client configuration.
type Config struct {
	ServerAddress  string
	ConnectTimeout time.Duration
	AutoReconnect  bool
	EscapeCode     uint16
	ScreenWidth    int
	ScreenHeight   int
	ScanPort       int
	ScanTimeout    time.Duration
	ClientInfo     map[string]any
}

const recentCandidates = 3

var defaultOptions = serviceOptions{
	escapeCooldown:   500 * time.Millisecond,
	reconnectBackoff: time.Second,
	reconnectMax:     30 * time.Second,
	now:              time.Now,
}

type serviceOptions struct {
	escapeCooldown   time.Duration
	reconnectBackoff time.Duration
	reconnectMax     time.Duration
	now              func() time.Time
	streamerOpts     []StreamerOption
}

type Option func(*serviceOptions)

// WithEscapeCooldown sets the debounce window applied after a handled escape.
func WithEscapeCooldown(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.escapeCooldown = d
	}
}

// WithReconnectBackoff sets the initial and maximum delay between automatic
// reconnect attempts.
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(o *serviceOptions) {
		o.reconnectBackoff = initial
		o.reconnectMax = max
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// WithStreamerOptions forwards options to the embedded streamer.
func WithStreamerOptions(opts ...StreamerOption) Option {
	return func(o *serviceOptions) {
		o.streamerOpts = opts
	}
}

// Service is the mode controller. All transitions run under one mutex; the
// mode flag itself is atomic so the capture path can read it without
// contending with a transition in progress.
type Service struct {
	log     *zap.Logger
	options serviceOptions
	capture Capture
	edge    *edgesvc.Monitor
	peers   Peers
	status  StatusFunc

	session  *Session
	streamer *Streamer

	cfgMu sync.Mutex
	cfg   Config

	mode atomic.Int32

	transitionMu sync.Mutex
	lastEscapeAt time.Time
	runCtx       context.Context

	reconnectCh chan struct{}
	ready       chan struct{}
}

func New(log *zap.Logger, cfg Config, capture Capture, edge *edgesvc.Monitor, peers Peers, status StatusFunc, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if status == nil {
		status = func(Status) {}
	}
	s := &Service{
		log:         log,
		options:     options,
		capture:     capture,
		edge:        edge,
		peers:       peers,
		status:      status,
		cfg:         cfg,
		reconnectCh: make(chan struct{}, 1),
		ready:       make(chan struct{}),
	}
	s.session = NewSession(log.Named("session"), cfg.ConnectTimeout, cfg.ClientInfo, s.onSessionLost)
	s.streamer = NewStreamer(log.Named("streamer"), s.session.Send, cfg.ScreenWidth, cfg.ScreenHeight, options.streamerOpts...)
	edge.OnTrigger(s.handleTrigger)
	edge.SetRemoteGate(s.isRemote, s.streamer.HandleMove)
	return s
}

// Start drains captured events until ctx is done. Moves feed edge detection
// while Local and the streamer while Remote; key events are watched for the
// escape hotkey.
func (s *Service) Start(ctx context.Context) error {
	s.transitionMu.Lock()
	s.runCtx = ctx
	s.transitionMu.Unlock()

	events := s.capture.Subscribe(ctx)
	go s.reconnectLoop(ctx)
	close(s.ready)
	s.log.Info("Link service started", zap.String("server", s.snapshot().ServerAddress))

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case msg, ok := <-events:
			if !ok {
				s.shutdown()
				return nil
			}
			s.handleEvent(msg.Value)
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Mode reports the current controller state.
func (s *Service) Mode() Mode {
	return Mode(s.mode.Load())
}

func (s *Service) isRemote() bool {
	return Mode(s.mode.Load()) == ModeRemote
}

// ApplyConfig installs updated link parameters. The server address, scan
// settings, auto-reconnect flag and escape hotkey take effect immediately;
// screen dimensions and the connect timeout apply on restart.
func (s *Service) ApplyConfig(cfg Config) {
	s.cfgMu.Lock()
	s.cfg.ServerAddress = cfg.ServerAddress
	s.cfg.AutoReconnect = cfg.AutoReconnect
	s.cfg.EscapeCode = cfg.EscapeCode
	s.cfg.ScanPort = cfg.ScanPort
	s.cfg.ScanTimeout = cfg.ScanTimeout
	s.cfgMu.Unlock()
	s.log.Info("Link configuration updated", zap.String("server", cfg.ServerAddress))
}

func (s *Service) snapshot() Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

func (s *Service) handleEvent(ev capturesvc.Event) {
	switch ev.Class {
	case capturesvc.ClassMove:
		s.edge.HandleMove(ev.X, ev.Y)
	case capturesvc.ClassButton:
		if s.isRemote() {
			s.streamer.HandleButton(ev.X, ev.Y, ev.Button, ev.Pressed)
		}
	case capturesvc.ClassWheel:
		if s.isRemote() {
			s.streamer.HandleWheel(ev.DX, ev.DY)
		}
	case capturesvc.ClassKey:
		s.handleKey(ev)
	}
}

func (s *Service) handleKey(ev capturesvc.Event) {
	if !ev.Pressed || ev.Code != s.snapshot().EscapeCode || !s.isRemote() {
		return
	}
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	now := s.options.now()
	if now.Sub(s.lastEscapeAt) < s.options.escapeCooldown {
		s.log.Debug("Escape ignored within cooldown")
		return
	}
	s.lastEscapeAt = now
	s.forceLocalLocked("escape")
}

// handleTrigger runs on the dwell goroutine when the pointer held the
// configured edge long enough. It connects (or reuses) a session and enters
// Remote mode.
func (s *Service) handleTrigger(x, y int) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	if s.isRemote() {
		s.log.Debug("Edge trigger ignored while remote")
		return
	}
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.session.Connected() {
		if err := s.establishSession(ctx, true); err != nil {
			s.log.Warn("No server reachable", zap.Error(err))
			s.status(Status{Kind: StatusNoServerFound, Reason: err.Error()})
			return
		}
	}

	s.mode.Store(int32(ModeRemote))
	s.streamer.Arm(x, y)
	if !s.session.Connected() {
		// The entry send already tore the session down.
		s.streamer.Disarm()
		s.mode.Store(int32(ModeLocal))
		return
	}
	s.log.Info("Entered remote mode", zap.String("peer", s.session.Peer()))
	s.status(Status{Kind: StatusRemoteEntered, Peer: s.session.Peer()})
}

// establishSession tries the configured address, then recently used peers,
// then (optionally) a subnet scan. The first successful handshake wins.
func (s *Service) establishSession(ctx context.Context, withScan bool) error {
	cfg := s.snapshot()
	tried := make(map[string]struct{})
	try := func(address string) bool {
		if address == "" {
			return false
		}
		if _, dup := tried[address]; dup {
			return false
		}
		tried[address] = struct{}{}
		if err := s.session.Connect(ctx, address); err != nil {
			s.log.Debug("Connect failed", zap.String("address", address), zap.Error(err))
			return false
		}
		if _, err := s.peers.MarkConnected(address); err != nil {
			s.log.Warn("Failed to record peer", zap.String("address", address), zap.Error(err))
		}
		s.status(Status{Kind: StatusConnected, Peer: address})
		return true
	}

	if try(cfg.ServerAddress) {
		return nil
	}
	recent, err := s.peers.Recent(recentCandidates)
	if err != nil {
		s.log.Warn("Failed to load recent peers", zap.Error(err))
	}
	for _, p := range recent {
		if try(p.Address) {
			return nil
		}
	}
	if withScan {
		discovered, err := s.peers.Scan(ctx, cfg.ScanPort, cfg.ScanTimeout)
		if err != nil {
			s.log.Debug("Peer scan failed", zap.Error(err))
		}
		for _, p := range discovered {
			if try(p.Address) {
				return nil
			}
		}
	}
	return fmt.Errorf("no server found (%d candidates tried)", len(tried))
}

// onSessionLost runs on its own goroutine when a write failure killed the
// session mid-stream.
func (s *Service) onSessionLost() {
	s.transitionMu.Lock()
	s.forceLocalLocked("session lost")
	s.transitionMu.Unlock()

	s.status(Status{Kind: StatusSessionLost, Peer: s.session.Peer()})
	if s.snapshot().AutoReconnect {
		select {
		case s.reconnectCh <- struct{}{}:
		default:
		}
	}
}

// forceLocalLocked tears down Remote mode: stop streaming, flip the mode,
// close the session. Callers hold transitionMu.
func (s *Service) forceLocalLocked(reason string) {
	if !s.isRemote() {
		return
	}
	peer := s.session.Peer()
	s.streamer.Disarm()
	s.mode.Store(int32(ModeLocal))
	s.session.Disconnect()
	s.log.Info("Returned to local mode", zap.String("reason", reason), zap.String("peer", peer))
	s.status(Status{Kind: StatusRemoteExited, Peer: peer, Reason: reason})
}

func (s *Service) shutdown() {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	s.forceLocalLocked("shutdown")
	s.session.Disconnect()
}

// reconnectLoop re-establishes a lost session in the background so the next
// edge trigger switches instantly. Attempts back off exponentially up to the
// configured cap; a fresh loss resets the backoff.
func (s *Service) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconnectCh:
		}
		backoff := s.options.reconnectBackoff
		for {
			if ctx.Err() != nil {
				return
			}
			if s.session.Connected() || !s.snapshot().AutoReconnect {
				break
			}
			s.transitionMu.Lock()
			var err error
			if !s.session.Connected() {
				err = s.establishSession(ctx, false)
			}
			s.transitionMu.Unlock()
			if err == nil {
				s.log.Info("Session re-established")
				break
			}
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !t.Stop() {
					<-t.C
				}
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > s.options.reconnectMax {
				backoff = s.options.reconnectMax
			}
		}
	}
}
