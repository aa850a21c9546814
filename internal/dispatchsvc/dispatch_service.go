// Package dispatchsvc is the server side of a control link: it accepts one
// client connection at a time, decodes newline-framed messages and applies
// them to the local pointer through an injection backend. Ratios arrive
// resolution-independent and are mapped onto the local screen here.
package dispatchsvc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/zedlink/zedlink/internal/injectsvc"
	"github.com/zedlink/zedlink/internal/peersvc"
	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

// Registry records the clients that controlled this machine.
type Registry interface {
	Touch(address string) (peersvc.Peer, error)
}

// Config carries the dispatcher parameters resolved from the server
// configuration.
type Config struct {
	ListenAddress string
	ScreenWidth   int
	ScreenHeight  int
	Sensitivity   float64
}

// errClientDone ends a connection handler after a disconnect message.
var errClientDone = errors.New("client done")

const maxLineSize = 256 * 1024

type Service struct {
	log      *zap.Logger
	backend  injectsvc.Backend
	registry Registry

	listenAddress string
	width         int
	height        int

	cfgMu       sync.Mutex
	sensitivity float64

	mu     sync.Mutex
	active net.Conn

	boundAddr string
	ready     chan struct{}
}

func New(log *zap.Logger, cfg Config, backend injectsvc.Backend, registry Registry) *Service {
	return &Service{
		log:           log,
		backend:       backend,
		registry:      registry,
		listenAddress: cfg.ListenAddress,
		width:         cfg.ScreenWidth,
		height:        cfg.ScreenHeight,
		sensitivity:   cfg.Sensitivity,
		ready:         make(chan struct{}),
	}
}

// Start listens for client connections until ctx is done. A new connection
// replaces the current one; this is a single-operator link, last writer wins.
func (s *Service) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listenAddress, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.dropActive()
	}()
	s.boundAddr = ln.Addr().String()
	close(s.ready)
	s.log.Info("Dispatch service listening",
		zap.String("address", s.boundAddr),
		zap.Int("width", s.width),
		zap.Int("height", s.height))

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Error("Accept failed", zap.Error(err))
			continue
		}
		s.adopt(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}
	// A connection accepted right at cancellation can be adopted after the
	// watchdog already dropped; close it here so the join is bounded.
	s.dropActive()
	wg.Wait()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address. Valid once Ready is closed.
func (s *Service) Addr() string {
	return s.boundAddr
}

// ApplyConfig installs updated parameters. Only the delta sensitivity takes
// effect immediately; address and screen changes apply on restart.
func (s *Service) ApplyConfig(cfg Config) {
	s.cfgMu.Lock()
	s.sensitivity = cfg.Sensitivity
	s.cfgMu.Unlock()
	s.log.Info("Dispatch configuration updated", zap.Float64("sensitivity", cfg.Sensitivity))
}

func (s *Service) adopt(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.log.Info("Replacing connected client", zap.String("peer", s.active.RemoteAddr().String()))
		_ = s.active.Close()
	}
	s.active = conn
}

func (s *Service) release(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == conn {
		s.active = nil
	}
}

func (s *Service) dropActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		_ = s.active.Close()
		s.active = nil
	}
}

// serve drains one connection. Malformed records are logged and skipped;
// everything else is applied in arrival order.
func (s *Service) serve(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	log := s.log.With(zap.String("peer", peer))
	log.Info("Client connected")
	defer func() {
		_ = conn.Close()
		s.release(conn)
		log.Info("Client disconnected")
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := s.dispatch(log, peer, line); err != nil {
			if errors.Is(err, errClientDone) {
				return
			}
			log.Warn("Dropping malformed message", zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		log.Warn("Connection read failed", zap.Error(err))
	}
}

func (s *Service) dispatch(log *zap.Logger, peer string, line []byte) error {
	msg, err := protocol.Decode(line)
	if err != nil {
		return err
	}
	switch msg.Type {
	case protocol.TypeHandshake:
		log.Info("Handshake received", zap.Any("client_info", msg.ClientInfo))
		s.recordClient(log, peer)
	case protocol.TypeMouseMove:
		x, y := s.pixel(msg.X, msg.Y)
		s.backend.SetPosition(x, y)
	case protocol.TypeMouseClick:
		x, y := s.pixel(msg.X, msg.Y)
		s.backend.SetPosition(x, y)
		if msg.Pressed {
			s.backend.Press(msg.Button)
		} else {
			s.backend.Release(msg.Button)
		}
	case protocol.TypeMouseDelta:
		dx, dy := s.scale(msg.DX, msg.DY)
		s.backend.MoveRelative(dx, dy)
	case protocol.TypeMouseScroll:
		s.backend.Scroll(msg.DX, msg.DY)
	case protocol.TypeDisconnect:
		log.Info("Client requested disconnect")
		return errClientDone
	}
	return nil
}

func (s *Service) recordClient(log *zap.Logger, peer string) {
	if s.registry == nil {
		return
	}
	host, _, err := net.SplitHostPort(peer)
	if err != nil {
		host = peer
	}
	if _, err := s.registry.Touch(host); err != nil {
		log.Warn("Failed to record client", zap.Error(err))
	}
}

// pixel maps a [0,1] ratio onto the local screen, clamped to valid
// coordinates.
func (s *Service) pixel(xr, yr float64) (int, int) {
	x := int(xr * float64(s.width))
	y := int(yr * float64(s.height))
	if x > s.width-1 {
		x = s.width - 1
	}
	if x < 0 {
		x = 0
	}
	if y > s.height-1 {
		y = s.height - 1
	}
	if y < 0 {
		y = 0
	}
	return x, y
}

func (s *Service) scale(dx, dy int) (int, int) {
	s.cfgMu.Lock()
	sens := s.sensitivity
	s.cfgMu.Unlock()
	return int(float64(dx) * sens), int(float64(dy) * sens)
}
