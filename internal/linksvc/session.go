package linksvc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send when no session is established.
var ErrNotConnected = errors.New("session not connected")

const writeTimeout = 5 * time.Second

// Session owns at most one TCP connection to a server. Writes are a single
// critical section so concurrent senders can never interleave partial
// records. A write failure tears the session down and reports it through the
// disconnect callback, which runs on its own goroutine; a deliberate
// Disconnect does not invoke the callback.
type Session struct {
	log        *zap.Logger
	timeout    time.Duration
	clientInfo map[string]any

	onDisconnect func()

	mu        sync.Mutex
	conn      net.Conn
	peer      string
	connected atomic.Bool
}

func NewSession(log *zap.Logger, timeout time.Duration, clientInfo map[string]any, onDisconnect func()) *Session {
	return &Session{
		log:          log,
		timeout:      timeout,
		clientInfo:   clientInfo,
		onDisconnect: onDisconnect,
	}
}

// Connect dials the address within the configured timeout and immediately
// sends the handshake. A handshake failure closes the socket and reports the
// error without invoking the disconnect callback: the session was never up.
func (s *Session) Connect(ctx context.Context, address string) error {
	if s.connected.Load() {
		return fmt.Errorf("session already connected to %s", s.Peer())
	}
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.peer = address
	s.mu.Unlock()
	s.connected.Store(true)

	if err := s.write(protocol.NewHandshake(s.clientInfo)); err != nil {
		s.teardown()
		return fmt.Errorf("handshake to %s failed: %w", address, err)
	}
	s.log.Info("Session connected", zap.String("peer", address))
	return nil
}

// Send encodes and writes one message. Any write failure marks the session
// disconnected and invokes the disconnect callback exactly once per
// connection.
func (s *Session) Send(msg protocol.Message) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	if err := s.write(msg); err != nil {
		s.log.Warn("Session write failed", zap.Error(err))
		if s.teardown() && s.onDisconnect != nil {
			go s.onDisconnect()
		}
		return err
	}
	return nil
}

func (s *Session) write(msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Disconnect notifies the peer best-effort and closes the session. It is
// idempotent and safe to call from any goroutine and any state; a deliberate
// disconnect never invokes the disconnect callback.
func (s *Session) Disconnect() {
	if !s.connected.Load() {
		return
	}
	_ = s.write(protocol.NewDisconnect())
	if !s.teardown() {
		return
	}
	s.log.Info("Session disconnected")
}

// teardown reports whether this call transitioned the session from connected
// to disconnected.
func (s *Session) teardown() bool {
	if !s.connected.CompareAndSwap(true, false) {
		return false
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return true
}

func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Peer returns the address of the current (or last) connection.
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}
