package linksvc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zedlink/zedlink/internal/capturesvc"
	"github.com/zedlink/zedlink/internal/edgesvc"
	"github.com/zedlink/zedlink/internal/peersvc"
	"github.com/zedlink/zedlink/pkg/bus"
	"github.com/zedlink/zedlink/protocol"
	"go.uber.org/zap"
)

type fakeCapture struct {
	events *bus.Bus[capturesvc.Class, capturesvc.Event]
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{events: bus.New[capturesvc.Class, capturesvc.Event](zap.NewNop())}
}

func (c *fakeCapture) Subscribe(ctx context.Context, classes ...capturesvc.Class) <-chan bus.Message[capturesvc.Class, capturesvc.Event] {
	return c.events.Subscribe(ctx, classes...)
}

func (c *fakeCapture) move(ctx context.Context, x, y int) {
	c.events.Publish(ctx, capturesvc.ClassMove, capturesvc.Event{Class: capturesvc.ClassMove, X: x, Y: y})
}

func (c *fakeCapture) button(ctx context.Context, x, y int, b protocol.Button, pressed bool) {
	c.events.Publish(ctx, capturesvc.ClassButton, capturesvc.Event{
		Class: capturesvc.ClassButton, X: x, Y: y, Button: b, Pressed: pressed,
	})
}

func (c *fakeCapture) key(ctx context.Context, code uint16, pressed bool) {
	c.events.Publish(ctx, capturesvc.ClassKey, capturesvc.Event{
		Class: capturesvc.ClassKey, Code: code, Pressed: pressed,
	})
}

type fakePeers struct {
	mu         sync.Mutex
	recent     []peersvc.Peer
	scan       []peersvc.Peer
	marked     []string
	scanCalled bool
}

func (p *fakePeers) Recent(n int) ([]peersvc.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.recent) > n {
		return p.recent[:n], nil
	}
	return p.recent, nil
}

func (p *fakePeers) MarkConnected(address string) (peersvc.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marked = append(p.marked, address)
	return peersvc.Peer{Address: address}, nil
}

func (p *fakePeers) Scan(ctx context.Context, port int, timeout time.Duration) ([]peersvc.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanCalled = true
	return p.scan, nil
}

func (p *fakePeers) markedAddrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.marked))
	copy(out, p.marked)
	return out
}

func (p *fakePeers) scanned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scanCalled
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *statusRecorder) count(kind StatusKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.statuses {
		if st.Kind == kind {
			n++
		}
	}
	return n
}

func (r *statusRecorder) has(kind StatusKind) bool {
	return r.count(kind) > 0
}

const escTestCode = 0x0001

type linkFixture struct {
	t       *testing.T
	ctx     context.Context
	svc     *Service
	capture *fakeCapture
	peers   *fakePeers
	rec     *statusRecorder
	server  *testServer
	clock   *testClock
}

func newLinkFixture(t *testing.T, mutate func(*Config), opts ...Option) *linkFixture {
	t.Helper()
	server := newTestServer(t)
	cfg := Config{
		ServerAddress:  server.addr(),
		ConnectTimeout: time.Second,
		EscapeCode:     escTestCode,
		ScreenWidth:    1920,
		ScreenHeight:   1080,
		ScanPort:       9876,
		ScanTimeout:    100 * time.Millisecond,
		ClientInfo:     map[string]any{"client": "test"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	capture := newFakeCapture()
	peers := &fakePeers{}
	rec := &statusRecorder{}
	clock := newTestClock()
	monitor := edgesvc.New(zap.NewNop(), cfg.ScreenWidth, cfg.ScreenHeight, edgesvc.Config{
		Edge:      edgesvc.EdgeRight,
		Delay:     100 * time.Millisecond,
		Threshold: 2,
	})
	opts = append([]Option{
		WithStreamerOptions(WithSendInterval(0)),
		WithClock(clock.Now),
	}, opts...)
	svc := New(zap.NewNop(), cfg, capture, monitor, peers, rec.record, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Start(ctx) }()
	select {
	case <-svc.Ready():
	case <-time.After(time.Second):
		t.Fatal("link service never became ready")
	}
	return &linkFixture{
		t: t, ctx: ctx, svc: svc,
		capture: capture, peers: peers, rec: rec,
		server: server, clock: clock,
	}
}

// enterRemote triggers at the right edge and consumes the handshake and
// entry-move messages.
func (f *linkFixture) enterRemote() {
	f.t.Helper()
	f.svc.handleTrigger(1919, 500)
	require.Equal(f.t, ModeRemote, f.svc.Mode())
	require.Equal(f.t, protocol.TypeHandshake, f.server.next(f.t).Type)
	require.Equal(f.t, protocol.TypeMouseMove, f.server.next(f.t).Type)
}

func TestTriggerEntersRemoteAndStreams(t *testing.T) {
	f := newLinkFixture(t, nil)

	f.enterRemote()
	assert.True(t, f.rec.has(StatusConnected))
	assert.True(t, f.rec.has(StatusRemoteEntered))
	assert.Equal(t, []string{f.server.addr()}, f.peers.markedAddrs())

	// Moves now route through the remote gate into the streamer.
	f.capture.move(f.ctx, 960, 540)
	msg := f.server.next(t)
	assert.Equal(t, protocol.TypeMouseMove, msg.Type)
	assert.InDelta(t, 0.5, msg.X, 0.001)
	assert.InDelta(t, 0.5, msg.Y, 0.001)

	f.capture.button(f.ctx, 960, 540, protocol.ButtonLeft, true)
	msg = f.server.next(t)
	assert.Equal(t, protocol.TypeMouseClick, msg.Type)
	assert.Equal(t, protocol.ButtonLeft, msg.Button)
	assert.True(t, msg.Pressed)
}

func TestTriggerWithoutServerStaysLocal(t *testing.T) {
	dead := deadAddr(t)
	f := newLinkFixture(t, func(cfg *Config) {
		cfg.ServerAddress = dead
		cfg.ConnectTimeout = 200 * time.Millisecond
	})

	f.svc.handleTrigger(1919, 500)

	assert.Equal(t, ModeLocal, f.svc.Mode())
	assert.True(t, f.rec.has(StatusNoServerFound))
	assert.True(t, f.peers.scanned(), "discovery must run when the configured server is down")
	assert.Empty(t, f.peers.markedAddrs())
}

func TestTriggerFallsBackToRecentPeer(t *testing.T) {
	dead := deadAddr(t)
	f := newLinkFixture(t, func(cfg *Config) {
		cfg.ServerAddress = dead
		cfg.ConnectTimeout = 200 * time.Millisecond
	})
	f.peers.recent = []peersvc.Peer{{Address: f.server.addr()}}

	f.svc.handleTrigger(1919, 500)

	assert.Equal(t, ModeRemote, f.svc.Mode())
	assert.Equal(t, []string{f.server.addr()}, f.peers.markedAddrs())
	assert.False(t, f.peers.scanned(), "scan must not run once a candidate connects")
}

func TestTriggerWhileRemoteIgnored(t *testing.T) {
	f := newLinkFixture(t, nil)
	f.enterRemote()

	f.svc.handleTrigger(1919, 600)

	assert.Equal(t, ModeRemote, f.svc.Mode())
	assert.Equal(t, 1, f.rec.count(StatusRemoteEntered))
	assert.Equal(t, 1, f.server.connCount())
}

func TestEscapeReturnsToLocal(t *testing.T) {
	f := newLinkFixture(t, nil)
	f.enterRemote()

	f.capture.key(f.ctx, escTestCode, true)

	require.Eventually(t, func() bool {
		return f.svc.Mode() == ModeLocal
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.svc.streamer.Armed())
	assert.False(t, f.svc.session.Connected())
	assert.True(t, f.rec.has(StatusRemoteExited))

	// The peer is told before the socket closes.
	assert.Equal(t, protocol.TypeDisconnect, f.server.next(t).Type)
}

func TestEscapeDebounced(t *testing.T) {
	f := newLinkFixture(t, nil)
	f.enterRemote()

	f.capture.key(f.ctx, escTestCode, true)
	require.Eventually(t, func() bool {
		return f.svc.Mode() == ModeLocal
	}, 2*time.Second, 5*time.Millisecond)

	// Second trigger re-enters remote mode, then a duplicate escape inside
	// the cooldown must be ignored.
	f.svc.handleTrigger(1919, 500)
	require.Equal(t, ModeRemote, f.svc.Mode())

	f.capture.key(f.ctx, escTestCode, true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ModeRemote, f.svc.Mode(), "escape within cooldown must be ignored")
	assert.Equal(t, 1, f.rec.count(StatusRemoteExited))

	f.clock.Advance(600 * time.Millisecond)
	f.capture.key(f.ctx, escTestCode, true)
	require.Eventually(t, func() bool {
		return f.svc.Mode() == ModeLocal
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.rec.count(StatusRemoteExited))
}

func TestEscapeIgnoredWhileLocal(t *testing.T) {
	f := newLinkFixture(t, nil)

	f.capture.key(f.ctx, escTestCode, true)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, ModeLocal, f.svc.Mode())
	assert.False(t, f.rec.has(StatusRemoteExited))
}

func TestSessionLossForcesLocal(t *testing.T) {
	f := newLinkFixture(t, nil)
	f.enterRemote()

	f.server.closeActive()

	// Keep streaming until a write fails and the controller falls back.
	x := 100
	require.Eventually(t, func() bool {
		f.capture.move(f.ctx, x, 300)
		x++
		return f.svc.Mode() == ModeLocal
	}, 3*time.Second, 5*time.Millisecond)

	assert.False(t, f.svc.streamer.Armed())
	assert.True(t, f.rec.has(StatusSessionLost))
	assert.True(t, f.rec.has(StatusRemoteExited))

	// Subsequent samples run through edge detection again, so a fresh
	// trigger can re-enter remote mode over a new connection.
	f.svc.handleTrigger(1919, 500)
	require.Equal(t, ModeRemote, f.svc.Mode())
	assert.Equal(t, 2, f.server.connCount())
}

func TestAutoReconnectAfterLoss(t *testing.T) {
	f := newLinkFixture(t, func(cfg *Config) {
		cfg.AutoReconnect = true
	}, WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))
	f.enterRemote()

	f.server.closeActive()
	x := 100
	require.Eventually(t, func() bool {
		f.capture.move(f.ctx, x, 300)
		x++
		return f.svc.Mode() == ModeLocal
	}, 3*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.svc.session.Connected()
	}, 3*time.Second, 10*time.Millisecond, "session must be re-established in the background")
	assert.Equal(t, 2, f.server.connCount())
	assert.Equal(t, ModeLocal, f.svc.Mode(), "reconnect must not re-enter remote mode by itself")
}

func TestApplyConfigUpdatesEscapeCode(t *testing.T) {
	f := newLinkFixture(t, nil)
	f.enterRemote()

	cfg := f.svc.snapshot()
	cfg.EscapeCode = 0x0042
	f.svc.ApplyConfig(cfg)

	f.capture.key(f.ctx, escTestCode, true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ModeRemote, f.svc.Mode(), "old escape code must no longer apply")

	f.capture.key(f.ctx, 0x0042, true)
	require.Eventually(t, func() bool {
		return f.svc.Mode() == ModeLocal
	}, 2*time.Second, 5*time.Millisecond)
}

// deadAddr returns a loopback address with nothing listening on it.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}
