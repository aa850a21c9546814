package edgesvc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	m := New(zap.NewNop(), 1920, 1080, cfg, WithClock(clk.Now))
	return m, clk
}

func (m *Monitor) atEdgeNow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atEdge
}

func TestEdgePredicates(t *testing.T) {
	testCases := []struct {
		name   string
		edge   Edge
		x, y   int
		atEdge bool
	}{
		{name: "right edge inside threshold", edge: EdgeRight, x: 1919, y: 500, atEdge: true},
		{name: "right edge at boundary", edge: EdgeRight, x: 1918, y: 500, atEdge: true},
		{name: "right edge outside", edge: EdgeRight, x: 1917, y: 500, atEdge: false},
		{name: "left edge inside", edge: EdgeLeft, x: 2, y: 500, atEdge: true},
		{name: "left edge outside", edge: EdgeLeft, x: 3, y: 500, atEdge: false},
		{name: "top edge inside", edge: EdgeTop, x: 900, y: 0, atEdge: true},
		{name: "top edge outside", edge: EdgeTop, x: 900, y: 3, atEdge: false},
		{name: "bottom edge inside", edge: EdgeBottom, x: 900, y: 1079, atEdge: true},
		{name: "bottom edge outside", edge: EdgeBottom, x: 900, y: 1070, atEdge: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMonitor(t, Config{Edge: tc.edge, Delay: 100 * time.Millisecond, Threshold: 2})
			m.HandleMove(tc.x, tc.y)
			assert.Equal(t, tc.atEdge, m.atEdgeNow())
		})
	}
}

// A continuous dwell held past the delay produces exactly one trigger; the
// fire resets the state so the same dwell cannot fire again.
func TestDwellFiresExactlyOnce(t *testing.T) {
	m, clk := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	var fired []struct{ x, y int }
	m.OnTrigger(func(x, y int) {
		fired = append(fired, struct{ x, y int }{x, y})
	})

	m.HandleMove(1919, 500)
	clk.Advance(150 * time.Millisecond)
	m.checkDwell()
	require.Len(t, fired, 1)
	assert.Equal(t, 1919, fired[0].x)
	assert.Equal(t, 500, fired[0].y)

	// held for another delay period with no new samples: no re-fire
	clk.Advance(150 * time.Millisecond)
	m.checkDwell()
	m.checkDwell()
	assert.Len(t, fired, 1)

	// a fresh dwell fires again
	m.HandleMove(1919, 600)
	clk.Advance(150 * time.Millisecond)
	m.checkDwell()
	assert.Len(t, fired, 2)
}

func TestDwellRespectsDelay(t *testing.T) {
	m, clk := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	fired := 0
	m.OnTrigger(func(x, y int) { fired++ })

	m.HandleMove(1919, 500)
	clk.Advance(50 * time.Millisecond)
	m.checkDwell()
	assert.Zero(t, fired)

	clk.Advance(60 * time.Millisecond)
	m.checkDwell()
	assert.Equal(t, 1, fired)
}

func TestLeavingEdgeCancelsDwell(t *testing.T) {
	m, clk := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	fired := 0
	left := 0
	m.OnTrigger(func(x, y int) { fired++ })
	m.OnLeave(func() { left++ })

	m.HandleMove(1919, 500)
	clk.Advance(50 * time.Millisecond)
	m.HandleMove(900, 500)
	assert.Equal(t, 1, left)

	clk.Advance(200 * time.Millisecond)
	m.checkDwell()
	assert.Zero(t, fired)
	assert.False(t, m.atEdgeNow())
}

func TestRemoteGateBypassesEdgeLogic(t *testing.T) {
	m, clk := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	fired := 0
	m.OnTrigger(func(x, y int) { fired++ })

	remote := false
	var forwarded []struct{ x, y int }
	m.SetRemoteGate(
		func() bool { return remote },
		func(x, y int) { forwarded = append(forwarded, struct{ x, y int }{x, y}) },
	)

	remote = true
	m.HandleMove(1919, 500)
	assert.False(t, m.atEdgeNow(), "edge state must not change while remote")
	require.Len(t, forwarded, 1)

	clk.Advance(200 * time.Millisecond)
	m.checkDwell()
	assert.Zero(t, fired)

	remote = false
	m.HandleMove(1919, 500)
	assert.True(t, m.atEdgeNow())
	assert.Len(t, forwarded, 1)
}

func TestSettersClearDwellInProgress(t *testing.T) {
	m, clk := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	fired := 0
	m.OnTrigger(func(x, y int) { fired++ })

	m.HandleMove(1919, 500)
	m.SetDelay(200 * time.Millisecond)
	clk.Advance(150 * time.Millisecond)
	m.checkDwell()
	assert.Zero(t, fired, "setter must clear the dwell in progress")

	m.HandleMove(1919, 500)
	clk.Advance(250 * time.Millisecond)
	m.checkDwell()
	assert.Equal(t, 1, fired)
}

func TestSetEdgeRearms(t *testing.T) {
	m, _ := newTestMonitor(t, Config{Edge: EdgeRight, Delay: 100 * time.Millisecond, Threshold: 2})
	m.HandleMove(1919, 500)
	require.True(t, m.atEdgeNow())

	m.SetEdge(EdgeLeft)
	assert.False(t, m.atEdgeNow())

	m.HandleMove(1, 500)
	assert.True(t, m.atEdgeNow())
}

func TestParseEdge(t *testing.T) {
	for s, want := range map[string]Edge{
		"top":    EdgeTop,
		"bottom": EdgeBottom,
		"left":   EdgeLeft,
		"right":  EdgeRight,
	} {
		got, err := ParseEdge(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, s, got.String())
	}
	_, err := ParseEdge("diagonal")
	assert.Error(t, err)
}
