package speed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeRecordAccumulates(t *testing.T) {
	p := NewProbe()
	p.Record(5 * 1024 * 1024)
	time.Sleep(2 * time.Millisecond)
	p.Record(5 * 1024 * 1024)

	speed := p.SmoothedMBs()
	assert.Greater(t, speed, 0.0)
}

func TestProbeSmoothedMBsZeroWhenIdle(t *testing.T) {
	p := NewProbe()
	assert.Equal(t, 0.0, p.SmoothedMBs())
}

func TestGroupSumsActiveProbes(t *testing.T) {
	g := NewGroup()
	p1 := NewProbe()
	p2 := NewProbe()
	g.Register(p1)
	g.Register(p2)

	p1.Record(10 * 1024 * 1024)
	time.Sleep(2 * time.Millisecond)
	p2.Record(10 * 1024 * 1024)
	time.Sleep(2 * time.Millisecond)

	total, ok := g.GlobalSpeedMBs()
	require.True(t, ok)
	assert.Greater(t, total, 0.0)
}

func TestGroupReportsNotOkWhenEmpty(t *testing.T) {
	g := NewGroup()
	_, ok := g.GlobalSpeedMBs()
	assert.False(t, ok)
}

func TestGroupPrunesClosedProbes(t *testing.T) {
	g := NewGroup()
	p1 := NewProbe()
	g.Register(p1)
	p1.Close()

	_, ok := g.GlobalSpeedMBs()
	assert.False(t, ok)

	g.mu.Lock()
	n := len(g.probes)
	g.mu.Unlock()
	assert.Equal(t, 0, n)
}
