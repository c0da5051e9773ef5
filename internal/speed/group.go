package speed

import "sync"

// Group collects probes and reports their combined smoothed throughput.
// Go has no weak references, so unlike the probe group spec.md describes,
// membership is explicit: a probe is pruned when Close was called on it,
// checked lazily on the next GlobalSpeedMBs rather than by a GC finalizer.
type Group struct {
	mu     sync.Mutex
	probes []*Probe
}

// NewGroup constructs an empty probe group.
func NewGroup() *Group {
	return &Group{}
}

// Register adds a probe to the group.
func (g *Group) Register(p *Probe) {
	g.mu.Lock()
	g.probes = append(g.probes, p)
	g.mu.Unlock()
}

// GlobalSpeedMBs sums the smoothed speed of every active probe, pruning
// any that were closed since the last call. Implements
// internal/load.SpeedSource; ok is false only when the group holds no
// active probes.
func (g *Group) GlobalSpeedMBs() (float64, bool) {
	g.mu.Lock()
	live := g.probes[:0]
	for _, p := range g.probes {
		if !p.isClosed() {
			live = append(live, p)
		}
	}
	g.probes = live
	probes := append([]*Probe(nil), g.probes...)
	g.mu.Unlock()

	if len(probes) == 0 {
		return 0, false
	}

	var total float64
	for _, p := range probes {
		total += p.SmoothedMBs()
	}
	return total, true
}

// Global is the process-wide probe group the load evaluator consults.
var Global = NewGroup()
