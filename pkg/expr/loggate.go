package expr

import "sync"

type gateKey struct {
	node, key string
}

type gateEntry struct {
	time   float64
	source string
}

// LogGate decides which expression evaluations may produce console output.
// Each (node, key) remembers the time and source of the last evaluation that
// was allowed to log; an identical repeat, as happens when a paused frame is
// redrawn, stays quiet. Error output for the focused property is dropped.
type LogGate struct {
	mu      sync.Mutex
	last    map[gateKey]gateEntry
	focused *gateKey
}

// NewLogGate creates an empty gate.
func NewLogGate() *LogGate {
	return &LogGate{last: make(map[gateKey]gateEntry)}
}

// Allow reports whether this evaluation may log and, if so, records it.
func (g *LogGate) Allow(nodeID, key string, time float64, source string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := gateKey{nodeID, key}
	entry := gateEntry{time: time, source: source}
	if prev, ok := g.last[k]; ok && prev == entry {
		return false
	}
	g.last[k] = entry
	return true
}

// Focus marks the property whose expression is being edited.
func (g *LogGate) Focus(nodeID, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.focused = &gateKey{nodeID, key}
}

// Blur clears the focused property.
func (g *LogGate) Blur() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.focused = nil
}

// Focused reports whether (nodeID, key) is the property being edited.
func (g *LogGate) Focused(nodeID, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.focused != nil && *g.focused == gateKey{nodeID, key}
}

// Forget drops the remembered evaluation for (nodeID, key).
func (g *LogGate) Forget(nodeID, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, gateKey{nodeID, key})
}

// Reset drops everything.
func (g *LogGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[gateKey]gateEntry)
	g.focused = nil
}
