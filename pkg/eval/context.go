package eval

import (
	"sync"

	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
)

// ProjectContext resolves reads against one project at one time.
type ProjectContext struct {
	eval    *Evaluator
	project *scene.Project
	time    float64
	audio   AudioData

	mu    sync.RWMutex
	memo  map[graph.PropKey]memoEntry
	reach int
}

// memoEntry is a value computed from depth 0 together with the deepest
// recursion depth its computation reached.
type memoEntry struct {
	value  any
	height int
}

// ContextOption configures a ProjectContext.
type ContextOption func(*ProjectContext)

// WithAudio supplies the frame's audio analysis.
func WithAudio(a AudioData) ContextOption {
	return func(c *ProjectContext) { c.audio = a }
}

// NewProjectContext creates a context evaluating p at time with e.
func NewProjectContext(e *Evaluator, p *scene.Project, time float64, opts ...ContextOption) *ProjectContext {
	c := &ProjectContext{
		eval:    e,
		project: p,
		time:    time,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Project returns the project being evaluated.
func (c *ProjectContext) Project() *scene.Project { return c.project }

// Time returns the evaluation time.
func (c *ProjectContext) Time() float64 { return c.time }

// Audio returns the audio analysis for this frame.
func (c *ProjectContext) Audio() AudioData { return c.audio }

// IsVariable reports whether name is the id of a value node.
func (c *ProjectContext) IsVariable(name string) bool {
	n, ok := c.project.Node(name)
	return ok && n.Type == scene.NodeValue
}

// Get evaluates nodeID's key property. A missing node or property is 0.
func (c *ProjectContext) Get(nodeID, key string, depth int) any {
	node, ok := c.project.Node(nodeID)
	if !ok {
		return 0.0
	}
	prop, ok := node.Property(key)
	if !ok {
		return 0.0
	}

	c.touch(depth)
	pk := graph.PropKey{Node: nodeID, Key: key}
	if v, ok := c.recall(pk, depth); ok {
		return v
	}
	return c.eval.Evaluate(prop, c.time, c, depth, &DebugInfo{NodeID: nodeID, Key: key})
}

// Value evaluates nodeID's key property from the top of the depth budget.
func (c *ProjectContext) Value(nodeID, key string) any {
	return c.Get(nodeID, key, 0)
}

// remember stores a value evaluated from depth 0 whose evaluation reached
// height.
func (c *ProjectContext) remember(pk graph.PropKey, v any, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memo == nil {
		c.memo = make(map[graph.PropKey]memoEntry)
	}
	c.memo[pk] = memoEntry{value: v, height: height}
}

// recall returns the memoized value of pk when replaying its evaluation from
// depth would stay within the depth guard, so a hit is always the value a
// fresh evaluation would produce.
func (c *ProjectContext) recall(pk graph.PropKey, depth int) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.memo[pk]
	if !ok || depth+m.height > c.eval.maxDepth {
		return nil, false
	}
	if r := depth + m.height; r > c.reach {
		c.reach = r
	}
	return m.value, true
}

// touch records that an evaluation recursed to depth.
func (c *ProjectContext) touch(depth int) {
	c.mu.Lock()
	if depth > c.reach {
		c.reach = depth
	}
	c.mu.Unlock()
}

// measure evaluates fn and returns the deepest depth reached while it ran.
func (c *ProjectContext) measure(fn func() any) (any, int) {
	c.mu.Lock()
	outer := c.reach
	c.reach = 0
	c.mu.Unlock()

	v := fn()

	c.mu.Lock()
	height := c.reach
	if outer > c.reach {
		c.reach = outer
	}
	c.mu.Unlock()
	return v, height
}
