package eval

import (
	"context"

	"go.starlark.net/starlark"

	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// Frame holds the resolved value of every property at one time.
type Frame struct {
	Time   float64                   `json:"time" yaml:"time"`
	Values map[string]map[string]any `json:"values" yaml:"values"`
}

// Get returns the resolved value of nodeID's key.
func (f *Frame) Get(nodeID, key string) (any, bool) {
	props, ok := f.Values[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := props[key]
	return v, ok
}

// Export returns the values with functions replaced by their printed form,
// ready for JSON or YAML encoding.
func (f *Frame) Export() map[string]map[string]any {
	out := make(map[string]map[string]any, len(f.Values))
	for id, props := range f.Values {
		m := make(map[string]any, len(props))
		for k, v := range props {
			m[k] = exportValue(v)
		}
		out[id] = m
	}
	return out
}

func exportValue(v any) any {
	switch val := v.(type) {
	case starlark.Value:
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = exportValue(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = exportValue(x)
		}
		return out
	}
	return v
}

// EvaluateFrame resolves every property of p at time. Properties are visited
// in dependency order so each acyclic value is computed once and reused by
// dependents that read it within the depth guard. Properties on or behind a
// cycle are evaluated on demand.
func (e *Evaluator) EvaluateFrame(ctx context.Context, p *scene.Project, time float64, audio AudioData) *Frame {
	dag := graph.Build(p)

	var tracer *telemetry.Tracer
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tracer = tel.Tracer
	}
	_, span := tracer.StartFrameSpan(ctx, time, len(dag.Nodes))
	defer span.End()
	timer := telemetry.NewTimer()

	pc := NewProjectContext(e, p, time, WithAudio(audio))
	frame := &Frame{
		Time:   time,
		Values: make(map[string]map[string]any, p.Len()),
	}

	for _, pk := range dag.Order() {
		node, _ := p.Node(pk.Node)
		prop, ok := node.Property(pk.Key)
		if !ok {
			continue
		}
		v, height := pc.measure(func() any {
			return e.Evaluate(prop, time, pc, 0, &DebugInfo{NodeID: pk.Node, Key: pk.Key})
		})
		if !dag.IsCyclic(pk) {
			pc.remember(pk, v, height)
		}
		if frame.Values[pk.Node] == nil {
			frame.Values[pk.Node] = make(map[string]any, len(node.Properties))
		}
		frame.Values[pk.Node][pk.Key] = v
		e.metrics.RecordPropertyEvaluated(string(prop.Type))
	}

	// Nodes without properties still appear in the frame.
	for _, id := range p.OrderedIDs() {
		if frame.Values[id] == nil {
			frame.Values[id] = map[string]any{}
		}
	}

	e.metrics.RecordFrame(timer.Duration())
	e.metrics.SetProgramCacheEntries(e.runtime.CacheLen())
	return frame
}

// EvaluateNode resolves every property of one node at time.
func (e *Evaluator) EvaluateNode(p *scene.Project, nodeID string, time float64, audio AudioData) map[string]any {
	node, ok := p.Node(nodeID)
	if !ok {
		return nil
	}
	pc := NewProjectContext(e, p, time, WithAudio(audio))
	out := make(map[string]any, len(node.Properties))
	for _, key := range node.Keys() {
		out[key] = pc.Value(nodeID, key)
	}
	return out
}
