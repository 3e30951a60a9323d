// Package eval resolves property values for a point in time.
//
// Evaluate handles one property: refs are followed through a Context,
// expressions run in the expr sandbox, keyframed literals are interpolated and
// everything else is returned as stored. Recursion through refs and ctx.get is
// bounded by a depth guard; past it a property resolves to its literal (scalar
// kinds) or 0. Nothing here returns an error: a property that cannot be
// resolved is 0 for that frame.
package eval

import (
	"github.com/framegraph/framegraph/pkg/expr"
	"github.com/framegraph/framegraph/pkg/keyframe"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// MaxDepth is the default recursion limit.
const MaxDepth = 20

// AudioData is the per-frame audio analysis exposed as ctx.bass, ctx.fft, ...
type AudioData = expr.Audio

// Context resolves cross-node reads for the evaluator.
type Context interface {
	// Get evaluates nodeID's key property at the given recursion depth.
	Get(nodeID, key string, depth int) any
	Audio() AudioData
}

// variableContext is implemented by contexts that know which ids are value
// nodes, enabling bare-name variable lookup in expressions.
type variableContext interface {
	IsVariable(name string) bool
}

// DebugInfo names the property being evaluated. It keys the log gate and
// enables prop().
type DebugInfo struct {
	NodeID string
	Key    string
}

// Evaluator evaluates properties. It is safe for concurrent use as long as
// the Context passed in is.
type Evaluator struct {
	runtime  *expr.Runtime
	gate     *expr.LogGate
	console  *telemetry.LogService
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	maxDepth int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRuntime sets the expression runtime.
func WithRuntime(r *expr.Runtime) Option {
	return func(e *Evaluator) { e.runtime = r }
}

// WithLogGate sets the gate deciding which evaluations may log.
func WithLogGate(g *expr.LogGate) Option {
	return func(e *Evaluator) { e.gate = g }
}

// WithConsole sets where expression output and errors are written.
func WithConsole(s *telemetry.LogService) Option {
	return func(e *Evaluator) { e.console = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithLogger sets the structured logger used for debug output.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMaxDepth overrides the recursion limit.
func WithMaxDepth(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// New creates an evaluator. Without options it uses a fresh runtime and log
// gate and discards console output.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{maxDepth: MaxDepth}
	for _, opt := range opts {
		opt(e)
	}
	if e.runtime == nil {
		e.runtime = expr.NewRuntime()
	}
	if e.gate == nil {
		e.gate = expr.NewLogGate()
	}
	if e.logger == nil {
		e.logger = telemetry.Nop()
	}
	return e
}

// Runtime returns the expression runtime.
func (e *Evaluator) Runtime() *expr.Runtime { return e.runtime }

// Gate returns the log gate.
func (e *Evaluator) Gate() *expr.LogGate { return e.gate }

// Evaluate resolves prop at time. info may be nil.
func (e *Evaluator) Evaluate(prop scene.Property, time float64, ctx Context, depth int, info *DebugInfo) any {
	if depth > e.maxDepth {
		e.metrics.RecordDepthLimit()
		if prop.Type.Scalar() {
			return literal(prop.Type, prop.Value)
		}
		return 0.0
	}

	switch prop.Type {
	case scene.KindRef:
		return e.evaluateRef(prop, ctx, depth)
	case scene.KindExpression:
		return e.evaluateExpression(prop, time, ctx, depth, info)
	}

	if prop.HasKeyframes() {
		if v, ok := keyframe.Interpolate(prop.Type, prop.Keyframes, time); ok {
			return literal(prop.Type, v)
		}
	}
	return literal(prop.Type, prop.Value)
}

func (e *Evaluator) evaluateRef(prop scene.Property, ctx Context, depth int) any {
	target, _ := prop.Value.(string)
	nodeID, key, ok := scene.ParseRef(target)
	if !ok || ctx == nil {
		return 0.0
	}
	v := ctx.Get(nodeID, key, depth+1)
	if v == nil {
		return 0.0
	}
	return v
}

func (e *Evaluator) evaluateExpression(prop scene.Property, time float64, ctx Context, depth int, info *DebugInfo) any {
	src, _ := prop.Value.(string)

	source := "expression"
	allowed := true
	focused := false
	if info != nil {
		source = scene.FormatRef(info.NodeID, info.Key)
		allowed = e.gate.Allow(info.NodeID, info.Key, time, src)
		focused = e.gate.Focused(info.NodeID, info.Key)
	}

	logf := func(level telemetry.Level, message string) {
		if !allowed || e.console == nil {
			return
		}
		if focused && level == telemetry.LevelError {
			return
		}
		e.console.Append(level, source, message)
	}

	scope := expr.Scope{
		Time: time,
		Val:  0.0,
		Log:  logf,
	}
	if ctx != nil {
		scope.Audio = ctx.Audio()
		scope.Get = func(nodeID, key string) any {
			return ctx.Get(nodeID, key, depth+1)
		}
		if vc, ok := ctx.(variableContext); ok {
			scope.IsVariable = vc.IsVariable
		}
		if info != nil {
			nodeID := info.NodeID
			scope.Prop = func(key string) any {
				return ctx.Get(nodeID, key, depth+1)
			}
		}
	}

	v, err := e.runtime.Eval(src, scope)
	if err != nil {
		e.metrics.RecordExpressionError("runtime")
		e.logger.WithField("source", source).WithError(err).Debug("expression failed")
		logf(telemetry.LevelError, err.Error())
		return 0.0
	}
	return v
}

// literal applies the literal rule: numbers are coerced with NaN mapped to
// 0, everything else passes through.
func literal(kind scene.Kind, v any) any {
	if kind == scene.KindNumber {
		return keyframe.ToNumber(v)
	}
	return v
}
