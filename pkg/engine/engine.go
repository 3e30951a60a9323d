package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/eval"
	"github.com/framegraph/framegraph/pkg/expr"
	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/history"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/script"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// Config tunes the engine.
type Config struct {
	// MaxDepth bounds ref and ctx.get recursion during evaluation.
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth" json:"max_depth" validate:"gte=1"`

	// HistoryLimit caps the undo stack.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit" json:"history_limit" validate:"gte=1"`

	// ExpressionCacheSize is the number of compiled expressions kept. Zero
	// disables the cache.
	ExpressionCacheSize int `mapstructure:"expression_cache_size" yaml:"expression_cache_size" json:"expression_cache_size" validate:"gte=0"`

	// ExpressionMaxSteps bounds one expression evaluation. Zero is unlimited.
	ExpressionMaxSteps uint64 `mapstructure:"expression_max_steps" yaml:"expression_max_steps" json:"expression_max_steps"`

	// ScriptMaxSteps bounds one script run. Zero is unlimited.
	ScriptMaxSteps uint64 `mapstructure:"script_max_steps" yaml:"script_max_steps" json:"script_max_steps"`

	// ScriptTimeout cancels long scripts. Zero is no timeout.
	ScriptTimeout time.Duration `mapstructure:"script_timeout" yaml:"script_timeout" json:"script_timeout" validate:"gte=0"`

	// RenderWorkers is the parallelism of EvaluateRange.
	RenderWorkers int `mapstructure:"render_workers" yaml:"render_workers" json:"render_workers" validate:"gte=0"`
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		MaxDepth:            eval.MaxDepth,
		HistoryLimit:        history.DefaultLimit,
		ExpressionCacheSize: 256,
		ExpressionMaxSteps:  1_000_000,
		ScriptTimeout:       30 * time.Second,
		RenderWorkers:       4,
	}
}

// Engine is the editor core: it owns the history, evaluates frames and runs
// scripts, reporting everything through one Telemetry bundle.
type Engine struct {
	cfg     Config
	history *history.Manager
	eval    *eval.Evaluator
	scripts *script.Runner
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger

	mu    sync.RWMutex
	audio eval.AudioData
}

// New creates an engine editing p. A nil tel selects telemetry.NewNop.
func New(p *scene.Project, cfg Config, tel *telemetry.Telemetry) *Engine {
	if tel == nil {
		tel = telemetry.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = eval.MaxDepth
	}
	logger := tel.Logger.NewComponentLogger("engine")

	runtime := expr.NewRuntime(
		expr.WithCacheSize(cfg.ExpressionCacheSize),
		expr.WithMaxSteps(cfg.ExpressionMaxSteps),
	)
	evaluator := eval.New(
		eval.WithRuntime(runtime),
		eval.WithConsole(tel.Console),
		eval.WithMetrics(tel.Metrics),
		eval.WithLogger(tel.Logger.NewComponentLogger("eval")),
		eval.WithMaxDepth(cfg.MaxDepth),
	)

	e := &Engine{
		cfg:    cfg,
		eval:   evaluator,
		tel:    tel,
		logger: logger,
	}
	e.scripts = script.NewRunner(
		script.WithEvaluator(evaluator),
		script.WithConsole(tel.Console),
		script.WithLogger(tel.Logger.NewComponentLogger("script")),
		script.WithMetrics(tel.Metrics),
		script.WithTracer(tel.Tracer),
		script.WithMaxSteps(cfg.ScriptMaxSteps),
		script.WithTimeout(cfg.ScriptTimeout),
	)
	e.history = history.New(p,
		history.WithLimit(cfg.HistoryLimit),
		history.WithListener(e.observe),
	)
	return e
}

// observe turns history transitions into metrics and events.
func (e *Engine) observe(ch history.Change) {
	m := e.tel.Metrics
	m.RecordHistoryOp(string(ch.Op))
	m.SetHistoryDepth(ch.Past, ch.Future)

	var err error
	switch ch.Op {
	case history.OpCommit:
		m.RecordCommit(ch.Command.Name)
		err = e.tel.Events.PublishCommitted(ch.Command.ID, ch.Command.Name, ch.Past)
	case history.OpUndo:
		err = e.tel.Events.PublishUndone(ch.Command.ID, ch.Command.Name)
	case history.OpRedo:
		err = e.tel.Events.PublishRedone(ch.Command.ID, ch.Command.Name)
	case history.OpJump:
		err = e.tel.Events.PublishJumped("", ch.Steps)
	}
	if err != nil {
		e.logger.WithError(err).Warn("event not published")
	}
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Project returns the live project.
func (e *Engine) Project() *scene.Project { return e.history.Project() }

// History exposes the history manager.
func (e *Engine) History() *history.Manager { return e.history }

// Evaluator exposes the evaluator.
func (e *Engine) Evaluator() *eval.Evaluator { return e.eval }

// Console returns the user-facing log buffer.
func (e *Engine) Console() *telemetry.LogService { return e.tel.Console }

// Telemetry returns the telemetry bundle.
func (e *Engine) Telemetry() *telemetry.Telemetry { return e.tel }

// Load replaces the live project and forgets the history.
func (e *Engine) Load(p *scene.Project) {
	e.history.Reset(p)
	e.eval.Gate().Reset()
}

// Commit applies cmd and records it.
func (e *Engine) Commit(ctx context.Context, cmd *command.Command) error {
	if cmd == nil {
		return NewValidationError("nothing to commit", history.ErrNilCommand).WithOperation("commit")
	}
	_, span := e.tel.Tracer.StartCommandSpan(ctx, cmd.ID, cmd.Name)
	defer span.End()

	if _, err := e.history.Commit(cmd); err != nil {
		telemetry.RecordError(span, err)
		return NewInternalError("commit failed", err).WithOperation("commit")
	}
	e.logger.WithCommand(cmd.ID, cmd.Name).Debug("committed")
	telemetry.RecordSuccess(span)
	return nil
}

// Undo reverts the last command. It reports false when there is none.
func (e *Engine) Undo() bool { return e.history.Undo() }

// Redo reapplies the next command. It reports false when there is none.
func (e *Engine) Redo() bool { return e.history.Redo() }

// JumpToHistory moves to the state after the command at index; -1 is the
// state before every retained command.
func (e *Engine) JumpToHistory(index int) error {
	if err := e.history.JumpToHistory(index); err != nil {
		return NewNotFoundError("no such history entry", err).
			WithOperation("jump").
			WithDetail("index", index)
	}
	return nil
}

// Preview replaces the live project without recording history, for
// continuous edits such as dragging. The final value should be committed.
func (e *Engine) Preview(p *scene.Project) {
	e.history.Replace(p)
}

// SetTime moves the playhead without recording history.
func (e *Engine) SetTime(t float64) {
	e.history.Replace(e.history.Project().WithTime(t))
}

// SetAudio installs the audio analysis for subsequent frames.
func (e *Engine) SetAudio(a eval.AudioData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = a
}

// Audio returns the current audio analysis.
func (e *Engine) Audio() eval.AudioData {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.audio
}

// EvaluateFrame resolves every property of the live project at t.
func (e *Engine) EvaluateFrame(ctx context.Context, t float64) *eval.Frame {
	return e.eval.EvaluateFrame(e.tel.WithContext(ctx), e.Project(), t, e.Audio())
}

// CurrentFrame resolves the live project at its playhead.
func (e *Engine) CurrentFrame(ctx context.Context) *eval.Frame {
	p := e.Project()
	return e.eval.EvaluateFrame(e.tel.WithContext(ctx), p, p.Meta.CurrentTime, e.Audio())
}

// Value resolves one property of the live project at its playhead.
func (e *Engine) Value(nodeID, key string) (any, error) {
	p := e.Project()
	n, ok := p.Node(nodeID)
	if !ok {
		return nil, NewNotFoundError("node not found", nil).WithTarget(nodeID)
	}
	if _, ok := n.Property(key); !ok {
		return nil, NewNotFoundError("property not found", nil).WithTarget(scene.FormatRef(nodeID, key))
	}
	pc := eval.NewProjectContext(e.eval, p, p.Meta.CurrentTime, eval.WithAudio(e.Audio()))
	return pc.Value(nodeID, key), nil
}

// RunScript executes source as one transaction against the live project.
func (e *Engine) RunScript(ctx context.Context, source string) (*script.Result, error) {
	res, err := e.scripts.Run(e.tel.WithContext(ctx), source, e.history.Project, func(c *command.Command) error {
		return e.Commit(ctx, c)
	})
	if err != nil {
		if perr := e.tel.Events.PublishScriptFailed("", err.Error()); perr != nil {
			e.logger.WithError(perr).Warn("event not published")
		}
		e.tel.Metrics.RecordError(string(ErrorClassScript), ErrCodeScriptFailed)
		return nil, NewScriptError("script failed", err).WithOperation("run_script")
	}
	if perr := e.tel.Events.PublishScriptCompleted(res.ID, res.Commands, res.Duration); perr != nil {
		e.logger.WithError(perr).Warn("event not published")
	}
	return res, nil
}

// Focus marks a property as being edited; its error output is suppressed.
func (e *Engine) Focus(nodeID, key string) { e.eval.Gate().Focus(nodeID, key) }

// Blur clears the focused property.
func (e *Engine) Blur() { e.eval.Gate().Blur() }

// CheckSyntax parses an expression without running it.
func (e *Engine) CheckSyntax(source string) error {
	if err := expr.CheckSyntax(source); err != nil {
		return NewValidationError("expression does not parse", err).WithCode(ErrCodeSyntax)
	}
	return nil
}

// CheckLink reports whether pointing nodeID's key at target is malformed or
// would close a reference cycle. The result is advisory.
func (e *Engine) CheckLink(nodeID, key, target string) error {
	if _, _, ok := scene.ParseRef(target); !ok {
		return NewValidationError(fmt.Sprintf("malformed ref %q", target), nil).
			WithCode(ErrCodeMalformedRef).
			WithTarget(scene.FormatRef(nodeID, key))
	}
	if graph.LinkWouldCreateCycle(e.Project().Nodes, nodeID, key, target) {
		return NewConflictError(fmt.Sprintf("linking to %s creates a cycle", target), nil).
			WithCode(ErrCodeCycle).
			WithTarget(scene.FormatRef(nodeID, key))
	}
	return nil
}

// CheckExpression reports whether source fails to parse or would close a
// reference cycle on nodeID's key. The result is advisory.
func (e *Engine) CheckExpression(nodeID, key, source string) error {
	if err := e.CheckSyntax(source); err != nil {
		return err.(*EngineError).WithTarget(scene.FormatRef(nodeID, key))
	}
	if ref, cyclic := graph.ExpressionWouldCreateCycle(e.Project().Nodes, nodeID, key, source); cyclic {
		return NewConflictError(fmt.Sprintf("reading %s creates a cycle", ref), nil).
			WithCode(ErrCodeCycle).
			WithTarget(scene.FormatRef(nodeID, key))
	}
	return nil
}

// AddNode commits a new default node and returns its id.
func (e *Engine) AddNode(ctx context.Context, t scene.NodeType) (string, error) {
	if !t.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown node type %q", t), nil).WithOperation("add_node")
	}
	cmd, id := command.AddNode(e.Project(), t)
	return id, e.Commit(ctx, cmd)
}

// RemoveNode commits the removal of id.
func (e *Engine) RemoveNode(ctx context.Context, id string) error {
	cmd := command.RemoveNode(id, e.Project())
	if cmd == nil {
		return NewNotFoundError("node not found", nil).WithTarget(id).WithOperation("remove_node")
	}
	return e.Commit(ctx, cmd)
}

// RenameNode commits a rename of oldID to newID, rewriting references.
func (e *Engine) RenameNode(ctx context.Context, oldID, newID string) error {
	p := e.Project()
	cmd := command.RenameNode(oldID, newID, p)
	if cmd == nil {
		switch {
		case !p.Has(oldID):
			return NewNotFoundError("node not found", nil).WithTarget(oldID).WithOperation("rename_node")
		case p.Has(newID):
			return NewConflictError(fmt.Sprintf("id %q is taken", newID), nil).
				WithCode(ErrCodeAlreadyExists).
				WithTarget(oldID).
				WithOperation("rename_node")
		}
		return NewValidationError(fmt.Sprintf("cannot rename %q to %q", oldID, newID), nil).
			WithTarget(oldID).
			WithOperation("rename_node")
	}
	return e.Commit(ctx, cmd)
}

// ReorderNode commits a layer move.
func (e *Engine) ReorderNode(ctx context.Context, from, to int) error {
	n := len(e.Project().RootNodeIDs)
	if from < 0 || from >= n || to < 0 || to >= n {
		return NewValidationError(fmt.Sprintf("layer index out of range [0, %d)", n), nil).
			WithOperation("reorder_node")
	}
	return e.Commit(ctx, command.ReorderNode(from, to))
}

// Set commits a patch to nodeID's key.
func (e *Engine) Set(ctx context.Context, nodeID, key string, patch scene.Patch) error {
	p := e.Project()
	if !p.Has(nodeID) {
		return NewNotFoundError("node not found", nil).WithTarget(nodeID).WithOperation("set")
	}
	if patch.Empty() {
		return NewValidationError("empty patch", nil).WithTarget(scene.FormatRef(nodeID, key)).WithOperation("set")
	}
	return e.Commit(ctx, command.Set(p, nodeID, key, patch, nil, ""))
}
