// Package script runs user Starlark scripts against a project as a single
// undoable transaction.
//
// A script works on a private copy of the live project. Every edit it makes
// is turned into a command, applied to that copy immediately so later reads
// see it, and queued. When the script finishes cleanly the queue is committed
// as one batch; when it fails nothing is committed.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/eval"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// Source is the console source scripts log under.
const Source = "script"

// BatchName labels the command a successful script commits.
const BatchName = "Script"

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Error is returned for any script failure. Pos is empty when the failure
// has no source position.
type Error struct {
	Message string
	Pos     string
	Err     error
}

func (e *Error) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Result describes a successful run.
type Result struct {
	ID       string
	Commands int
	Command  *command.Command // nil when the script made no edits
	Duration time.Duration
}

// GetProjectFunc returns the live project.
type GetProjectFunc func() *scene.Project

// CommitFunc records a finished transaction.
type CommitFunc func(*command.Command) error

// Runner executes scripts. It is safe for concurrent use; each run has its
// own working state.
type Runner struct {
	eval     *eval.Evaluator
	console  *telemetry.LogService
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	maxSteps uint64
	timeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvaluator sets the evaluator used for attribute reads.
func WithEvaluator(e *eval.Evaluator) Option {
	return func(r *Runner) { r.eval = e }
}

// WithConsole sets where script output and failures go.
func WithConsole(s *telemetry.LogService) Option {
	return func(r *Runner) { r.console = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records script runs.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer wraps every run in a span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithMaxSteps bounds Starlark execution steps per run. Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(r *Runner) { r.maxSteps = n }
}

// WithTimeout cancels runs that take longer than d. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{logger: telemetry.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.eval == nil {
		r.eval = eval.New(eval.WithConsole(r.console))
	}
	return r
}

// Execute runs source with a default runner. It returns nil when the script
// completed and its edits, if any, were committed.
func Execute(ctx context.Context, source string, getProject GetProjectFunc, commit CommitFunc) error {
	return NewRunner().Execute(ctx, source, getProject, commit)
}

// Execute runs source and reports only success or failure.
func (r *Runner) Execute(ctx context.Context, source string, getProject GetProjectFunc, commit CommitFunc) error {
	_, err := r.Run(ctx, source, getProject, commit)
	return err
}

// Run executes source against the project returned by getProject. On success
// the queued edits are passed to commit as one batch; on failure nothing is
// committed, the error is logged to the console and returned.
func (r *Runner) Run(ctx context.Context, source string, getProject GetProjectFunc, commit CommitFunc) (*Result, error) {
	id := uuid.NewString()
	logger := r.logger.WithScriptID(id)
	timer := telemetry.NewTimer()

	ctx, span := r.tracer.StartScriptSpan(ctx, id)
	defer span.End()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res, err := r.run(ctx, id, source, getProject, commit)
	if err != nil {
		r.log(telemetry.LevelError, err.Error())
		logger.WithError(err).Warn("script failed")
		r.metrics.RecordScriptRun("failed", timer.Duration())
		telemetry.RecordError(span, err)
		return nil, err
	}

	res.Duration = timer.Duration()
	logger.Debugf("script completed with %d command(s)", res.Commands)
	r.metrics.RecordScriptRun("completed", res.Duration)
	telemetry.RecordSuccess(span)
	return res, nil
}

func (r *Runner) run(ctx context.Context, id, source string, getProject GetProjectFunc, commit CommitFunc) (*Result, error) {
	if getProject == nil {
		return nil, &Error{Message: "no project"}
	}
	live := getProject()
	if live == nil {
		return nil, &Error{Message: "no project"}
	}

	tx := &transaction{runner: r, working: live}
	thread := &starlark.Thread{
		Name: "script",
		Print: func(_ *starlark.Thread, msg string) {
			r.log(telemetry.LevelInfo, msg)
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	if _, err := starlark.ExecFileOptions(fileOptions, thread, "script.star", source, tx.globals()); err != nil {
		return nil, scriptError(err)
	}

	res := &Result{ID: id, Commands: len(tx.pending)}
	if len(tx.pending) == 0 {
		return res, nil
	}
	res.Command = command.Batch(tx.pending, BatchName)
	if commit != nil {
		if err := commit(res.Command); err != nil {
			return nil, &Error{Message: fmt.Sprintf("commit: %v", err), Err: err}
		}
	}
	return res, nil
}

func (r *Runner) log(level telemetry.Level, msg string) {
	if r.console != nil {
		r.console.Append(level, Source, msg)
	}
}

func scriptError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		pos := ""
		for i := len(evalErr.CallStack) - 1; i >= 0; i-- {
			if p := evalErr.CallStack[i].Pos; p.IsValid() && p.Filename() != "<builtin>" {
				pos = p.String()
				break
			}
		}
		return &Error{Message: evalErr.Msg, Pos: pos, Err: err}
	}
	var synErr syntax.Error
	if errors.As(err, &synErr) {
		return &Error{Message: synErr.Msg, Pos: synErr.Pos.String(), Err: err}
	}
	return &Error{Message: err.Error(), Err: err}
}

// display renders console arguments: strings bare, everything else in
// Starlark syntax.
func display(args starlark.Tuple) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			parts[i] = s
		} else {
			parts[i] = a.String()
		}
	}
	return strings.Join(parts, " ")
}
