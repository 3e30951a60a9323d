// Package expr runs property expressions in a Starlark sandbox.
//
// An expression sees only an explicit symbol table. Names resolve in this
// order: the scope bindings t, val, ctx, prop and console; the host helpers
// in AllowList; the id of a value node (evaluated through ctx.get); the
// Starlark builtins such as len; and finally None. There is no load(), no file or network access, and every
// value handed to the expression is frozen.
package expr

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/framegraph/framegraph/pkg/telemetry"
)

const (
	filename    = "expression"
	resultName  = "__value__"
	wrapperName = "__frame__"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Audio is the per-frame analysis the renderer supplies. The core only reads it.
type Audio struct {
	Bass   float64   `json:"bass"`
	Mid    float64   `json:"mid"`
	High   float64   `json:"high"`
	Treble float64   `json:"treble"`
	FFT    []float64 `json:"fft"`
}

// Scope is everything one evaluation may touch.
type Scope struct {
	// Time is bound to t.
	Time float64

	// Val is bound to val; nil means 0.
	Val any

	// Get resolves ctx.get(nodeID, key). The caller binds recursion depth.
	Get func(nodeID, key string) any

	// Prop resolves a sibling property on the same node.
	Prop func(key string) any

	// IsVariable reports whether name is the id of a value node.
	IsVariable func(name string) bool

	Audio Audio

	// Log receives console output. Nil discards it.
	Log func(level telemetry.Level, message string)
}

// Runtime compiles and runs expressions. It is safe for concurrent use.
type Runtime struct {
	maxSteps uint64
	cache    *programCache
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxSteps bounds the Starlark execution steps of one evaluation.
// Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(r *Runtime) { r.maxSteps = n }
}

// WithCacheSize sets how many compiled programs are kept. Zero disables
// caching.
func WithCacheSize(n int) Option {
	return func(r *Runtime) { r.cache = newProgramCache(n) }
}

// NewRuntime creates a runtime with a 256-entry program cache.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{cache: newProgramCache(256)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CacheLen returns the number of cached programs.
func (r *Runtime) CacheLen() int { return r.cache.Len() }

// program is a compiled expression plus the free names it reads.
type program struct {
	prog  *starlark.Program
	names []string
}

// Eval compiles src (or fetches it from the cache) and runs it against scope.
func (r *Runtime) Eval(src string, scope Scope) (any, error) {
	p, err := r.compile(src)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			if scope.Log != nil {
				scope.Log(telemetry.LevelInfo, msg)
			}
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}

	predeclared := make(starlark.StringDict, len(p.names))
	for _, name := range p.names {
		v := scope.resolve(name)
		v.Freeze()
		predeclared[name] = v
	}

	globals, err := p.prog.Init(thread, predeclared)
	if err != nil {
		return nil, unwrapEvalError(err)
	}
	return FromValue(globals[resultName])
}

func (r *Runtime) compile(src string) (*program, error) {
	if p, ok := r.cache.get(src); ok {
		return p, nil
	}
	p, err := compileProgram(src)
	if err != nil {
		return nil, err
	}
	r.cache.put(src, p)
	return p, nil
}

func compileProgram(src string) (*program, error) {
	var names []string
	seen := make(map[string]bool)

	_, prog, err := starlark.SourceProgramOptions(fileOptions, filename, wrap(src), func(name string) bool {
		switch name {
		case "None", "True", "False":
			return false
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return &program{prog: prog, names: names}, nil
}

// CheckSyntax parses and resolves src without running it.
func CheckSyntax(src string) error {
	_, err := compileProgram(src)
	return err
}

// wrap turns src into a file whose result lands in __value__. A lone
// expression is assigned directly; anything else becomes the body of a
// function whose return value is used.
func wrap(src string) string {
	if strings.TrimSpace(src) == "" {
		return resultName + " = None\n"
	}
	if _, err := fileOptions.ParseExpr(filename, src, 0); err == nil {
		return resultName + " = (\n" + src + "\n)\n"
	}

	var sb strings.Builder
	sb.WriteString("def " + wrapperName + "():\n")
	for _, line := range strings.Split(dedent(src), "\n") {
		sb.WriteString("\t" + line + "\n")
	}
	sb.WriteString("\tpass\n")
	sb.WriteString(resultName + " = " + wrapperName + "()\n")
	return sb.String()
}

// dedent strips the whitespace prefix shared by every non-blank line.
func dedent(src string) string {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lead := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix, first = lead, false
			continue
		}
		for !strings.HasPrefix(lead, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

func unwrapEvalError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("%s", evalErr.Msg)
	}
	return err
}

func (s Scope) resolve(name string) starlark.Value {
	switch name {
	case "t":
		return starlark.Float(s.Time)
	case "val":
		if s.Val == nil {
			return starlark.Float(0)
		}
		return mustValue(s.Val)
	case "ctx":
		return &contextValue{scope: s}
	case "prop":
		return starlark.NewBuiltin("prop", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
				return nil, err
			}
			if s.Prop == nil {
				return starlark.None, nil
			}
			return mustValue(s.Prop(key)), nil
		})
	case "console":
		return s.console()
	}

	if v, ok := globals[name]; ok {
		return v
	}
	if s.IsVariable != nil && s.IsVariable(name) && s.Get != nil {
		return mustValue(s.Get(name, "value"))
	}
	// Starlark builtins such as len or str come after value nodes.
	if v, ok := starlark.Universe[name]; ok {
		return v
	}
	return starlark.None
}

func (s Scope) console() starlark.Value {
	method := func(level telemetry.Level) *starlark.Builtin {
		return starlark.NewBuiltin(string(level), func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			if s.Log != nil {
				parts := make([]string, len(args))
				for i, a := range args {
					parts[i] = display(a)
				}
				s.Log(level, strings.Join(parts, " "))
			}
			return starlark.None, nil
		})
	}
	return starlarkstruct.FromStringDict(starlark.String("console"), starlark.StringDict{
		"log":   method(telemetry.LevelInfo),
		"info":  method(telemetry.LevelInfo),
		"debug": method(telemetry.LevelDebug),
		"warn":  method(telemetry.LevelWarn),
		"error": method(telemetry.LevelError),
	})
}

// contextValue is the ctx binding: cross-node reads plus audio analysis.
type contextValue struct {
	scope Scope
}

var (
	_ starlark.HasAttrs = (*contextValue)(nil)
)

func (c *contextValue) String() string        { return "<ctx>" }
func (c *contextValue) Type() string          { return "ctx" }
func (c *contextValue) Freeze()               {}
func (c *contextValue) Truth() starlark.Bool  { return starlark.True }
func (c *contextValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: ctx") }

func (c *contextValue) AttrNames() []string {
	return []string{"bass", "fft", "get", "high", "mid", "treble"}
}

func (c *contextValue) Attr(name string) (starlark.Value, error) {
	a := c.scope.Audio
	switch name {
	case "get":
		return starlark.NewBuiltin("get", c.get), nil
	case "bass":
		return starlark.Float(a.Bass), nil
	case "mid":
		return starlark.Float(a.Mid), nil
	case "high":
		return starlark.Float(a.High), nil
	case "treble":
		return starlark.Float(a.Treble), nil
	case "fft":
		v, _ := ToValue(a.FFT)
		v.Freeze()
		return v, nil
	}
	return nil, nil
}

func (c *contextValue) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var nodeID, key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &nodeID, &key); err != nil {
		return nil, err
	}
	if c.scope.Get == nil {
		return starlark.Float(0), nil
	}
	v := mustValue(c.scope.Get(nodeID, key))
	v.Freeze()
	return v, nil
}
