package expr

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/framegraph/framegraph/pkg/keyframe"
)

// globals is the fixed allow-list of host helpers visible to every expression.
// Built once and frozen.
var globals = buildGlobals()

// AllowList returns the names of the host helpers in resolution order.
func AllowList() []string {
	return []string{
		"Math", "math", "Date", "time", "JSON", "json", "Array", "Object",
		"String", "Number", "Boolean", "RegExp",
		"parseInt", "parseFloat", "isNaN", "isFinite",
	}
}

// Globals returns a copy of the host helper table. The values are frozen and
// may be shared.
func Globals() starlark.StringDict {
	out := make(starlark.StringDict, len(globals))
	for k, v := range globals {
		out[k] = v
	}
	return out
}

func buildGlobals() starlark.StringDict {
	g := starlark.StringDict{
		"Math":       mathModule(),
		"math":       starmath.Module,
		"Date":       dateModule(),
		"time":       startime.Module,
		"JSON":       jsonModule(),
		"json":       starjson.Module,
		"Array":      arrayModule(),
		"Object":     objectModule(),
		"String":     starlark.NewBuiltin("String", builtinString),
		"Number":     starlark.NewBuiltin("Number", builtinNumber),
		"Boolean":    starlark.NewBuiltin("Boolean", builtinBoolean),
		"RegExp":     starlark.NewBuiltin("RegExp", builtinRegExp),
		"parseInt":   starlark.NewBuiltin("parseInt", builtinParseInt),
		"parseFloat": starlark.NewBuiltin("parseFloat", builtinParseFloat),
		"isNaN":      starlark.NewBuiltin("isNaN", builtinIsNaN),
		"isFinite":   starlark.NewBuiltin("isFinite", builtinIsFinite),
	}
	g.Freeze()
	return g
}

func unary(name string, fn func(float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		return starlark.Float(fn(jsNumber(x))), nil
	})
}

func binary(name string, fn func(float64, float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
			return nil, err
		}
		return starlark.Float(fn(jsNumber(x), jsNumber(y))), nil
	})
}

func variadic(name string, empty float64, fn func(a, b float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		acc := empty
		for _, a := range args {
			acc = fn(acc, jsNumber(a))
		}
		return starlark.Float(acc), nil
	})
}

// mathModule mirrors the usual Math helper names on top of the Go math package.
func mathModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "Math",
		Members: starlark.StringDict{
			"abs":   unary("abs", math.Abs),
			"acos":  unary("acos", math.Acos),
			"asin":  unary("asin", math.Asin),
			"atan":  unary("atan", math.Atan),
			"atan2": binary("atan2", math.Atan2),
			"ceil":  unary("ceil", math.Ceil),
			"cos":   unary("cos", math.Cos),
			"exp":   unary("exp", math.Exp),
			"floor": unary("floor", math.Floor),
			"hypot": variadic("hypot", 0, func(a, b float64) float64 { return math.Hypot(a, b) }),
			"log":   unary("log", math.Log),
			"log2":  unary("log2", math.Log2),
			"log10": unary("log10", math.Log10),
			"max":   variadic("max", math.Inf(-1), math.Max),
			"min":   variadic("min", math.Inf(1), math.Min),
			"pow":   binary("pow", math.Pow),
			"round": unary("round", func(x float64) float64 { return math.Floor(x + 0.5) }),
			"sign": unary("sign", func(x float64) float64 {
				switch {
				case x > 0:
					return 1
				case x < 0:
					return -1
				}
				return x
			}),
			"sin":   unary("sin", math.Sin),
			"sqrt":  unary("sqrt", math.Sqrt),
			"tan":   unary("tan", math.Tan),
			"trunc": unary("trunc", math.Trunc),
			"random": starlark.NewBuiltin("random", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return starlark.Float(rand.Float64()), nil
			}),
			"PI":    starlark.Float(math.Pi),
			"E":     starlark.Float(math.E),
			"LN2":   starlark.Float(math.Ln2),
			"LN10":  starlark.Float(math.Ln10),
			"SQRT2": starlark.Float(math.Sqrt2),
		},
	}
}

func dateModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "Date",
		Members: starlark.StringDict{
			"now": starlark.NewBuiltin("now", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return starlark.Float(float64(time.Now().UnixMilli())), nil
			}),
		},
	}
}

func jsonModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "JSON",
		Members: starlark.StringDict{
			"stringify": starjson.Module.Members["encode"],
			"parse":     starjson.Module.Members["decode"],
		},
	}
}

// arrayModule provides Array.isArray, Array.of and Array.from_. "from" is a
// reserved word in Starlark, hence the trailing underscore.
func arrayModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "Array",
		Members: starlark.StringDict{
			"isArray": starlark.NewBuiltin("isArray", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var x starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
					return nil, err
				}
				switch x.(type) {
				case *starlark.List, starlark.Tuple:
					return starlark.True, nil
				}
				return starlark.False, nil
			}),
			"of": starlark.NewBuiltin("of", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
				return starlark.NewList(append([]starlark.Value(nil), args...)), nil
			}),
			"from_": starlark.NewBuiltin("from_", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var it starlark.Iterable
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &it); err != nil {
					return nil, err
				}
				iter := it.Iterate()
				defer iter.Done()
				var out []starlark.Value
				var x starlark.Value
				for iter.Next(&x) {
					out = append(out, x)
				}
				return starlark.NewList(out), nil
			}),
		},
	}
}

func objectModule() *starlarkstruct.Module {
	items := func(name string, pick func(k, v starlark.Value) starlark.Value) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var d starlark.IterableMapping
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &d); err != nil {
				return nil, err
			}
			var out []starlark.Value
			for _, kv := range d.Items() {
				out = append(out, pick(kv[0], kv[1]))
			}
			return starlark.NewList(out), nil
		})
	}

	return &starlarkstruct.Module{
		Name: "Object",
		Members: starlark.StringDict{
			"keys":    items("keys", func(k, _ starlark.Value) starlark.Value { return k }),
			"values":  items("values", func(_, v starlark.Value) starlark.Value { return v }),
			"entries": items("entries", func(k, v starlark.Value) starlark.Value { return starlark.NewList([]starlark.Value{k, v}) }),
			"assign": starlark.NewBuiltin("assign", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
				out := starlark.NewDict(0)
				for i, a := range args {
					d, ok := a.(starlark.IterableMapping)
					if !ok {
						return nil, fmt.Errorf("%s: argument %d is not a mapping", b.Name(), i+1)
					}
					for _, kv := range d.Items() {
						if err := out.SetKey(kv[0], kv[1]); err != nil {
							return nil, err
						}
					}
				}
				return out, nil
			}),
		},
	}
}

func oneArg(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x := starlark.Value(starlark.None)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &x); err != nil {
		return nil, err
	}
	return x, nil
}

func builtinString(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return starlark.String(""), nil
	}
	if f, ok := x.(starlark.Float); ok {
		return starlark.String(formatNumber(float64(f))), nil
	}
	return starlark.String(display(x)), nil
}

func builtinNumber(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(jsNumber(x)), nil
}

func builtinBoolean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if f, ok := x.(starlark.Float); ok && math.IsNaN(float64(f)) {
		return starlark.False, nil
	}
	return starlark.Bool(x.Truth()), nil
}

func builtinParseInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		x     starlark.Value
		radix = 10
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &radix); err != nil {
		return nil, err
	}
	if radix < 2 || radix > 36 {
		return starlark.Float(math.NaN()), nil
	}

	s := strings.TrimSpace(display(x))
	sign := 1.0
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if radix == 16 {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	}

	end := 0
	for end < len(s) {
		if d := digitValue(s[end]); d < 0 || d >= radix {
			break
		}
		end++
	}
	if end == 0 {
		return starlark.Float(math.NaN()), nil
	}
	n, err := strconv.ParseInt(s[:end], radix, 64)
	if err != nil {
		return starlark.Float(math.NaN()), nil
	}
	return starlark.Float(sign * float64(n)), nil
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

func builtinParseFloat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if f, ok := toFloat(x); ok {
		return starlark.Float(f), nil
	}
	f, ok := keyframe.ParseFloat(display(x))
	if !ok {
		return starlark.Float(math.NaN()), nil
	}
	return starlark.Float(f), nil
}

func builtinIsNaN(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(math.IsNaN(jsNumber(x))), nil
}

func builtinIsFinite(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	f := jsNumber(x)
	return starlark.Bool(!math.IsNaN(f) && !math.IsInf(f, 0)), nil
}

// builtinRegExp compiles a pattern into a struct exposing test, match and
// replace. The "i" and "g" flags are honoured.
func builtinRegExp(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pattern, flags string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &pattern, &flags); err != nil {
		return nil, err
	}
	src := pattern
	if strings.Contains(flags, "i") {
		src = "(?i)" + src
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	global := strings.Contains(flags, "g")

	str := func(name string, fn func(s string) starlark.Value) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return fn(s), nil
		})
	}

	rx := starlarkstruct.FromStringDict(starlark.String("RegExp"), starlark.StringDict{
		"source": starlark.String(pattern),
		"flags":  starlark.String(flags),
		"test":   str("test", func(s string) starlark.Value { return starlark.Bool(re.MatchString(s)) }),
		"match": str("match", func(s string) starlark.Value {
			m := re.FindStringSubmatch(s)
			if m == nil {
				return starlark.None
			}
			out := make([]starlark.Value, len(m))
			for i, g := range m {
				out[i] = starlark.String(g)
			}
			return starlark.NewList(out)
		}),
		"replace": starlark.NewBuiltin("replace", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s, repl string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &repl); err != nil {
				return nil, err
			}
			if global {
				return starlark.String(re.ReplaceAllString(s, repl)), nil
			}
			loc := re.FindStringSubmatchIndex(s)
			if loc == nil {
				return starlark.String(s), nil
			}
			var dst []byte
			dst = re.ExpandString(dst, repl, s, loc)
			return starlark.String(s[:loc[0]] + string(dst) + s[loc[1]:]), nil
		}),
	})
	rx.Freeze()
	return rx, nil
}

// jsNumber is the strict numeric conversion: unparseable strings are NaN.
func jsNumber(v starlark.Value) float64 {
	switch x := v.(type) {
	case starlark.NoneType:
		return 0
	case starlark.Bool:
		if x {
			return 1
		}
		return 0
	case starlark.String:
		s := strings.TrimSpace(string(x))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return math.NaN()
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
