package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegraph/framegraph/pkg/scene"
)

func node(id string, t scene.NodeType, props map[string]scene.Property) *scene.Node {
	return &scene.Node{ID: id, Type: t, Properties: props}
}

func nodes(ns ...*scene.Node) map[string]*scene.Node {
	out := make(map[string]*scene.Node, len(ns))
	for _, n := range ns {
		out[n.ID] = n
	}
	return out
}

func TestWouldCreateCycle(t *testing.T) {
	tests := []struct {
		name  string
		nodes map[string]*scene.Node
		src   PropKey
		tgt   PropKey
		want  bool
	}{
		{
			name: "mutual refs",
			nodes: nodes(
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Ref("B", "y")}),
				node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Ref("A", "x")}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "y"},
			want: true,
		},
		{
			name: "acyclic chain",
			nodes: nodes(
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Ref("B", "x")}),
				node("B", scene.NodeRect, map[string]scene.Property{"x": scene.Ref("C", "x")}),
				node("C", scene.NodeRect, map[string]scene.Property{"x": scene.Number(1)}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "x"},
			want: false,
		},
		{
			name: "self link",
			nodes: nodes(
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"A", "x"},
			want: true,
		},
		{
			name: "through ctx.get",
			nodes: nodes(
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
				node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Expression(`ctx.get("A", 'x') * 2`)}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "y"},
			want: true,
		},
		{
			name: "through variable word",
			nodes: nodes(
				node("speed", scene.NodeValue, map[string]scene.Property{"value": scene.Expression("ctx.get('A','x') + 1")}),
				node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Expression("speed * t")}),
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "y"},
			want: true,
		},
		{
			name: "word match needs boundaries",
			nodes: nodes(
				node("speed", scene.NodeValue, map[string]scene.Property{"value": scene.Ref("A", "x")}),
				node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Expression("speedy + t")}),
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "y"},
			want: false,
		},
		{
			name: "shared sub-references terminate",
			nodes: nodes(
				node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
				node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Expression("ctx.get('C','z') + ctx.get('C','z')")}),
				node("C", scene.NodeRect, map[string]scene.Property{"z": scene.Expression("ctx.get('B','y')")}),
			),
			src:  PropKey{"A", "x"},
			tgt:  PropKey{"B", "y"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WouldCreateCycle(tt.nodes, tt.src.Node, tt.src.Key, tt.tgt.Node, tt.tgt.Key)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionWouldCreateCycle(t *testing.T) {
	ns := nodes(
		node("A", scene.NodeRect, map[string]scene.Property{"x": scene.Number(0)}),
		node("B", scene.NodeRect, map[string]scene.Property{"y": scene.Ref("A", "x")}),
	)

	target, ok := ExpressionWouldCreateCycle(ns, "A", "x", "ctx.get('B','y') + 1")
	assert.True(t, ok)
	assert.Equal(t, PropKey{"B", "y"}, target)

	_, ok = ExpressionWouldCreateCycle(ns, "A", "x", "sin(t)")
	assert.False(t, ok)

	assert.True(t, LinkWouldCreateCycle(ns, "A", "x", "B:y"))
	assert.False(t, LinkWouldCreateCycle(ns, "A", "x", "broken"))
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		src, word string
		want      bool
	}{
		{"speed * 2", "speed", true},
		{"a+speed", "speed", true},
		{"speed", "speed", true},
		{"speedy", "speed", false},
		{"_speed", "speed", false},
		{"$speed", "speed", false},
		{"x.speed", "speed", true},
		{"'speed'", "speed", true},
		{"speedy speed", "speed", true},
		{"", "speed", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsWord(tt.src, tt.word), "%q in %q", tt.word, tt.src)
	}
}

func TestRewriteExpression(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		variable bool
		want     string
	}{
		{"single quotes", "ctx.get('A','x') + 1", false, "ctx.get('Z','x') + 1"},
		{"double quotes", `ctx.get("A", "x")`, false, `ctx.get("Z", "x")`},
		{"other node untouched", "ctx.get('AB','x')", false, "ctx.get('AB','x')"},
		{"bare word skipped for visual nodes", "A * 2", false, "A * 2"},
		{"bare word for variables", "A * 2 + AB + A", true, "Z * 2 + AB + Z"},
		{"both", "ctx.get('A','value') + A", true, "ctx.get('Z','value') + Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteExpression(tt.src, "A", "Z", tt.variable))
		})
	}
}

func TestRenameInProperty(t *testing.T) {
	got, changed := RenameInProperty(scene.Ref("A", "x"), "A", "Z", false)
	assert.True(t, changed)
	assert.Equal(t, "Z:x", got.Value)

	_, changed = RenameInProperty(scene.Ref("B", "x"), "A", "Z", false)
	assert.False(t, changed)

	_, changed = RenameInProperty(scene.Number(1), "A", "Z", true)
	assert.False(t, changed)
}

func dagProject() *scene.Project {
	p := scene.NewProject()
	p = p.InsertNode(node("base", scene.NodeValue, map[string]scene.Property{"value": scene.Number(3)}), 0)
	p = p.InsertNode(node("box", scene.NodeRect, map[string]scene.Property{
		"x":     scene.Expression("base * 10"),
		"y":     scene.Expression("prop('x') + 1"),
		"width": scene.Ref("ghost", "w"),
	}), 0)
	return p
}

func TestBuildLevels(t *testing.T) {
	g := Build(dagProject())

	require.Len(t, g.Levels, 3)
	assert.Equal(t, []PropKey{{"box", "width"}, {"base", "value"}}, g.Levels[0])
	assert.Equal(t, []PropKey{{"box", "x"}}, g.Levels[1])
	assert.Equal(t, []PropKey{{"box", "y"}}, g.Levels[2])
	assert.Empty(t, g.Cyclic)
	require.Len(t, g.Dangling, 1)
	assert.Equal(t, PropKey{"ghost", "w"}, g.Dangling[0].From)
	assert.Len(t, g.Order(), 4)
}

func TestBuildCyclic(t *testing.T) {
	p := dagProject()
	p = p.WithProperty("base", "value", scene.Expression("ctx.get('box','y')"))

	g := Build(p)
	assert.ElementsMatch(t, []PropKey{{"box", "x"}, {"box", "y"}, {"base", "value"}}, g.Cyclic)
	assert.True(t, g.IsCyclic(PropKey{"box", "x"}))
	assert.False(t, g.IsCyclic(PropKey{"box", "width"}))

	cycles := g.FindCycles()
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 4)
	assert.Equal(t, cycles[0][0], cycles[0][3])
}

func TestToDOT(t *testing.T) {
	dot := Build(dagProject()).ToDOT()
	assert.True(t, strings.HasPrefix(dot, "digraph Dependencies {"))
	assert.Contains(t, dot, `"base:value" -> "box:x" [style=dashed, color=darkgreen];`)
	assert.Contains(t, dot, `"box:x" -> "box:y" [style=dotted, color=gray];`)
	assert.Contains(t, dot, "cluster_level_2")
}
