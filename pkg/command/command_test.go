package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegraph/framegraph/pkg/scene"
)

func fixture() *scene.Project {
	p := scene.NewProject()
	p = p.InsertNode(scene.NewNode(scene.NodeRect, "box"), 0)
	p = p.InsertNode(scene.NewVariable("speed", 2.0), 0)
	p = p.InsertNode(scene.NewNode(scene.NodeCircle, "dot"), 0)
	p = p.WithProperty("box", "x", scene.Expression("speed * t + ctx.get('dot', 'x')"))
	p = p.WithProperty("box", "y", scene.Ref("speed", scene.ValueKey))
	p = p.WithProperty("dot", "x", scene.Ref("box", "width"))
	return p.WithSelection("box")
}

// roundTrip checks redo followed by undo restores the starting project.
func roundTrip(t *testing.T, c *Command, p *scene.Project) *scene.Project {
	t.Helper()
	require.NotNil(t, c)
	after := c.Redo(p)
	assert.Equal(t, p, c.Undo(after), "undo(redo(p)) must equal p")
	assert.Equal(t, after, c.Redo(c.Undo(after)), "redo(undo(q)) must equal q")
	return after
}

func TestCommandIDs(t *testing.T) {
	a := ReorderNode(0, 1)
	b := ReorderNode(0, 1)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Contains(t, a.String(), a.ID)
}

func TestAddNode(t *testing.T) {
	p := fixture()
	c, id := AddNode(p, scene.NodeRect)
	assert.Equal(t, "rect_1", id)

	after := roundTrip(t, c, p)
	assert.Equal(t, "rect_1", after.RootNodeIDs[0])
	assert.Equal(t, "rect_1", after.SelectedID())
	n, ok := after.Node("rect_1")
	require.True(t, ok)
	assert.Equal(t, scene.NodeRect, n.Type)

	undone := c.Undo(after)
	assert.Equal(t, "box", undone.SelectedID(), "previous selection restored")
}

func TestAddNodeAllocatesNextFreeID(t *testing.T) {
	p := scene.NewProject().InsertNode(scene.NewNode(scene.NodeCircle, "circle_1"), 0)
	_, id := AddNode(p, scene.NodeCircle)
	assert.Equal(t, "circle_2", id)
}

func TestAddNodeUndoClearsEmptySelection(t *testing.T) {
	p := scene.NewProject()
	c, _ := AddNode(p, scene.NodeValue)
	after := c.Redo(p)
	assert.Nil(t, c.Undo(after).Selection)
}

func TestRemoveNode(t *testing.T) {
	p := fixture()
	require.Equal(t, []string{"dot", "speed", "box"}, p.RootNodeIDs)

	c := RemoveNode("speed", p)
	after := roundTrip(t, c, p)
	assert.False(t, after.Has("speed"))
	assert.Equal(t, []string{"dot", "box"}, after.RootNodeIDs)

	undone := c.Undo(after)
	assert.Equal(t, 1, undone.IndexOf("speed"), "reinserted at its old layer")
}

func TestRemoveNodeRestoresSelection(t *testing.T) {
	p := fixture()
	c := RemoveNode("box", p)
	after := c.Redo(p)
	assert.Nil(t, after.Selection)
	assert.Equal(t, "box", c.Undo(after).SelectedID())
}

func TestRemoveNodeClampsIndex(t *testing.T) {
	p := fixture()
	c := RemoveNode("box", p)
	after := c.Redo(p)

	// Shrink the list further before undoing.
	after = after.WithoutNode("dot").WithoutNode("speed")
	undone := c.Undo(after)
	assert.Equal(t, []string{"box"}, undone.RootNodeIDs)
}

func TestRemoveNodeMissing(t *testing.T) {
	assert.Nil(t, RemoveNode("ghost", fixture()))
}

func TestRenameNodeRejects(t *testing.T) {
	p := fixture()
	tests := []struct {
		name     string
		old, new string
	}{
		{"empty old", "", "x"},
		{"empty new", "box", ""},
		{"identical", "box", "box"},
		{"taken", "box", "dot"},
		{"missing", "ghost", "x"},
		{"colon", "box", "a:b"},
		{"space", "box", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, RenameNode(tt.old, tt.new, p))
		})
	}
}

func TestRenameValueNodePropagates(t *testing.T) {
	p := fixture()
	c := RenameNode("speed", "velocity", p)
	after := roundTrip(t, c, p)

	assert.False(t, after.Has("speed"))
	v, ok := after.Node("velocity")
	require.True(t, ok)
	assert.Equal(t, "velocity", v.ID)
	assert.Equal(t, 1, after.IndexOf("velocity"))

	box, _ := after.Node("box")
	x, _ := box.Property("x")
	assert.Equal(t, "velocity * t + ctx.get('dot', 'x')", x.Value)
	y, _ := box.Property("y")
	assert.Equal(t, "velocity:value", y.Value)

	dot, _ := after.Node("dot")
	orig, _ := p.Node("dot")
	assert.Same(t, orig, dot, "untouched nodes are shared")
}

func TestRenameVisualNodeRewritesCtxGetOnly(t *testing.T) {
	p := fixture().WithProperty("box", "label", scene.Expression("dot + 1"))
	c := RenameNode("dot", "spot", p)
	after := roundTrip(t, c, p)

	box, _ := after.Node("box")
	x, _ := box.Property("x")
	assert.Equal(t, "speed * t + ctx.get('spot', 'x')", x.Value)
	label, _ := box.Property("label")
	assert.Equal(t, "dot + 1", label.Value, "bare words only follow value nodes")
}

func TestRenameSelectedNode(t *testing.T) {
	p := fixture()
	c := RenameNode("box", "frame", p)
	after := roundTrip(t, c, p)

	assert.Equal(t, "frame", after.SelectedID())
	dot, _ := after.Node("dot")
	x, _ := dot.Property("x")
	assert.Equal(t, "frame:width", x.Value)
}

func TestRenameRewritesOwnProperties(t *testing.T) {
	p := fixture().WithProperty("box", "h", scene.Ref("box", "width"))
	after := RenameNode("box", "frame", p).Redo(p)

	n, _ := after.Node("frame")
	h, _ := n.Property("h")
	assert.Equal(t, "frame:width", h.Value)
}

func TestReorderNode(t *testing.T) {
	p := fixture()
	after := roundTrip(t, ReorderNode(0, 2), p)
	assert.Equal(t, []string{"speed", "box", "dot"}, after.RootNodeIDs)

	assert.Equal(t, p, ReorderNode(0, 9).Redo(p), "out of range is a no-op")
}

func TestSet(t *testing.T) {
	p := fixture()

	t.Run("value only keeps keyframes", func(t *testing.T) {
		kfs := []scene.Keyframe{{ID: "k", Time: 0, Value: 1.0, Easing: scene.EasingLinear}}
		q := p.WithProperty("box", "width", scene.Property{Type: scene.KindNumber, Value: 5.0, Keyframes: kfs})
		c := Set(q, "box", "width", scene.ValuePatch(9.0), nil, "")
		after := roundTrip(t, c, q)

		n, _ := after.Node("box")
		w, _ := n.Property("width")
		assert.Equal(t, 9.0, w.Value)
		assert.Len(t, w.Keyframes, 1)
	})

	t.Run("type switch", func(t *testing.T) {
		patch := scene.TypePatch(scene.KindExpression).WithValue("t * 2")
		after := roundTrip(t, Set(p, "box", "width", patch, nil, "Edit width"), p)

		n, _ := after.Node("box")
		w, _ := n.Property("width")
		assert.Equal(t, scene.KindExpression, w.Type)
	})

	t.Run("absent property is deleted on undo", func(t *testing.T) {
		c := Set(p, "box", "blur", scene.TypePatch(scene.KindNumber).WithValue(3.0), nil, "")
		after := roundTrip(t, c, p)

		n, _ := after.Node("box")
		_, ok := n.Property("blur")
		assert.True(t, ok)
		n, _ = c.Undo(after).Node("box")
		_, ok = n.Property("blur")
		assert.False(t, ok)
	})

	t.Run("absent property infers the kind", func(t *testing.T) {
		tests := []struct {
			key   string
			patch scene.Patch
			want  scene.Kind
		}{
			{"blur", scene.ValuePatch(3.0), scene.KindNumber},
			{"stroke", scene.ValuePatch("#ff0000"), scene.KindColor},
			{"label", scene.ValuePatch("hello"), scene.KindString},
			{"visible", scene.ValuePatch(true), scene.KindBoolean},
			{"glow", scene.KeyframesPatch([]scene.Keyframe{{ID: "k", Time: 0, Value: 0.5, Easing: scene.EasingLinear}}), scene.KindNumber},
			{"tint", scene.TypePatch(scene.KindColor), scene.KindColor},
		}
		for _, tt := range tests {
			after := roundTrip(t, Set(p, "box", tt.key, tt.patch, nil, ""), p)
			n, _ := after.Node("box")
			got, ok := n.Property(tt.key)
			require.True(t, ok, tt.key)
			assert.Equal(t, tt.want, got.Type, tt.key)
		}
	})

	t.Run("explicit old", func(t *testing.T) {
		old := scene.ValuePatch(1.0)
		c := Set(p, "box", "width", scene.ValuePatch(2.0), &old, "")
		after := c.Redo(p)
		n, _ := c.Undo(after).Node("box")
		w, _ := n.Property("width")
		assert.Equal(t, 1.0, w.Value)
	})

	t.Run("missing node is a no-op", func(t *testing.T) {
		c := Set(p, "ghost", "x", scene.ValuePatch(1.0), nil, "")
		assert.Equal(t, p, c.Redo(p))
		assert.Equal(t, p, c.Undo(p))
	})
}

func TestBatch(t *testing.T) {
	p := fixture()
	add, id := AddNode(p, scene.NodeRect)
	step1 := add.Redo(p)
	set := Set(step1, id, "x", scene.ValuePatch(42.0), nil, "")
	step2 := set.Redo(step1)
	rename := RenameNode(id, "hero", step2)

	b := Batch([]*Command{add, nil, set, rename}, "")
	assert.Equal(t, "Batch", b.Name)
	after := roundTrip(t, b, p)

	n, ok := after.Node("hero")
	require.True(t, ok)
	x, _ := n.Property("x")
	assert.Equal(t, 42.0, x.Value)
	assert.Equal(t, p, b.Undo(after))
}

func TestBatchEmpty(t *testing.T) {
	p := fixture()
	b := Batch(nil, "Nothing")
	assert.Equal(t, p, b.Redo(p))
	assert.Equal(t, p, b.Undo(p))
}

func TestClearProject(t *testing.T) {
	p := fixture()
	c := ClearProject(p)
	after := roundTrip(t, c, p)

	assert.Equal(t, 0, after.Len())
	assert.Empty(t, after.RootNodeIDs)
	assert.Nil(t, after.Selection)

	undone := c.Undo(after)
	assert.Equal(t, p.RootNodeIDs, undone.RootNodeIDs)
	assert.Equal(t, "box", undone.SelectedID())
}
