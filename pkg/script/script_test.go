package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/history"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

type harness struct {
	console *telemetry.LogService
	history *history.Manager
	runner  *Runner
}

func newHarness(p *scene.Project, opts ...Option) *harness {
	console := telemetry.NewLogService(100, nil)
	h := &harness{
		console: console,
		history: history.New(p),
	}
	h.runner = NewRunner(append([]Option{WithConsole(console)}, opts...)...)
	return h
}

func (h *harness) run(src string) (*Result, error) {
	return h.runner.Run(context.Background(), src, h.history.Project, func(c *command.Command) error {
		_, err := h.history.Commit(c)
		return err
	})
}

func (h *harness) messages() []string {
	var out []string
	for _, e := range h.console.Entries() {
		out = append(out, e.Message)
	}
	return out
}

func boxProject() *scene.Project {
	p := scene.NewProject().InsertNode(scene.NewNode(scene.NodeRect, "box"), 0)
	p = p.WithProperty("box", "width", scene.Expression("t * 10"))
	return p.WithTime(2)
}

func prop(t *testing.T, p *scene.Project, id, key string) scene.Property {
	t.Helper()
	n, ok := p.Node(id)
	require.True(t, ok, "node %s", id)
	v, ok := n.Property(key)
	require.True(t, ok, "property %s:%s", id, key)
	return v
}

func TestScriptFailureCommitsNothing(t *testing.T) {
	h := newHarness(scene.NewProject())

	_, err := h.run(`
addNode("rect")
addNode("circle")
addNode("value")
fail("boom")
`)
	require.Error(t, err)
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.NotEmpty(t, serr.Pos)

	assert.Equal(t, 0, h.history.Project().Len())
	assert.Empty(t, h.history.Past())

	entries := h.console.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, telemetry.LevelError, entries[0].Level)
	assert.Equal(t, Source, entries[0].Source)
}

func TestScriptCommitsOneBatch(t *testing.T) {
	h := newHarness(scene.NewProject())

	res, err := h.run(`
a = addNode("rect")
b = addNode("circle")
a.x = 42
`)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Commands)
	assert.NotEmpty(t, res.ID)

	past := h.history.Past()
	require.Len(t, past, 1)
	assert.Equal(t, BatchName, past[0].Name)

	p := h.history.Project()
	assert.Equal(t, []string{"circle_1", "rect_1"}, p.RootNodeIDs)
	assert.Equal(t, 42.0, prop(t, p, "rect_1", "x").Value)

	require.True(t, h.history.Undo())
	assert.Equal(t, 0, h.history.Project().Len())
}

func TestScriptWithoutEditsCommitsNothing(t *testing.T) {
	h := newHarness(boxProject())
	res, err := h.run(`log("hello", 1)`)
	require.NoError(t, err)
	assert.Nil(t, res.Command)
	assert.Empty(t, h.history.Past())
	assert.Equal(t, []string{"hello 1"}, h.messages())
}

func TestExecutePackageLevel(t *testing.T) {
	live := scene.NewProject()
	var committed *command.Command
	err := Execute(context.Background(), `addNode("vector")`, func() *scene.Project { return live }, func(c *command.Command) error {
		committed = c
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, committed)
	assert.True(t, committed.Redo(live).Has("vector_1"))
	assert.Equal(t, 0, live.Len(), "the live project is never touched directly")
}

func TestCommitErrorFailsTheRun(t *testing.T) {
	boom := errors.New("store offline")
	err := NewRunner().Execute(context.Background(), `addNode("rect")`, scene.NewProject, func(*command.Command) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestHandleReadsEvaluatedValues(t *testing.T) {
	h := newHarness(boxProject())
	_, err := h.run(`
log(box.width)
log(box.get("width"))
log(box.missing)
log(time)
log(box.id, box.type)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"20.0", "None", "2.0", "box rect"}, h.messages())
	assert.Equal(t, 2, h.console.Entries()[0].Count, "identical consecutive lines collapse")
}

func TestHandleWritesAreVisibleToLaterReads(t *testing.T) {
	h := newHarness(boxProject())
	_, err := h.run(`
box.x = 5
box.set("y", "#ff0000")
box.width = 7
log(box.x, box.y, box.width)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"5.0 #ff0000 7.0"}, h.messages())

	p := h.history.Project()
	assert.Equal(t, scene.KindColor, prop(t, p, "box", "y").Type)
	assert.Equal(t, scene.KindNumber, prop(t, p, "box", "width").Type, "assignment replaces the expression")
}

func TestCreateVariableFeedsExpressions(t *testing.T) {
	h := newHarness(scene.NewProject())
	_, err := h.run(`
createVariable("speed", 3)
b = addNode("rect")
b.expr("x", "speed * 2")
log(b.x)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"6.0"}, h.messages())

	p := h.history.Project()
	assert.Equal(t, scene.NodeValue, p.Nodes["speed"].Type)
	assert.Equal(t, scene.KindExpression, prop(t, p, "rect_1", "x").Type)
}

func TestCreateVariableRejectsBadNames(t *testing.T) {
	h := newHarness(boxProject())
	_, err := h.run(`createVariable("box")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = h.run(`addVariable("not valid", 1)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
}

func TestAddNodeWithID(t *testing.T) {
	h := newHarness(scene.NewProject())
	_, err := h.run(`addNode("circle", id = "sun")`)
	require.NoError(t, err)
	assert.True(t, h.history.Project().Has("sun"))

	_, err = h.run(`addNode("hexagon")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")
}

func TestLayerOrdering(t *testing.T) {
	p := scene.NewProject()
	for _, id := range []string{"c", "b", "a"} {
		p = p.InsertNode(scene.NewNode(scene.NodeRect, id), 0)
	}
	h := newHarness(p)

	_, err := h.run(`
moveDown(a)
moveUp("c")
moveUp(nodes()[0])
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, h.history.Project().RootNodeIDs)
}

func TestRemoveAndClear(t *testing.T) {
	p := boxProject().InsertNode(scene.NewVariable("speed", 1.0), 0)
	h := newHarness(p)

	_, err := h.run(`removeNode("speed")`)
	require.NoError(t, err)
	assert.False(t, h.history.Project().Has("speed"))

	_, err = h.run(`clear()`)
	require.NoError(t, err)
	assert.Equal(t, 0, h.history.Project().Len())

	require.True(t, h.history.Undo())
	assert.True(t, h.history.Project().Has("box"))

	_, err = h.run(`removeNode("ghost")`)
	require.Error(t, err)
}

func TestRenameThroughHandle(t *testing.T) {
	p := boxProject().InsertNode(scene.NewNode(scene.NodeCircle, "dot"), 0)
	p = p.WithProperty("dot", "x", scene.Ref("box", "width"))
	h := newHarness(p)

	_, err := h.run(`
box.rename("frame")
log(box.id, box.width)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame 20.0"}, h.messages())
	assert.Equal(t, "frame:width", prop(t, h.history.Project(), "dot", "x").Value)

	_, err = h.run(`frame.rename("dot")`)
	require.Error(t, err)
}

func TestRemovedHandleFails(t *testing.T) {
	h := newHarness(boxProject())
	_, err := h.run(`
box.remove()
box.x
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no longer exists")
	assert.True(t, h.history.Project().Has("box"))
}

func TestLinkAndCycleWarning(t *testing.T) {
	p := boxProject().InsertNode(scene.NewNode(scene.NodeCircle, "dot"), 0)
	h := newHarness(p)

	_, err := h.run(`
dot.link("x", box, "width")
box.link("height", "dot:x")
box.link("width", dot, "x")
`)
	require.NoError(t, err, "cycles are advisory")

	live := h.history.Project()
	assert.Equal(t, "box:width", prop(t, live, "dot", "x").Value)
	assert.Equal(t, scene.KindRef, prop(t, live, "box", "width").Type)

	entries := h.console.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, telemetry.LevelWarn, entries[0].Level)
	assert.Contains(t, entries[0].Message, "cycle")

	_, err = h.run(`box.link("x", "nocolon")`)
	require.Error(t, err)
}

func TestKeyframes(t *testing.T) {
	h := newHarness(boxProject().WithTime(5))
	_, err := h.run(`
box.keyframe("x", 10, 100)
box.keyframe("x", 0, 0)
box.keyframe("x", 10, 80, easing = "linear")
log(box.x)
box.keyframe("glow", 0, 1.5)
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"40.0"}, h.messages())

	x := prop(t, h.history.Project(), "box", "x")
	require.Len(t, x.Keyframes, 2)
	assert.Equal(t, 0.0, x.Keyframes[0].Time)
	assert.Equal(t, 80.0, x.Keyframes[1].Value)

	glow := prop(t, h.history.Project(), "box", "glow")
	assert.Equal(t, scene.KindNumber, glow.Type)
	assert.Len(t, glow.Keyframes, 1)

	_, err = h.run(`box.clear_keyframes("x")`)
	require.NoError(t, err)
	assert.Empty(t, prop(t, h.history.Project(), "box", "x").Keyframes)

	_, err = h.run(`box.keyframe("width", 0, 1)`)
	require.Error(t, err, "expressions take no keyframes")

	_, err = h.run(`box.keyframe("x", 0, 1, easing = "bounce")`)
	require.Error(t, err)
}

func TestRaw(t *testing.T) {
	h := newHarness(boxProject())
	_, err := h.run(`
r = box.raw("width")
log(r["type"], r["value"], len(r["keyframes"]))
log(box.raw("nope"))
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"expression t * 10 0", "None"}, h.messages())
}

func TestExpressionHelpersAvailable(t *testing.T) {
	h := newHarness(scene.NewProject())
	_, err := h.run(`log(Math.max(1, 4), parseInt("12px"))`)
	require.NoError(t, err)
	assert.Equal(t, []string{"4.0 12.0"}, h.messages())
}

func TestSyntaxError(t *testing.T) {
	h := newHarness(scene.NewProject())
	_, err := h.run("addNode(\"rect\"\n")
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Contains(t, serr.Pos, "script.star")
}

func TestStepBudget(t *testing.T) {
	h := newHarness(scene.NewProject(), WithMaxSteps(1000))
	_, err := h.run(`
addNode("rect")
while True:
    pass
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")
	assert.Empty(t, h.history.Past())
}

func TestTimeout(t *testing.T) {
	h := newHarness(scene.NewProject(), WithTimeout(20*time.Millisecond))
	_, err := h.run(`
while True:
    pass
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel")
}

func TestRunWithTelemetry(t *testing.T) {
	tel := telemetry.NewNop()
	h := newHarness(scene.NewProject(), WithMetrics(tel.Metrics), WithTracer(tel.Tracer), WithLogger(tel.Logger))
	_, err := h.run(`addNode("rect")`)
	require.NoError(t, err)
	_, err = h.run(`fail("x")`)
	require.Error(t, err)
}
