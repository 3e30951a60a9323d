package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/scene"
)

func setWidth(p *scene.Project, w float64) *command.Command {
	return command.Set(p, "box", "width", scene.ValuePatch(w), nil, fmt.Sprintf("width %v", w))
}

func width(t *testing.T, p *scene.Project) float64 {
	t.Helper()
	n, ok := p.Node("box")
	require.True(t, ok)
	w, _ := n.Property("width")
	return w.Value.(float64)
}

func newManager(opts ...Option) *Manager {
	p := scene.NewProject().InsertNode(scene.NewNode(scene.NodeRect, "box"), 0)
	p = p.WithProperty("box", "width", scene.Number(0))
	return New(p, opts...)
}

// commitWidths commits width = 1..n, each command built against the live state.
func commitWidths(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := m.Commit(setWidth(m.Project(), float64(i)))
		require.NoError(t, err)
	}
}

func TestCommitUndoRedo(t *testing.T) {
	m := newManager()
	start := m.Project()
	commitWidths(t, m, 3)

	assert.Equal(t, 3.0, width(t, m.Project()))
	assert.Len(t, m.Past(), 3)
	assert.Empty(t, m.Future())

	require.True(t, m.Undo())
	assert.Equal(t, 2.0, width(t, m.Project()))
	require.Len(t, m.Future(), 1)
	assert.Equal(t, "width 3", m.Future()[0].Name)

	require.True(t, m.Redo())
	assert.Equal(t, 3.0, width(t, m.Project()))

	for m.Undo() {
	}
	assert.Equal(t, start, m.Project())
	assert.False(t, m.CanUndo())
	assert.True(t, m.CanRedo())
	assert.False(t, newManager().Redo())
}

func TestCommitClearsFuture(t *testing.T) {
	m := newManager()
	commitWidths(t, m, 2)
	m.Undo()
	require.True(t, m.CanRedo())

	_, err := m.Commit(setWidth(m.Project(), 9))
	require.NoError(t, err)
	assert.Empty(t, m.Future())
	assert.Equal(t, 9.0, width(t, m.Project()))
}

func TestCommitNil(t *testing.T) {
	_, err := newManager().Commit(nil)
	assert.ErrorIs(t, err, ErrNilCommand)
}

func TestHistoryCap(t *testing.T) {
	m := newManager(WithLimit(5))
	commitWidths(t, m, 8)

	past := m.Past()
	require.Len(t, past, 5)
	assert.Equal(t, "width 4", past[0].Name, "oldest commands are evicted")

	for m.Undo() {
	}
	assert.Equal(t, 3.0, width(t, m.Project()), "evicted steps cannot be undone")
}

func TestDefaultLimit(t *testing.T) {
	m := newManager(WithLimit(0))
	assert.Equal(t, DefaultLimit, m.Limit())

	commitWidths(t, m, DefaultLimit+1)
	assert.Len(t, m.Past(), DefaultLimit)
}

func TestJumpToHistory(t *testing.T) {
	m := newManager()
	start := m.Project()
	commitWidths(t, m, 4)

	require.NoError(t, m.JumpToHistory(1))
	assert.Equal(t, 2.0, width(t, m.Project()))
	assert.Len(t, m.Past(), 2)
	assert.Len(t, m.Future(), 2)

	require.NoError(t, m.JumpToHistory(3))
	assert.Equal(t, 4.0, width(t, m.Project()))
	assert.Empty(t, m.Future())

	require.NoError(t, m.JumpToHistory(-1))
	assert.Equal(t, start, m.Project())
	assert.Len(t, m.Future(), 4)

	assert.ErrorIs(t, m.JumpToHistory(4), ErrOutOfRange)
	assert.ErrorIs(t, m.JumpToHistory(-2), ErrOutOfRange)
}

func TestListener(t *testing.T) {
	var changes []Change
	m := newManager(WithListener(func(c Change) { changes = append(changes, c) }))

	commitWidths(t, m, 2)
	m.Undo()
	m.Redo()
	require.NoError(t, m.JumpToHistory(-1))
	require.NoError(t, m.JumpToHistory(-1))
	m.Replace(m.Project().WithTime(2))
	m.Reset(nil)

	ops := make([]Op, len(changes))
	for i, c := range changes {
		ops[i] = c.Op
	}
	assert.Equal(t, []Op{OpCommit, OpCommit, OpUndo, OpRedo, OpJump, OpReplace, OpReset}, ops)
	assert.Equal(t, -2, changes[4].Steps)
	assert.Equal(t, 0, changes[4].Past)
	assert.Equal(t, 2, changes[4].Future)
	assert.NotNil(t, changes[0].Command)
}

func TestReplaceKeepsStacks(t *testing.T) {
	m := newManager()
	commitWidths(t, m, 1)

	m.Replace(m.Project().WithTime(4))
	assert.Equal(t, 4.0, m.Project().Meta.CurrentTime)
	assert.Len(t, m.Past(), 1)

	m.Reset(nil)
	assert.Empty(t, m.Past())
	assert.Equal(t, 0, m.Project().Len())
}

func TestPastIsACopy(t *testing.T) {
	m := newManager()
	commitWidths(t, m, 1)
	past := m.Past()
	past[0] = nil
	assert.NotNil(t, m.Past()[0])
}
