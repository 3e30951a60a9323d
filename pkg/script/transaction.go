package script

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/eval"
	"github.com/framegraph/framegraph/pkg/expr"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// transaction is the working state of one run.
type transaction struct {
	runner  *Runner
	working *scene.Project
	pending []*command.Command
}

// apply runs c against the working state and queues it.
func (tx *transaction) apply(c *command.Command) {
	if c == nil {
		return
	}
	tx.working = c.Redo(tx.working)
	tx.pending = append(tx.pending, c)
}

// value evaluates nodeID's key at the working state's current time.
func (tx *transaction) value(nodeID, key string) any {
	pc := eval.NewProjectContext(tx.runner.eval, tx.working, tx.working.Meta.CurrentTime)
	return pc.Value(nodeID, key)
}

func (tx *transaction) warn(format string, args ...any) {
	tx.runner.log(telemetry.LevelWarn, fmt.Sprintf(format, args...))
}

// globals builds the script's symbol table: the expression helpers, the
// editing functions and one handle per existing node with an identifier id.
func (tx *transaction) globals() starlark.StringDict {
	g := expr.Globals()

	for _, id := range tx.working.OrderedIDs() {
		if scene.IsIdentifier(id) && !g.Has(id) {
			g[id] = &NodeHandle{id: id, tx: tx}
		}
	}

	builtins := map[string]func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"addNode":        tx.addNode,
		"createVariable": tx.createVariable,
		"addVariable":    tx.createVariable,
		"removeNode":     tx.removeNode,
		"moveUp":         tx.moveUp,
		"moveDown":       tx.moveDown,
		"clear":          tx.clear,
		"node":           tx.node,
		"nodes":          tx.nodes,
		"log":            tx.logAt(telemetry.LevelInfo),
		"warn":           tx.logAt(telemetry.LevelWarn),
		"error":          tx.logAt(telemetry.LevelError),
	}
	for name, fn := range builtins {
		g[name] = starlark.NewBuiltin(name, fn)
	}
	g["time"] = starlark.Float(tx.working.Meta.CurrentTime)
	return g
}

func (tx *transaction) addNode(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var typ, id string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "type", &typ, "id?", &id); err != nil {
		return nil, err
	}
	t := scene.NodeType(typ)
	if !t.Valid() {
		return nil, fmt.Errorf("%s: unknown node type %q", b.Name(), typ)
	}
	if id == "" {
		c, newID := command.AddNode(tx.working, t)
		tx.apply(c)
		return &NodeHandle{id: newID, tx: tx}, nil
	}
	if err := tx.checkNewID(id); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	tx.apply(command.InsertNode(tx.working, scene.NewNode(t, id), "Add "+typ))
	return &NodeHandle{id: id, tx: tx}, nil
}

func (tx *transaction) createVariable(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value?", &value); err != nil {
		return nil, err
	}
	if err := tx.checkNewID(name); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	v, err := expr.FromValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	tx.apply(command.InsertNode(tx.working, scene.NewVariable(name, v), "Create variable "+name))
	return &NodeHandle{id: name, tx: tx}, nil
}

func (tx *transaction) checkNewID(id string) error {
	if !scene.IsIdentifier(id) {
		return fmt.Errorf("invalid id %q", id)
	}
	if tx.working.Has(id) {
		return fmt.Errorf("node %q already exists", id)
	}
	return nil
}

func (tx *transaction) removeNode(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	id, err := tx.unpackNode(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	tx.apply(command.RemoveNode(id, tx.working))
	return starlark.None, nil
}

// moveUp moves a node one layer toward the top (index 0).
func (tx *transaction) moveUp(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	id, err := tx.unpackNode(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if i := tx.working.IndexOf(id); i > 0 {
		tx.apply(command.ReorderNode(i, i-1))
	}
	return starlark.None, nil
}

func (tx *transaction) moveDown(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	id, err := tx.unpackNode(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	if i := tx.working.IndexOf(id); i >= 0 && i < len(tx.working.RootNodeIDs)-1 {
		tx.apply(command.ReorderNode(i, i+1))
	}
	return starlark.None, nil
}

func (tx *transaction) clear(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if tx.working.Len() > 0 {
		tx.apply(command.ClearProject(tx.working))
	}
	return starlark.None, nil
}

func (tx *transaction) node(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &id); err != nil {
		return nil, err
	}
	if !tx.working.Has(id) {
		return nil, fmt.Errorf("%s: node %q not found", b.Name(), id)
	}
	return &NodeHandle{id: id, tx: tx}, nil
}

func (tx *transaction) nodes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	ids := tx.working.OrderedIDs()
	list := make([]starlark.Value, len(ids))
	for i, id := range ids {
		list[i] = &NodeHandle{id: id, tx: tx}
	}
	return starlark.NewList(list), nil
}

func (tx *transaction) logAt(level telemetry.Level) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		tx.runner.log(level, display(args))
		return starlark.None, nil
	}
}

// unpackNode accepts a single NodeHandle or id string and checks it exists.
func (tx *transaction) unpackNode(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return "", err
	}
	var id string
	switch n := v.(type) {
	case *NodeHandle:
		id = n.id
	case starlark.String:
		id = string(n)
	default:
		return "", fmt.Errorf("%s: want node or id, got %s", b.Name(), v.Type())
	}
	if !tx.working.Has(id) {
		return "", fmt.Errorf("%s: node %q not found", b.Name(), id)
	}
	return id, nil
}
