package script

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/framegraph/framegraph/pkg/command"
	"github.com/framegraph/framegraph/pkg/expr"
	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
)

// NodeHandle is the script-side view of a node. Reading an attribute returns
// the property's evaluated value, or None for an absent property; assigning
// one records a Set command. The
// handle tracks the node by id, so it follows renames made through it.
type NodeHandle struct {
	id string
	tx *transaction
}

var (
	_ starlark.HasAttrs    = (*NodeHandle)(nil)
	_ starlark.HasSetField = (*NodeHandle)(nil)
)

var handleMethods = []string{
	"clear_keyframes", "expr", "get", "keyframe", "link", "raw", "remove", "rename", "set",
}

func (h *NodeHandle) String() string        { return fmt.Sprintf("<node %s>", h.id) }
func (h *NodeHandle) Type() string          { return "node" }
func (h *NodeHandle) Freeze()               {}
func (h *NodeHandle) Truth() starlark.Bool  { return starlark.True }
func (h *NodeHandle) Hash() (uint32, error) { return starlark.String(h.id).Hash() }

// ID returns the id the handle currently points at.
func (h *NodeHandle) ID() string { return h.id }

func (h *NodeHandle) lookup() (*scene.Node, error) {
	n, ok := h.tx.working.Node(h.id)
	if !ok {
		return nil, fmt.Errorf("node %q no longer exists", h.id)
	}
	return n, nil
}

// AttrNames lists id, type, the methods and the node's property keys.
func (h *NodeHandle) AttrNames() []string {
	names := append([]string{"id", "type"}, handleMethods...)
	if n, ok := h.tx.working.Node(h.id); ok {
		names = append(names, n.Keys()...)
	}
	sort.Strings(names)
	return names
}

func (h *NodeHandle) Attr(name string) (starlark.Value, error) {
	n, err := h.lookup()
	if err != nil {
		return nil, err
	}
	switch name {
	case "id":
		return starlark.String(h.id), nil
	case "type":
		return starlark.String(n.Type), nil
	case "get":
		return starlark.NewBuiltin("get", h.get), nil
	case "set":
		return starlark.NewBuiltin("set", h.set), nil
	case "raw":
		return starlark.NewBuiltin("raw", h.raw), nil
	case "link":
		return starlark.NewBuiltin("link", h.link), nil
	case "expr":
		return starlark.NewBuiltin("expr", h.expr), nil
	case "keyframe":
		return starlark.NewBuiltin("keyframe", h.keyframe), nil
	case "clear_keyframes":
		return starlark.NewBuiltin("clear_keyframes", h.clearKeyframes), nil
	case "rename":
		return starlark.NewBuiltin("rename", h.rename), nil
	case "remove":
		return starlark.NewBuiltin("remove", h.remove), nil
	}
	if _, ok := n.Property(name); !ok {
		return starlark.None, nil
	}
	return h.read(name)
}

func (h *NodeHandle) SetField(name string, val starlark.Value) error {
	switch name {
	case "id", "type":
		return fmt.Errorf("node.%s is read-only", name)
	}
	return h.assign(name, val)
}

func (h *NodeHandle) read(key string) (starlark.Value, error) {
	v, err := expr.ToValue(h.tx.value(h.id, key))
	if err != nil {
		return starlark.None, nil
	}
	return v, nil
}

// assign writes a literal. The property's kind follows the value; existing
// keyframes are kept.
func (h *NodeHandle) assign(key string, val starlark.Value) error {
	n, err := h.lookup()
	if err != nil {
		return err
	}
	v, err := expr.FromValue(val)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", h.id, key, err)
	}
	lit := scene.LiteralFor(v)

	patch := scene.FullPatch(lit)
	if _, ok := n.Property(key); ok {
		patch = scene.TypePatch(lit.Type).WithValue(lit.Value)
	}
	h.tx.apply(command.Set(h.tx.working, h.id, key, patch, nil, fmt.Sprintf("Set %s", scene.FormatRef(h.id, key))))
	return nil
}

func (h *NodeHandle) patch(key string, patch scene.Patch, label string) {
	h.tx.apply(command.Set(h.tx.working, h.id, key, patch, nil, label))
}

func (h *NodeHandle) get(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	n, err := h.lookup()
	if err != nil {
		return nil, err
	}
	if _, ok := n.Property(key); !ok {
		return starlark.None, nil
	}
	return h.read(key)
}

func (h *NodeHandle) set(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var val starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &val); err != nil {
		return nil, err
	}
	if err := h.assign(key, val); err != nil {
		return nil, err
	}
	return h, nil
}

// raw returns the stored property as a dict with type, value and keyframes.
func (h *NodeHandle) raw(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	n, err := h.lookup()
	if err != nil {
		return nil, err
	}
	prop, ok := n.Property(key)
	if !ok {
		return starlark.None, nil
	}
	kfs := make([]any, len(prop.Keyframes))
	for i, k := range prop.Keyframes {
		kfs[i] = map[string]any{
			"id":     k.ID,
			"time":   k.Time,
			"value":  k.Value,
			"easing": string(k.Easing),
		}
	}
	v, err := expr.ToValue(map[string]any{
		"type":      string(prop.Type),
		"value":     prop.Value,
		"keyframes": kfs,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return v, nil
}

// link turns key into a ref and drops its keyframes. The target is
// "node:key" or a handle plus a key.
func (h *NodeHandle) link(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var target starlark.Value
	var targetKey string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &target, &targetKey); err != nil {
		return nil, err
	}
	var ref string
	switch t := target.(type) {
	case *NodeHandle:
		if targetKey == "" {
			targetKey = key
		}
		ref = scene.FormatRef(t.id, targetKey)
	case starlark.String:
		ref = string(t)
		if _, _, ok := scene.ParseRef(ref); !ok {
			return nil, fmt.Errorf("%s: malformed ref %q", b.Name(), ref)
		}
	default:
		return nil, fmt.Errorf("%s: want node or \"id:key\", got %s", b.Name(), target.Type())
	}
	if _, err := h.lookup(); err != nil {
		return nil, err
	}

	if graph.LinkWouldCreateCycle(h.tx.working.Nodes, h.id, key, ref) {
		h.tx.warn("linking %s to %s creates a cycle", scene.FormatRef(h.id, key), ref)
	}
	h.patch(key, scene.TypePatch(scene.KindRef).WithValue(ref).WithKeyframes(nil), fmt.Sprintf("Link %s", scene.FormatRef(h.id, key)))
	return h, nil
}

// expr turns key into an expression and drops its keyframes.
func (h *NodeHandle) expr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, source string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &key, &source); err != nil {
		return nil, err
	}
	if _, err := h.lookup(); err != nil {
		return nil, err
	}

	target := scene.FormatRef(h.id, key)
	if err := expr.CheckSyntax(source); err != nil {
		h.tx.warn("%s: %v", target, err)
	}
	if ref, cyclic := graph.ExpressionWouldCreateCycle(h.tx.working.Nodes, h.id, key, source); cyclic {
		h.tx.warn("expression on %s reads %s, which creates a cycle", target, ref)
	}
	h.patch(key, scene.TypePatch(scene.KindExpression).WithValue(source).WithKeyframes(nil), "Expression "+target)
	return h, nil
}

// keyframe adds or replaces the keyframe at time. A missing property is
// created with the keyframe value as its literal.
func (h *NodeHandle) keyframe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var atv, val starlark.Value
	easing := string(scene.EasingLinear)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "time", &atv, "value", &val, "easing?", &easing); err != nil {
		return nil, err
	}
	at, ok := starlark.AsFloat(atv)
	if !ok {
		return nil, fmt.Errorf("%s: time must be a number, got %s", b.Name(), atv.Type())
	}
	if e := scene.Easing(easing); e != scene.EasingLinear && e != scene.EasingStep {
		return nil, fmt.Errorf("%s: unknown easing %q", b.Name(), easing)
	}
	n, err := h.lookup()
	if err != nil {
		return nil, err
	}
	v, err := expr.FromValue(val)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	kf := scene.Keyframe{ID: uuid.NewString(), Time: at, Value: v, Easing: scene.Easing(easing)}
	label := fmt.Sprintf("Keyframe %s", scene.FormatRef(h.id, key))

	prop, exists := n.Property(key)
	if !exists {
		lit := scene.LiteralFor(v)
		lit.Keyframes = []scene.Keyframe{kf}
		h.patch(key, scene.FullPatch(lit), label)
		return h, nil
	}
	if prop.Type.Dynamic() {
		return nil, fmt.Errorf("%s: %s is a %s; keyframes apply only to literals", b.Name(), scene.FormatRef(h.id, key), prop.Type)
	}

	kfs := make([]scene.Keyframe, 0, len(prop.Keyframes)+1)
	for _, k := range prop.Keyframes {
		if k.Time != at {
			kfs = append(kfs, k)
		}
	}
	kfs = append(kfs, kf)
	sort.SliceStable(kfs, func(i, j int) bool { return kfs[i].Time < kfs[j].Time })
	h.patch(key, scene.KeyframesPatch(kfs), label)
	return h, nil
}

func (h *NodeHandle) clearKeyframes(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	n, err := h.lookup()
	if err != nil {
		return nil, err
	}
	if prop, ok := n.Property(key); ok && len(prop.Keyframes) > 0 {
		h.patch(key, scene.KeyframesPatch(nil), fmt.Sprintf("Clear keyframes %s", scene.FormatRef(h.id, key)))
	}
	return h, nil
}

func (h *NodeHandle) rename(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var newID string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &newID); err != nil {
		return nil, err
	}
	c := command.RenameNode(h.id, newID, h.tx.working)
	if c == nil {
		return nil, fmt.Errorf("%s: cannot rename %q to %q", b.Name(), h.id, newID)
	}
	h.tx.apply(c)
	h.id = newID
	return h, nil
}

func (h *NodeHandle) remove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if _, err := h.lookup(); err != nil {
		return nil, err
	}
	h.tx.apply(command.RemoveNode(h.id, h.tx.working))
	return starlark.None, nil
}
