// Package command builds reversible edits to a scene.Project.
//
// A Command is a pair of pure functions from project to project. Each one
// closes over the payloads it needs (ids, captured nodes, captured property
// fields), never over a live project, so it stays valid no matter how many
// other edits happen between construction and application.
package command

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
)

// Func transforms a project into the next project.
type Func func(*scene.Project) *scene.Project

// Command is one reversible edit.
type Command struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Redo Func   `json:"-"`
	Undo Func   `json:"-"`
}

// New wraps a redo/undo pair under a fresh id.
func New(name string, redo, undo Func) *Command {
	return &Command{
		ID:   uuid.NewString(),
		Name: name,
		Redo: redo,
		Undo: undo,
	}
}

// String renders the command for logs.
func (c *Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ID)
}

// AddNode creates a default node of type t under the next free
// "<type>_<n>" id. The node goes to the top of the layer list and becomes
// the selection.
func AddNode(p *scene.Project, t scene.NodeType) (*Command, string) {
	id := p.NextID(t)
	return InsertNode(p, scene.NewNode(t, id), "Add "+string(t)), id
}

// InsertNode places n at the top of the layer list and selects it. Undo
// removes it and restores the selection that was current at construction.
func InsertNode(p *scene.Project, n *scene.Node, label string) *Command {
	prev := p.SelectedID()
	if label == "" {
		label = "Add " + n.ID
	}
	return New(label,
		func(s *scene.Project) *scene.Project {
			return s.InsertNode(n, 0).WithSelection(n.ID)
		},
		func(s *scene.Project) *scene.Project {
			out := s.WithoutNode(n.ID)
			if prev != "" && out.Has(prev) {
				return out.WithSelection(prev)
			}
			return out.WithSelection("")
		},
	)
}

// RemoveNode deletes id. The node and its layer index are captured now;
// undo reinserts the node verbatim at that index, clamped to the list length.
// It returns nil when id does not exist.
func RemoveNode(id string, p *scene.Project) *Command {
	n, ok := p.Node(id)
	if !ok {
		return nil
	}
	index := p.IndexOf(id)
	selected := p.SelectedID() == id

	return New("Remove "+id,
		func(s *scene.Project) *scene.Project {
			return s.WithoutNode(id)
		},
		func(s *scene.Project) *scene.Project {
			var out *scene.Project
			if index < 0 {
				out = s.WithNode(n)
			} else {
				out = s.InsertNode(n, index)
			}
			if selected {
				out = out.WithSelection(id)
			}
			return out
		},
	)
}

// RenameNode changes oldID to newID and rewrites every reference to it: ref
// targets, ctx.get('oldID', ...) calls and, when the node is a value node,
// bare-word uses in expressions. Undo renames back. It returns nil when either
// id is empty or unusable, the ids are equal, newID is taken or oldID is
// missing.
func RenameNode(oldID, newID string, p *scene.Project) *Command {
	if oldID == "" || newID == "" || oldID == newID {
		return nil
	}
	if !validID(newID) || p.Has(newID) || !p.Has(oldID) {
		return nil
	}
	return New(fmt.Sprintf("Rename %s to %s", oldID, newID),
		func(s *scene.Project) *scene.Project { return rename(s, oldID, newID) },
		func(s *scene.Project) *scene.Project { return rename(s, newID, oldID) },
	)
}

func validID(id string) bool {
	return !strings.ContainsAny(id, ": \t\n")
}

// rename is the pure rewrite shared by redo and undo. Nodes whose properties
// do not mention oldID are reused as-is.
func rename(p *scene.Project, oldID, newID string) *scene.Project {
	target, ok := p.Node(oldID)
	if !ok || p.Has(newID) {
		return p
	}
	variable := target.Type == scene.NodeValue

	nodes := make(map[string]*scene.Node, len(p.Nodes))
	for id, n := range p.Nodes {
		if id == oldID {
			n = n.WithID(newID)
			id = newID
		}
		var props map[string]scene.Property
		for key, prop := range n.Properties {
			next, changed := graph.RenameInProperty(prop, oldID, newID, variable)
			if !changed {
				continue
			}
			if props == nil {
				props = make(map[string]scene.Property, len(n.Properties))
				for k, v := range n.Properties {
					props[k] = v
				}
			}
			props[key] = next
		}
		if props != nil {
			n = n.WithProperties(props)
		}
		nodes[id] = n
	}

	order := make([]string, len(p.RootNodeIDs))
	for i, id := range p.RootNodeIDs {
		if id == oldID {
			id = newID
		}
		order[i] = id
	}

	out := &scene.Project{
		Nodes:       nodes,
		RootNodeIDs: order,
		Selection:   p.Selection,
		Meta:        p.Meta,
	}
	if p.SelectedID() == oldID {
		out = out.WithSelection(newID)
	}
	return out
}

// ReorderNode moves the layer at from to to. Undo moves it back.
func ReorderNode(from, to int) *Command {
	return New(fmt.Sprintf("Reorder %d to %d", from, to),
		func(s *scene.Project) *scene.Project { return s.Move(from, to) },
		func(s *scene.Project) *scene.Project { return s.Move(to, from) },
	)
}

// Set merges patch into nodeID's key property. When old is nil the fields
// patch overwrites are captured from p now; if the property does not exist
// yet, undo deletes it.
func Set(p *scene.Project, nodeID, key string, patch scene.Patch, old *scene.Patch, label string) *Command {
	absent := false
	var before scene.Patch
	if old != nil {
		before = *old
	} else if n, ok := p.Node(nodeID); ok {
		if current, has := n.Property(key); has {
			before = patch.Capture(current)
		} else {
			absent = true
		}
	}
	if label == "" {
		label = fmt.Sprintf("Set %s", scene.FormatRef(nodeID, key))
	}

	return New(label,
		func(s *scene.Project) *scene.Project {
			n, ok := s.Node(nodeID)
			if !ok {
				return s
			}
			base, ok := n.Property(key)
			if !ok {
				base = blankFor(patch)
			}
			return s.WithProperty(nodeID, key, patch.Apply(base))
		},
		func(s *scene.Project) *scene.Project {
			if absent {
				return s.WithoutProperty(nodeID, key)
			}
			n, ok := s.Node(nodeID)
			if !ok {
				return s
			}
			base, _ := n.Property(key)
			return s.WithProperty(nodeID, key, before.Apply(base))
		},
	)
}

// Batch composes commands into one step: redo runs them in order, undo in
// reverse. Nil entries are skipped.
func Batch(commands []*Command, label string) *Command {
	cmds := make([]*Command, 0, len(commands))
	for _, c := range commands {
		if c != nil {
			cmds = append(cmds, c)
		}
	}
	if label == "" {
		label = "Batch"
	}
	return New(label,
		func(s *scene.Project) *scene.Project {
			for _, c := range cmds {
				s = c.Redo(s)
			}
			return s
		},
		func(s *scene.Project) *scene.Project {
			for i := len(cmds) - 1; i >= 0; i-- {
				s = cmds[i].Undo(s)
			}
			return s
		},
	)
}

// ClearProject removes every node. The removals run bottom layer first so
// each captured index is still valid when undo reinserts in reverse.
func ClearProject(p *scene.Project) *Command {
	ids := p.OrderedIDs()
	removals := make([]*Command, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		removals = append(removals, RemoveNode(ids[i], p))
	}
	return Batch(removals, "Clear")
}

// blankFor is the base a patch is applied to when the property does not exist
// yet. A patch without a kind takes it from its value, or from its first
// keyframe.
func blankFor(patch scene.Patch) scene.Property {
	if _, ok := patch.Type(); ok {
		return scene.Property{}
	}
	if v, ok := patch.Value(); ok {
		return scene.Property{Type: scene.LiteralFor(v).Type}
	}
	if kfs, ok := patch.Keyframes(); ok && len(kfs) > 0 {
		return scene.Property{Type: scene.LiteralFor(kfs[0].Value).Type}
	}
	return scene.Property{Type: scene.KindNumber}
}
