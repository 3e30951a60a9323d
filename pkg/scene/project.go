package scene

import (
	"fmt"
	"sort"
)

// Meta carries playback state and free-form project metadata.
type Meta struct {
	CurrentTime float64        `json:"currentTime" yaml:"currentTime"`
	Duration    float64        `json:"duration" yaml:"duration" validate:"gte=0"`
	FPS         float64        `json:"fps,omitempty" yaml:"fps,omitempty" validate:"gte=0"`
	Extra       map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Project is the whole editable scene. It is immutable by convention: every
// With* method returns a new Project that reuses the *Node values it did not
// touch, so commands holding older projects never observe later edits.
type Project struct {
	Nodes       map[string]*Node `json:"nodes" yaml:"nodes" validate:"dive"`
	RootNodeIDs []string         `json:"rootNodeIds" yaml:"rootNodeIds"`
	Selection   *string          `json:"selection" yaml:"selection"`
	Meta        Meta             `json:"meta" yaml:"meta"`
}

// NewProject returns an empty project with a ten second timeline.
func NewProject() *Project {
	return &Project{
		Nodes:       make(map[string]*Node),
		RootNodeIDs: []string{},
		Meta:        Meta{Duration: 10, FPS: 60},
	}
}

// Node looks up a node by id.
func (p *Project) Node(id string) (*Node, bool) {
	n, ok := p.Nodes[id]
	return n, ok
}

// Has reports whether a node with id exists.
func (p *Project) Has(id string) bool {
	_, ok := p.Nodes[id]
	return ok
}

// Len returns the number of nodes.
func (p *Project) Len() int {
	return len(p.Nodes)
}

// IndexOf returns the layer index of id, or -1.
func (p *Project) IndexOf(id string) int {
	for i, rid := range p.RootNodeIDs {
		if rid == id {
			return i
		}
	}
	return -1
}

// SelectedID returns the selected node id, or "".
func (p *Project) SelectedID() string {
	if p.Selection == nil {
		return ""
	}
	return *p.Selection
}

// OrderedIDs returns every node id: layer order first, then any node missing
// from the layer list in sorted order.
func (p *Project) OrderedIDs() []string {
	seen := make(map[string]bool, len(p.Nodes))
	out := make([]string, 0, len(p.Nodes))
	for _, id := range p.RootNodeIDs {
		if _, ok := p.Nodes[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var rest []string
	for id := range p.Nodes {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// ValueNodeIDs returns the ids of all variable nodes, sorted.
func (p *Project) ValueNodeIDs() []string {
	var ids []string
	for id, n := range p.Nodes {
		if n.Type == NodeValue {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NextID allocates the first unused "<type>_<n>" id, counting from 1.
func (p *Project) NextID(t NodeType) string {
	for i := 1; ; i++ {
		id := fmt.Sprintf("%s_%d", t, i)
		if !p.Has(id) {
			return id
		}
	}
}

func (p *Project) shallow() *Project {
	nodes := make(map[string]*Node, len(p.Nodes)+1)
	for id, n := range p.Nodes {
		nodes[id] = n
	}
	order := make([]string, len(p.RootNodeIDs))
	copy(order, p.RootNodeIDs)
	return &Project{
		Nodes:       nodes,
		RootNodeIDs: order,
		Selection:   p.Selection,
		Meta:        p.Meta,
	}
}

// WithNode stores n under its id without touching layer order.
func (p *Project) WithNode(n *Node) *Project {
	out := p.shallow()
	out.Nodes[n.ID] = n
	return out
}

// InsertNode stores n and places it at index in the layer list. The index is
// clamped to the current list length.
func (p *Project) InsertNode(n *Node, index int) *Project {
	out := p.shallow()
	out.Nodes[n.ID] = n
	out.RootNodeIDs = removeID(out.RootNodeIDs, n.ID)
	out.RootNodeIDs = insertAt(out.RootNodeIDs, clamp(index, 0, len(out.RootNodeIDs)), n.ID)
	return out
}

// WithoutNode removes id from the node map and the layer list, clearing the
// selection if it pointed at id.
func (p *Project) WithoutNode(id string) *Project {
	out := p.shallow()
	delete(out.Nodes, id)
	out.RootNodeIDs = removeID(out.RootNodeIDs, id)
	if out.Selection != nil && *out.Selection == id {
		out.Selection = nil
	}
	return out
}

// WithProperty replaces one property of one node. Unknown nodes are ignored.
func (p *Project) WithProperty(nodeID, key string, prop Property) *Project {
	n, ok := p.Nodes[nodeID]
	if !ok {
		return p
	}
	return p.WithNode(n.WithProperty(key, prop))
}

// WithoutProperty deletes one property of one node. Unknown nodes are ignored.
func (p *Project) WithoutProperty(nodeID, key string) *Project {
	n, ok := p.Nodes[nodeID]
	if !ok {
		return p
	}
	if _, has := n.Properties[key]; !has {
		return p
	}
	return p.WithNode(n.WithoutProperty(key))
}

// WithRootNodeIDs replaces the layer order.
func (p *Project) WithRootNodeIDs(ids []string) *Project {
	out := p.shallow()
	out.RootNodeIDs = append([]string(nil), ids...)
	return out
}

// WithSelection sets the selected node id; "" clears the selection.
func (p *Project) WithSelection(id string) *Project {
	out := p.shallow()
	if id == "" {
		out.Selection = nil
	} else {
		sel := id
		out.Selection = &sel
	}
	return out
}

// WithMeta replaces the metadata block.
func (p *Project) WithMeta(m Meta) *Project {
	out := p.shallow()
	out.Meta = m
	return out
}

// WithTime moves the playhead.
func (p *Project) WithTime(t float64) *Project {
	m := p.Meta
	m.CurrentTime = t
	return p.WithMeta(m)
}

// Move splices the id at from out of the layer list and reinserts it at to.
// Out-of-range indices leave the project unchanged.
func (p *Project) Move(from, to int) *Project {
	n := len(p.RootNodeIDs)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return p
	}
	out := p.shallow()
	id := out.RootNodeIDs[from]
	out.RootNodeIDs = append(out.RootNodeIDs[:from], out.RootNodeIDs[from+1:]...)
	out.RootNodeIDs = insertAt(out.RootNodeIDs, to, id)
	return out
}

// Clone deep-copies the node map. Used when a caller needs a private working
// copy rather than structural sharing.
func (p *Project) Clone() *Project {
	out := p.shallow()
	for id, n := range out.Nodes {
		out.Nodes[id] = n.Clone()
	}
	if p.Selection != nil {
		sel := *p.Selection
		out.Selection = &sel
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func insertAt(ids []string, index int, id string) []string {
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = id
	return ids
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
