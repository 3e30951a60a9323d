package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/framegraph/framegraph/pkg/scene"
)

// DependencyGraph is the property-level dependency graph of a project.
type DependencyGraph struct {
	Nodes map[PropKey]*GraphNode `json:"nodes"`
	Edges []GraphEdge            `json:"edges"`

	// Levels groups properties whose dependencies all sit on earlier levels.
	Levels [][]PropKey `json:"levels"`

	// Cyclic holds properties Kahn's algorithm could not place: members of a
	// cycle or anything downstream of one.
	Cyclic []PropKey `json:"cyclic"`

	// Dangling holds edges whose target property does not exist.
	Dangling []GraphEdge `json:"dangling"`
}

// GraphNode is one property in the dependency graph.
type GraphNode struct {
	Key          PropKey    `json:"key"`
	Kind         scene.Kind `json:"kind"`
	Level        int        `json:"level"`
	Dependencies []PropKey  `json:"dependencies"`
	Dependents   []PropKey  `json:"dependents"`
}

// GraphEdge points from a dependency to the property that reads it.
type GraphEdge struct {
	From PropKey  `json:"from"`
	To   PropKey  `json:"to"`
	Type EdgeType `json:"type"`
}

// Builder assembles a DependencyGraph from a project.
type Builder struct {
	kinds map[PropKey]scene.Kind

	// adjacency maps a property to the properties that depend on it
	adjacency map[PropKey][]PropKey

	// reverse maps a property to its dependencies
	reverse map[PropKey][]PropKey

	inDegree map[PropKey]int
	rank     map[PropKey]int
	edges    []GraphEdge
	dangling []GraphEdge
	levels   [][]PropKey
}

// NewBuilder creates a new dependency graph builder.
func NewBuilder() *Builder {
	return &Builder{
		kinds:     make(map[PropKey]scene.Kind),
		adjacency: make(map[PropKey][]PropKey),
		reverse:   make(map[PropKey][]PropKey),
		inDegree:  make(map[PropKey]int),
		rank:      make(map[PropKey]int),
	}
}

// Build indexes every property of p and computes evaluation levels.
// Ordering is deterministic: layer order, then property key.
func Build(p *scene.Project) *DependencyGraph {
	return NewBuilder().Build(p)
}

// Build indexes every property of p and computes evaluation levels.
func (b *Builder) Build(p *scene.Project) *DependencyGraph {
	b.initialize(p)
	placed := b.computeLevels()
	return b.buildGraph(placed)
}

func (b *Builder) initialize(p *scene.Project) {
	var order []PropKey
	for _, id := range p.OrderedIDs() {
		n := p.Nodes[id]
		for _, key := range n.Keys() {
			pk := PropKey{Node: id, Key: key}
			b.rank[pk] = len(order)
			b.kinds[pk] = n.Properties[key].Type
			b.inDegree[pk] = 0
			order = append(order, pk)
		}
	}

	for _, pk := range order {
		prop := p.Nodes[pk.Node].Properties[pk.Key]
		seen := make(map[PropKey]bool)
		for _, ref := range Dependencies(p.Nodes, pk.Node, prop) {
			edge := GraphEdge{From: ref.Target, To: pk, Type: ref.Type}
			if _, ok := b.kinds[ref.Target]; !ok {
				b.dangling = append(b.dangling, edge)
				continue
			}
			if seen[ref.Target] {
				continue
			}
			seen[ref.Target] = true

			b.edges = append(b.edges, edge)
			b.adjacency[ref.Target] = append(b.adjacency[ref.Target], pk)
			b.reverse[pk] = append(b.reverse[pk], ref.Target)
			b.inDegree[pk]++
		}
	}
}

// computeLevels runs Kahn's algorithm with level tracking and returns the set
// of properties it managed to place.
func (b *Builder) computeLevels() map[PropKey]bool {
	inDegree := make(map[PropKey]int, len(b.inDegree))
	for pk, d := range b.inDegree {
		inDegree[pk] = d
	}

	var current []PropKey
	for pk, d := range inDegree {
		if d == 0 {
			current = append(current, pk)
		}
	}

	placed := make(map[PropKey]bool, len(inDegree))
	for len(current) > 0 {
		b.sortByRank(current)
		b.levels = append(b.levels, current)

		var next []PropKey
		for _, pk := range current {
			placed[pk] = true
			for _, dependent := range b.adjacency[pk] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
	return placed
}

func (b *Builder) buildGraph(placed map[PropKey]bool) *DependencyGraph {
	g := &DependencyGraph{
		Nodes:    make(map[PropKey]*GraphNode, len(b.kinds)),
		Edges:    b.edges,
		Levels:   b.levels,
		Dangling: b.dangling,
	}

	for pk, kind := range b.kinds {
		g.Nodes[pk] = &GraphNode{
			Key:          pk,
			Kind:         kind,
			Level:        -1,
			Dependencies: b.reverse[pk],
			Dependents:   b.adjacency[pk],
		}
		if !placed[pk] {
			g.Cyclic = append(g.Cyclic, pk)
		}
	}
	for level, keys := range b.levels {
		for _, pk := range keys {
			g.Nodes[pk].Level = level
		}
	}
	b.sortByRank(g.Cyclic)
	return g
}

func (b *Builder) sortByRank(keys []PropKey) {
	sort.Slice(keys, func(i, j int) bool { return b.rank[keys[i]] < b.rank[keys[j]] })
}

// Order returns every property: placed levels first, then cyclic ones.
func (g *DependencyGraph) Order() []PropKey {
	out := make([]PropKey, 0, len(g.Nodes))
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return append(out, g.Cyclic...)
}

// IsCyclic reports whether pk could not be ordered.
func (g *DependencyGraph) IsCyclic(pk PropKey) bool {
	n, ok := g.Nodes[pk]
	return ok && n.Level < 0
}

// FindCycles returns one loop per strongly tangled region, each as a path that
// starts and ends on the same property. Depth-first over dependents, visiting
// starts in graph order.
func (g *DependencyGraph) FindCycles() [][]PropKey {
	visited := make(map[PropKey]bool)
	onStack := make(map[PropKey]bool)
	var cycles [][]PropKey

	var visit func(pk PropKey, path []PropKey)
	visit = func(pk PropKey, path []PropKey) {
		visited[pk] = true
		onStack[pk] = true
		path = append(path, pk)

		for _, dependent := range g.Nodes[pk].Dependents {
			if !visited[dependent] {
				visit(dependent, path)
			} else if onStack[dependent] {
				for i, id := range path {
					if id == dependent {
						cycle := append([]PropKey(nil), path[i:]...)
						cycles = append(cycles, append(cycle, dependent))
						break
					}
				}
			}
		}
		onStack[pk] = false
	}

	for _, pk := range g.Cyclic {
		if !visited[pk] {
			visit(pk, nil)
		}
	}
	return cycles
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per level.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Dependencies {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, keys := range g.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, pk := range keys {
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				pk.String(), pk.String(), g.Nodes[pk].Kind, kindColor(g.Nodes[pk].Kind)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, pk := range g.Cyclic {
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\", fillcolor=\"lightcoral\", style=\"filled,rounded\"];\n",
			pk.String(), pk.String(), g.Nodes[pk].Kind))
	}

	for _, e := range g.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.From.String(), e.To.String(), edgeStyle(e.Type)))
	}
	for _, e := range g.Dangling {
		sb.WriteString(fmt.Sprintf("  %q [shape=plaintext, fontcolor=gray];\n", e.From.String()))
		sb.WriteString(fmt.Sprintf("  %q -> %q [style=dotted, color=red];\n", e.From.String(), e.To.String()))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func kindColor(k scene.Kind) string {
	switch k {
	case scene.KindExpression:
		return "lightblue"
	case scene.KindRef:
		return "lightyellow"
	case scene.KindColor:
		return "lightpink"
	default:
		return "lightgray"
	}
}

func edgeStyle(t EdgeType) string {
	switch t {
	case EdgeRef:
		return "style=solid, color=black"
	case EdgeContext:
		return "style=solid, color=blue"
	case EdgeVariable:
		return "style=dashed, color=darkgreen"
	case EdgeSibling:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
