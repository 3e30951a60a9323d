package graph

import (
	"github.com/framegraph/framegraph/pkg/scene"
)

// WouldCreateCycle reports whether pointing (srcNode, srcKey) at
// (tgtNode, tgtKey) would close a loop. It walks breadth-first from the target
// through refs, ctx.get calls and variable names until it either reaches the
// source or runs out of properties to visit.
//
// The answer is advisory. Evaluation has its own depth guard.
func WouldCreateCycle(nodes map[string]*scene.Node, srcNode, srcKey, tgtNode, tgtKey string) bool {
	src := PropKey{Node: srcNode, Key: srcKey}
	start := PropKey{Node: tgtNode, Key: tgtKey}

	visited := map[PropKey]bool{start: true}
	queue := []PropKey{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur == src {
			return true
		}

		n, ok := nodes[cur.Node]
		if !ok {
			continue
		}
		prop, ok := n.Properties[cur.Key]
		if !ok {
			continue
		}

		for _, ref := range References(nodes, prop) {
			if !visited[ref.Target] {
				visited[ref.Target] = true
				queue = append(queue, ref.Target)
			}
		}
	}
	return false
}

// ExpressionWouldCreateCycle checks every reference a candidate expression
// for (nodeID, key) would introduce. It returns the first offending target.
func ExpressionWouldCreateCycle(nodes map[string]*scene.Node, nodeID, key, source string) (PropKey, bool) {
	for _, ref := range References(nodes, scene.Expression(source)) {
		if WouldCreateCycle(nodes, nodeID, key, ref.Target.Node, ref.Target.Key) {
			return ref.Target, true
		}
	}
	return PropKey{}, false
}

// LinkWouldCreateCycle checks a candidate "<nodeId>:<key>" ref target.
// Malformed targets never cycle.
func LinkWouldCreateCycle(nodes map[string]*scene.Node, nodeID, key, target string) bool {
	id, tk, ok := scene.ParseRef(target)
	if !ok {
		return false
	}
	return WouldCreateCycle(nodes, nodeID, key, id, tk)
}
