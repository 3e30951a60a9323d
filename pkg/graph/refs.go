// Package graph finds the references between properties: the cycle detector
// used before committing a link or expression, the rename rewriters, and the
// dependency graph that orders frame evaluation.
//
// Expression references are found by scanning source text, not by parsing it.
// References built dynamically at runtime are invisible here, and an id that
// appears inside a string literal or comment counts as a reference.
package graph

import (
	"regexp"
	"sort"
	"strings"

	"github.com/framegraph/framegraph/pkg/scene"
)

// PropKey addresses one property of one node.
type PropKey struct {
	Node string `json:"node"`
	Key  string `json:"key"`
}

func (k PropKey) String() string {
	return scene.FormatRef(k.Node, k.Key)
}

// EdgeType records how a dependency was discovered.
type EdgeType string

const (
	EdgeRef      EdgeType = "ref"
	EdgeContext  EdgeType = "ctx.get"
	EdgeVariable EdgeType = "variable"
	EdgeSibling  EdgeType = "prop"
)

// Reference is one outgoing dependency of a property.
type Reference struct {
	Target PropKey  `json:"target"`
	Type   EdgeType `json:"type"`
}

var (
	ctxGetPattern = regexp.MustCompile(`ctx\.get\(\s*['"]([^'"]+)['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)
	ctxGetPrefix  = regexp.MustCompile(`ctx\.get\(\s*(['"])([^'"]+)(['"])`)
	propPattern   = regexp.MustCompile(`\bprop\(\s*['"]([^'"]+)['"]\s*\)`)
)

// ContextRefs returns every ctx.get('id','key') target in src, in order.
func ContextRefs(src string) []PropKey {
	matches := ctxGetPattern.FindAllStringSubmatch(src, -1)
	out := make([]PropKey, 0, len(matches))
	for _, m := range matches {
		out = append(out, PropKey{Node: m[1], Key: m[2]})
	}
	return out
}

// SiblingRefs returns every prop('key') argument in src.
func SiblingRefs(src string) []string {
	matches := propPattern.FindAllStringSubmatch(src, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// VariableRefs returns the ids of value nodes that appear as whole words in src,
// sorted.
func VariableRefs(nodes map[string]*scene.Node, src string) []string {
	var ids []string
	for id, n := range nodes {
		if n.Type == scene.NodeValue && ContainsWord(src, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// References lists what prop points at: a ref target, or the ctx.get calls and
// variable names in an expression. Sibling prop() calls are not included; see
// Dependencies.
func References(nodes map[string]*scene.Node, prop scene.Property) []Reference {
	switch prop.Type {
	case scene.KindRef:
		id, key, ok := scene.ParseRef(prop.Source())
		if !ok {
			return nil
		}
		return []Reference{{Target: PropKey{Node: id, Key: key}, Type: EdgeRef}}
	case scene.KindExpression:
		src := prop.Source()
		var refs []Reference
		for _, pk := range ContextRefs(src) {
			refs = append(refs, Reference{Target: pk, Type: EdgeContext})
		}
		for _, id := range VariableRefs(nodes, src) {
			refs = append(refs, Reference{Target: PropKey{Node: id, Key: scene.ValueKey}, Type: EdgeVariable})
		}
		return refs
	}
	return nil
}

// Dependencies is References plus prop('key') edges to siblings on nodeID.
func Dependencies(nodes map[string]*scene.Node, nodeID string, prop scene.Property) []Reference {
	refs := References(nodes, prop)
	if prop.Type == scene.KindExpression {
		for _, key := range SiblingRefs(prop.Source()) {
			refs = append(refs, Reference{Target: PropKey{Node: nodeID, Key: key}, Type: EdgeSibling})
		}
	}
	return refs
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// wordAt reports whether word occurs at src[i:] bounded by non-word bytes.
func wordAt(src, word string, i int) bool {
	if !strings.HasPrefix(src[i:], word) {
		return false
	}
	if i > 0 && isWordByte(src[i-1]) {
		return false
	}
	end := i + len(word)
	return end >= len(src) || !isWordByte(src[end])
}

// ContainsWord reports whether word appears in src with no identifier
// character immediately before or after it.
func ContainsWord(src, word string) bool {
	if word == "" {
		return false
	}
	for i := 0; i+len(word) <= len(src); {
		j := strings.Index(src[i:], word)
		if j < 0 {
			return false
		}
		if wordAt(src, word, i+j) {
			return true
		}
		i += j + 1
	}
	return false
}

// ReplaceWord substitutes every whole-word occurrence of old with repl.
func ReplaceWord(src, old, repl string) string {
	if old == "" {
		return src
	}
	var sb strings.Builder
	i := 0
	for i < len(src) {
		if wordAt(src, old, i) {
			sb.WriteString(repl)
			i += len(old)
			continue
		}
		sb.WriteByte(src[i])
		i++
	}
	return sb.String()
}

// RewriteRef renames the node half of a ref target.
func RewriteRef(target, oldID, newID string) (string, bool) {
	id, key, ok := scene.ParseRef(target)
	if !ok || id != oldID {
		return target, false
	}
	return scene.FormatRef(newID, key), true
}

// RewriteExpression renames oldID in ctx.get('oldID', ...) calls, keeping the
// quote style. When variable is set, bare whole-word uses are renamed too.
func RewriteExpression(src, oldID, newID string, variable bool) string {
	out := ctxGetPrefix.ReplaceAllStringFunc(src, func(m string) string {
		sub := ctxGetPrefix.FindStringSubmatch(m)
		if sub[2] != oldID {
			return m
		}
		return strings.Replace(m, sub[1]+oldID+sub[3], sub[1]+newID+sub[3], 1)
	})
	if variable {
		out = ReplaceWord(out, oldID, newID)
	}
	return out
}

// RenameInProperty applies the ref and expression rewrites to one property.
func RenameInProperty(prop scene.Property, oldID, newID string, variable bool) (scene.Property, bool) {
	switch prop.Type {
	case scene.KindRef:
		if s, ok := RewriteRef(prop.Source(), oldID, newID); ok {
			prop.Value = s
			return prop, true
		}
	case scene.KindExpression:
		src := prop.Source()
		if s := RewriteExpression(src, oldID, newID, variable); s != src {
			prop.Value = s
			return prop, true
		}
	}
	return prop, false
}
