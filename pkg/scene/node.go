package scene

import (
	"regexp"
	"sort"
)

// NodeType identifies what a node draws, or marks it as a plain variable holder.
type NodeType string

const (
	NodeRect   NodeType = "rect"
	NodeCircle NodeType = "circle"
	NodeVector NodeType = "vector"
	NodeValue  NodeType = "value"
)

// NodeTypes lists every node type in a stable order.
var NodeTypes = []NodeType{NodeRect, NodeCircle, NodeVector, NodeValue}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeRect, NodeCircle, NodeVector, NodeValue:
		return true
	}
	return false
}

// Visual reports whether nodes of this type are drawn by renderers.
func (t NodeType) Visual() bool {
	return t != NodeValue && t.Valid()
}

// ValueKey is the property that holds a variable node's value.
const ValueKey = "value"

// Node is a scene element with a unique, user-editable id and a property map.
// Nodes are immutable by convention; edits go through the With* helpers, which
// return a new Node.
type Node struct {
	ID         string              `json:"id" yaml:"id" validate:"required,nodeid"`
	Type       NodeType            `json:"type" yaml:"type" validate:"required,oneof=rect circle vector value"`
	Properties map[string]Property `json:"properties" yaml:"properties" validate:"dive"`
}

// Property looks up a property by key.
func (n *Node) Property(key string) (Property, bool) {
	if n == nil {
		return Property{}, false
	}
	p, ok := n.Properties[key]
	return p, ok
}

// Keys returns the property keys sorted alphabetically.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the node and its property map. Property values are shared.
func (n *Node) Clone() *Node {
	out := &Node{
		ID:         n.ID,
		Type:       n.Type,
		Properties: make(map[string]Property, len(n.Properties)),
	}
	for k, p := range n.Properties {
		out.Properties[k] = p.Clone()
	}
	return out
}

// WithProperty returns a copy of the node with key set to p.
func (n *Node) WithProperty(key string, p Property) *Node {
	out := n.shallow()
	out.Properties[key] = p
	return out
}

// WithoutProperty returns a copy of the node with key removed.
func (n *Node) WithoutProperty(key string) *Node {
	out := n.shallow()
	delete(out.Properties, key)
	return out
}

// WithID returns a copy of the node carrying a new id.
func (n *Node) WithID(id string) *Node {
	out := n.shallow()
	out.ID = id
	return out
}

// WithProperties returns a copy of the node with its property map replaced.
func (n *Node) WithProperties(props map[string]Property) *Node {
	return &Node{ID: n.ID, Type: n.Type, Properties: props}
}

func (n *Node) shallow() *Node {
	props := make(map[string]Property, len(n.Properties)+1)
	for k, p := range n.Properties {
		props[k] = p
	}
	return &Node{ID: n.ID, Type: n.Type, Properties: props}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether id can be bound as a bare name in expressions
// and scripts.
func IsIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// NewNode builds a node of the given type populated with the type's default
// properties.
func NewNode(t NodeType, id string) *Node {
	return &Node{
		ID:         id,
		Type:       t,
		Properties: DefaultProperties(t),
	}
}

// NewVariable builds a value node holding v.
func NewVariable(id string, v any) *Node {
	n := NewNode(NodeValue, id)
	n.Properties[ValueKey] = literalFor(v)
	return n
}

// literalFor picks the property kind that matches a Go value.
func literalFor(v any) Property {
	switch val := v.(type) {
	case Property:
		return val
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case bool:
		return Boolean(val)
	case string:
		if IsHexColor(val) {
			return Color(val)
		}
		return String(val)
	case []any:
		return Property{Type: KindArray, Value: val}
	case map[string]any:
		return Property{Type: KindObject, Value: val}
	case nil:
		return Number(0)
	default:
		return Property{Type: KindObject, Value: val}
	}
}

// LiteralFor is the exported form of the value-to-property mapping used when a
// script assigns a plain value to a property that does not exist yet.
func LiteralFor(v any) Property {
	return literalFor(v)
}

var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// IsHexColor reports whether s is a #rgb or #rrggbb color.
func IsHexColor(s string) bool {
	return hexColorPattern.MatchString(s)
}
