package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		danglingRefsPolicy(),
		referenceCyclesPolicy(),
		expressionSyntaxPolicy(),
		propertyValuesPolicy(),
		variableNamingPolicy(),
		layerOrderPolicy(),
	}
}

// danglingRefsPolicy flags refs that do not resolve. They evaluate to 0.
func danglingRefsPolicy() Policy {
	return Policy{
		Name:        "dangling-refs",
		Description: "Refs must point at an existing node and property",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"refs"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.refs

import rego.v1

node_ids := {n.id | some n in input.project.nodes}

props[id] := n.properties if {
	some n in input.project.nodes
	id := n.id
}

deny contains violation if {
	some ref in input.refs
	not ref.valid
	violation := {
		"message": sprintf("%s:%s has a malformed ref %v", [ref.from_node, ref.from_key, ref.value]),
		"node": ref.from_node,
		"key": ref.from_key,
	}
}

deny contains violation if {
	some ref in input.refs
	ref.valid
	not ref.node in node_ids
	violation := {
		"message": sprintf("%s:%s points at missing node %s", [ref.from_node, ref.from_key, ref.node]),
		"node": ref.from_node,
		"key": ref.from_key,
	}
}

deny contains violation if {
	some ref in input.refs
	ref.valid
	ref.node in node_ids
	not props[ref.node][ref.key]
	violation := {
		"message": sprintf("%s:%s points at missing property %s:%s", [ref.from_node, ref.from_key, ref.node, ref.key]),
		"node": ref.from_node,
		"key": ref.from_key,
	}
}
`,
	}
}

// referenceCyclesPolicy reports every dependency loop found in the graph.
func referenceCyclesPolicy() Policy {
	return Policy{
		Name:        "reference-cycles",
		Description: "Properties must not depend on themselves through refs or expressions",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"refs", "expressions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.cycles

import rego.v1

deny contains violation if {
	some cycle in input.cycles
	start := cycle[0]
	i := indexof(start, ":")
	violation := {
		"message": sprintf("dependency cycle: %s", [concat(" -> ", cycle)]),
		"node": substring(start, 0, i),
		"key": substring(start, i + 1, -1),
	}
}
`,
	}
}

// expressionSyntaxPolicy flags expressions that fail to compile and
// keyframes that a dynamic property will never use.
func expressionSyntaxPolicy() Policy {
	return Policy{
		Name:        "expression-syntax",
		Description: "Expressions must compile; keyframes on expressions and refs are ignored",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"expressions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.expressions

import rego.v1

deny contains violation if {
	some e in input.syntax_errors
	violation := {
		"message": sprintf("%s:%s does not compile: %s", [e.node, e.key, e.error]),
		"node": e.node,
		"key": e.key,
	}
}

deny contains violation if {
	some n in input.project.nodes
	some key, prop in n.properties
	prop.type in {"expression", "ref"}
	count(object.get(prop, "keyframes", [])) > 0
	violation := {
		"message": sprintf("%s:%s is a %s property; its keyframes are ignored", [n.id, key, prop.type]),
		"severity": "warning",
		"node": n.id,
		"key": key,
	}
}
`,
	}
}

// propertyValuesPolicy checks literal values a renderer would reject or clamp.
func propertyValuesPolicy() Policy {
	return Policy{
		Name:        "property-values",
		Description: "Literal opacity, sizes, colors and keyframe times must be sensible",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"values"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.values

import rego.v1

size_keys := {"width", "height", "radius", "strokeWidth"}

deny contains violation if {
	some n in input.project.nodes
	prop := n.properties.opacity
	prop.type == "number"
	out_of_unit(prop.value)
	violation := {
		"message": sprintf("%s:opacity %v is outside [0, 1]", [n.id, prop.value]),
		"node": n.id,
		"key": "opacity",
	}
}

deny contains violation if {
	some n in input.project.nodes
	some key, prop in n.properties
	key in size_keys
	prop.type == "number"
	prop.value < 0
	violation := {
		"message": sprintf("%s:%s is negative (%v)", [n.id, key, prop.value]),
		"node": n.id,
		"key": key,
	}
}

deny contains violation if {
	some n in input.project.nodes
	some key, prop in n.properties
	prop.type == "color"
	is_string(prop.value)
	prop.value != ""
	not startswith(prop.value, "rgb")
	not regex.match(` + "`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`" + `, prop.value)
	violation := {
		"message": sprintf("%s:%s has unrecognised color %q", [n.id, key, prop.value]),
		"node": n.id,
		"key": key,
	}
}

deny contains violation if {
	some n in input.project.nodes
	some key, prop in n.properties
	some i, a in prop.keyframes
	some j, b in prop.keyframes
	i < j
	a.time == b.time
	violation := {
		"message": sprintf("%s:%s has two keyframes at t=%v", [n.id, key, a.time]),
		"node": n.id,
		"key": key,
	}
}

out_of_unit(v) if v < 0

out_of_unit(v) if v > 1
`,
	}
}

// variableNamingPolicy warns about value nodes whose id cannot be used as a
// bare name inside expressions.
func variableNamingPolicy() Policy {
	return Policy{
		Name:        "variable-naming",
		Description: "Value node ids should be identifiers so expressions can refer to them",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "expressions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.naming

import rego.v1

deny contains violation if {
	some n in input.project.nodes
	n.type == "value"
	not regex.match(` + "`^[A-Za-z_][A-Za-z0-9_]*$`" + `, n.id)
	violation := {
		"message": sprintf("value node %q is not an identifier; expressions cannot refer to it by name", [n.id]),
		"node": n.id,
	}
}
`,
	}
}

// layerOrderPolicy checks the layer list against the node map.
func layerOrderPolicy() Policy {
	return Policy{
		Name:        "layer-order",
		Description: "Visual nodes should be layered and layers should name existing nodes",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"layers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package framegraph.layers

import rego.v1

deny contains violation if {
	some n in input.project.nodes
	n.type != "value"
	n.layer < 0
	violation := {
		"message": sprintf("%s is not in the layer list and will not be drawn", [n.id]),
		"node": n.id,
	}
}

deny contains violation if {
	some id in input.project.root_node_ids
	not id in {n.id | some n in input.project.nodes}
	violation := {
		"message": sprintf("layer list names missing node %s", [id]),
		"severity": "warning",
		"node": id,
	}
}
`,
	}
}
