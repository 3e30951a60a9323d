// Package policy lints framegraph projects with Open Policy Agent.
//
// Policies are Rego modules whose package defines a deny set. Each entry is
// either a message string or an object:
//
//	{"message": "...", "severity": "warning", "node": "box", "key": "x"}
//
// The severity falls back to the policy's own. Violations of severity error
// or critical make Result.Allowed false.
//
// # Input
//
// Policies see the document built by NewInput:
//
//	input.project.nodes          ordered nodes with id, type, layer and properties
//	input.project.root_node_ids  the layer list
//	input.refs                   every ref property with its parsed target
//	input.cycles                 dependency loops as "node:key" steps
//	input.syntax_errors          expressions that fail to compile
//
// Refs, cycles and syntax are computed in Go because they depend on the
// expression parser and the dependency graph.
//
// # Built-in policies
//
//   - dangling-refs: refs to missing nodes or properties, malformed refs
//   - reference-cycles: dependency loops
//   - expression-syntax: expressions that do not compile, ignored keyframes
//   - property-values: opacity range, negative sizes, colors, duplicate keyframe times
//   - variable-naming: value node ids that are not identifiers
//   - layer-order: unlayered visual nodes, layers naming missing nodes
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithEvents(tel.Events))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, project)
//
// Watch reloads the loaded directories whenever a .rego or .json file
// changes. Built-in policies survive reloads.
package policy
