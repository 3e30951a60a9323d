package policy

import (
	"time"

	"github.com/framegraph/framegraph/pkg/expr"
	"github.com/framegraph/framegraph/pkg/graph"
	"github.com/framegraph/framegraph/pkg/scene"
)

// Severity represents the severity level of a lint finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that break evaluation.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether findings of this severity fail a lint run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a lint rule written in Rego.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module. Violations are read from data.<package>.deny.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single finding against a project.
type Violation struct {
	Policy   string   `json:"policy" yaml:"policy"`
	NodeID   string   `json:"node,omitempty" yaml:"node,omitempty"`
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	Severity Severity `json:"severity" yaml:"severity"`

	DetectedAt time.Time `json:"detected_at" yaml:"detected_at"`
}

// Result is the outcome of evaluating every enabled policy against a project.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed" yaml:"allowed"`

	Violations []Violation `json:"violations" yaml:"violations"`

	// Warnings collects policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies" yaml:"evaluated_policies"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
	EvaluatedAt       time.Time     `json:"evaluated_at" yaml:"evaluated_at"`
}

// Count returns the number of violations with the given severity.
func (r *Result) Count(s Severity) int {
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Severity == s {
			n++
		}
	}
	return n
}

// Input is the document policies see as `input`.
type Input struct {
	Project ProjectDoc `json:"project"`

	// Refs lists every ref property with its parsed target.
	Refs []RefDoc `json:"refs"`

	// Cycles are dependency loops, each as "node:key" steps.
	Cycles [][]string `json:"cycles"`

	// SyntaxErrors lists expression properties that do not compile.
	SyntaxErrors []SyntaxDoc `json:"syntax_errors"`

	Context *Context `json:"context,omitempty"`
}

// ProjectDoc is the project flattened for Rego.
type ProjectDoc struct {
	RootNodeIDs []string  `json:"root_node_ids"`
	Nodes       []NodeDoc `json:"nodes"`
	Duration    float64   `json:"duration"`
}

// NodeDoc is one node. Layer is -1 for nodes outside the layer list.
type NodeDoc struct {
	ID         string                    `json:"id"`
	Type       string                    `json:"type"`
	Layer      int                       `json:"layer"`
	Properties map[string]scene.Property `json:"properties"`
}

// RefDoc is a ref property. Valid is false when the value is not "<node>:<key>".
type RefDoc struct {
	FromNode string `json:"from_node"`
	FromKey  string `json:"from_key"`
	Value    any    `json:"value"`
	Node     string `json:"node,omitempty"`
	Key      string `json:"key,omitempty"`
	Valid    bool   `json:"valid"`
}

// SyntaxDoc is an expression that failed to compile.
type SyntaxDoc struct {
	Node  string `json:"node"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Context carries metadata about the evaluation.
type Context struct {
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewInput flattens p into a policy input.
func NewInput(p *scene.Project, source string) *Input {
	layers := make(map[string]int, len(p.RootNodeIDs))
	for i, id := range p.RootNodeIDs {
		layers[id] = i
	}

	in := &Input{
		Project: ProjectDoc{
			RootNodeIDs: append([]string{}, p.RootNodeIDs...),
			Nodes:       make([]NodeDoc, 0, len(p.Nodes)),
			Duration:    p.Meta.Duration,
		},
		Refs:         []RefDoc{},
		Cycles:       [][]string{},
		SyntaxErrors: []SyntaxDoc{},
		Context: &Context{
			Source:    source,
			Timestamp: time.Now(),
		},
	}

	for _, id := range p.OrderedIDs() {
		n, _ := p.Node(id)
		layer, ok := layers[id]
		if !ok {
			layer = -1
		}
		in.Project.Nodes = append(in.Project.Nodes, NodeDoc{
			ID:         id,
			Type:       string(n.Type),
			Layer:      layer,
			Properties: n.Properties,
		})

		for _, key := range n.Keys() {
			prop, _ := n.Property(key)
			if prop.Type == scene.KindExpression {
				if src, ok := prop.Value.(string); ok {
					if err := expr.CheckSyntax(src); err != nil {
						in.SyntaxErrors = append(in.SyntaxErrors, SyntaxDoc{Node: id, Key: key, Error: err.Error()})
					}
				}
				continue
			}
			if prop.Type != scene.KindRef {
				continue
			}
			ref := RefDoc{FromNode: id, FromKey: key, Value: prop.Value}
			if s, ok := prop.Value.(string); ok {
				ref.Node, ref.Key, ref.Valid = scene.ParseRef(s)
			}
			in.Refs = append(in.Refs, ref)
		}
	}

	for _, cycle := range graph.Build(p).FindCycles() {
		steps := make([]string, len(cycle))
		for i, pk := range cycle {
			steps[i] = pk.String()
		}
		in.Cycles = append(in.Cycles, steps)
	}

	return in
}
