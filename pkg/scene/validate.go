package scene

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("kind", func(fl validator.FieldLevel) bool {
			return Kind(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("nodeid", func(fl validator.FieldLevel) bool {
			id := fl.Field().String()
			return id != "" && !strings.ContainsAny(id, ": \t\n")
		})
	})
	return validate
}

// ValidationError lists every structural problem found in a project.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid project: %s", strings.Join(e.Problems, "; "))
}

// Validate checks struct tags on every node and the cross-field rules the tags
// cannot express: map keys match node ids, refs parse, expressions are strings,
// dynamic kinds carry no keyframes, and layer/selection ids exist.
func Validate(p *Project) error {
	var problems []string
	v := structValidator()

	if err := v.Struct(p.Meta); err != nil {
		problems = append(problems, describe("meta", err)...)
	}

	for _, id := range p.OrderedIDs() {
		n := p.Nodes[id]
		if err := v.Struct(n); err != nil {
			problems = append(problems, describe("node "+id, err)...)
		}
		if n.ID != id {
			problems = append(problems, fmt.Sprintf("node %s: stored under key %q", n.ID, id))
		}
		for _, key := range n.Keys() {
			problems = append(problems, checkProperty(id, key, n.Properties[key])...)
		}
	}

	seen := make(map[string]bool, len(p.RootNodeIDs))
	for _, id := range p.RootNodeIDs {
		if !p.Has(id) {
			problems = append(problems, fmt.Sprintf("rootNodeIds: unknown node %q", id))
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("rootNodeIds: duplicate %q", id))
		}
		seen[id] = true
	}

	if p.Selection != nil && !p.Has(*p.Selection) {
		problems = append(problems, fmt.Sprintf("selection: unknown node %q", *p.Selection))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkProperty(nodeID, key string, prop Property) []string {
	var problems []string
	where := nodeID + "." + key

	switch prop.Type {
	case KindExpression:
		if _, ok := prop.Value.(string); !ok {
			problems = append(problems, where+": expression value must be a string")
		}
	case KindRef:
		s, _ := prop.Value.(string)
		if _, _, ok := ParseRef(s); !ok {
			problems = append(problems, fmt.Sprintf("%s: malformed ref %q", where, s))
		}
	case KindColor:
		if s, ok := prop.Value.(string); ok && s != "" && !IsHexColor(s) && !strings.HasPrefix(s, "rgb") {
			problems = append(problems, fmt.Sprintf("%s: unrecognised color %q", where, s))
		}
	}

	if prop.Type.Dynamic() && len(prop.Keyframes) > 0 {
		problems = append(problems, where+": keyframes are ignored on "+string(prop.Type)+" properties")
	}
	return problems
}

func describe(prefix string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{prefix + ": " + err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s: %s failed %s", prefix, fe.Namespace(), fe.Tag()))
	}
	return out
}
