package scene

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// SchemaRegistry holds the compiled CUE scene schema and the per-type default
// property sets decoded from it.
type SchemaRegistry struct {
	ctx      *cue.Context
	schema   cue.Value
	defaults map[NodeType]map[string]Property
	mu       sync.RWMutex
}

var (
	registryOnce sync.Once
	registry     *SchemaRegistry
	registryErr  error
)

// Schema returns the process-wide scene schema, compiling it on first use.
func Schema() (*SchemaRegistry, error) {
	registryOnce.Do(func() {
		registry, registryErr = NewSchemaRegistry(schemaSource)
	})
	return registry, registryErr
}

// NewSchemaRegistry compiles a CUE scene schema. The source must define
// #Project and a defaults struct keyed by node type.
func NewSchemaRegistry(source string) (*SchemaRegistry, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(source, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile scene schema: %w", err)
	}

	sr := &SchemaRegistry{
		ctx:      ctx,
		schema:   val,
		defaults: make(map[NodeType]map[string]Property),
	}

	for _, t := range NodeTypes {
		props, err := sr.decodeDefaults(t)
		if err != nil {
			return nil, err
		}
		sr.defaults[t] = props
	}

	return sr, nil
}

// decodeDefaults extracts defaults.<type>. JSON is used as the bridge so that
// numbers land as float64 like every other property value.
func (sr *SchemaRegistry) decodeDefaults(t NodeType) (map[string]Property, error) {
	v := sr.schema.LookupPath(cue.ParsePath("defaults." + string(t)))
	if !v.Exists() {
		return map[string]Property{}, nil
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults for %s: %w", t, err)
	}

	props := make(map[string]Property)
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("failed to decode defaults for %s: %w", t, err)
	}
	return props, nil
}

// Defaults returns a fresh copy of the default properties for t.
func (sr *SchemaRegistry) Defaults(t NodeType) map[string]Property {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	src := sr.defaults[t]
	out := make(map[string]Property, len(src))
	for k, p := range src {
		out[k] = p.Clone()
	}
	return out
}

// ValidateProject unifies the project's JSON form with #Project.
func (sr *SchemaRegistry) ValidateProject(p *Project) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}

	sr.mu.RLock()
	defer sr.mu.RUnlock()

	dataVal := sr.ctx.CompileBytes(data, cue.Filename("project.json"))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}

	def := sr.schema.LookupPath(cue.ParsePath("#Project"))
	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// DefaultProperties returns the schema defaults for t, falling back to a built-in
// set if the schema could not be compiled.
func DefaultProperties(t NodeType) map[string]Property {
	if sr, err := Schema(); err == nil {
		return sr.Defaults(t)
	}
	return fallbackDefaults(t)
}

func fallbackDefaults(t NodeType) map[string]Property {
	switch t {
	case NodeRect:
		return map[string]Property{
			"x": Number(100), "y": Number(100),
			"width": Number(120), "height": Number(80),
			"rotation": Number(0), "opacity": Number(1),
			"fill": Color("#3b82f6"),
		}
	case NodeCircle:
		return map[string]Property{
			"x": Number(200), "y": Number(200), "radius": Number(50),
			"opacity": Number(1), "fill": Color("#ef4444"),
		}
	case NodeVector:
		return map[string]Property{
			"x": Number(0), "y": Number(0),
			"path":        String("M 0 0 L 100 100"),
			"stroke":      Color("#ffffff"),
			"strokeWidth": Number(2),
			"opacity":     Number(1),
		}
	case NodeValue:
		return map[string]Property{ValueKey: Number(0)}
	}
	return map[string]Property{}
}
