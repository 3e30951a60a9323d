package scene

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marshal encodes the project as its persisted JSON tree.
func Marshal(p *Project) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a JSON project tree.
func Unmarshal(data []byte) (*Project, error) {
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	return normalize(&p), nil
}

// MarshalYAML encodes the project as YAML.
func MarshalYAML(p *Project) ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project yaml: %w", err)
	}
	return data, nil
}

// UnmarshalYAML decodes a YAML project. Integer literals are widened to float64
// so values look the same as after a JSON round trip.
func UnmarshalYAML(data []byte) (*Project, error) {
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project yaml: %w", err)
	}
	for _, n := range p.Nodes {
		if n == nil {
			continue
		}
		for k, prop := range n.Properties {
			prop.Value = widen(prop.Value)
			for i := range prop.Keyframes {
				prop.Keyframes[i].Value = widen(prop.Keyframes[i].Value)
			}
			n.Properties[k] = prop
		}
	}
	for k, v := range p.Meta.Extra {
		p.Meta.Extra[k] = widen(v)
	}
	return normalize(&p), nil
}

// Load reads a project file. The format is picked from the extension:
// .yaml/.yml is YAML, anything else JSON.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", path, err)
	}
	if isYAML(path) {
		return UnmarshalYAML(data)
	}
	return Unmarshal(data)
}

// Save writes a project file, picking the format like Load.
func Save(path string, p *Project) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = MarshalYAML(p)
	} else {
		data, err = Marshal(p)
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write project: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace project: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// normalize fills in maps and ids that a hand-written file may have left out.
func normalize(p *Project) *Project {
	if p.Nodes == nil {
		p.Nodes = make(map[string]*Node)
	}
	if p.RootNodeIDs == nil {
		p.RootNodeIDs = []string{}
	}
	for id, n := range p.Nodes {
		if n == nil {
			delete(p.Nodes, id)
			continue
		}
		if n.ID == "" {
			n.ID = id
		}
		if n.Properties == nil {
			n.Properties = make(map[string]Property)
		}
	}
	return p
}

func widen(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = widen(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = widen(x)
		}
		return out
	}
	return v
}
