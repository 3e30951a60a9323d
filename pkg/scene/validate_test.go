package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Project) *Project
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(p *Project) *Project { return p },
		},
		{
			name: "malformed ref",
			mutate: func(p *Project) *Project {
				return p.WithProperty("rect_1", "x", Property{Type: KindRef, Value: "nocolon"})
			},
			wantErr: `rect_1.x: malformed ref "nocolon"`,
		},
		{
			name: "keyframes on expression",
			mutate: func(p *Project) *Project {
				return p.WithProperty("rect_1", "x", Property{
					Type: KindExpression, Value: "t",
					Keyframes: []Keyframe{{ID: "k", Time: 0, Value: 1.0}},
				})
			},
			wantErr: "keyframes are ignored on expression properties",
		},
		{
			name: "unknown kind",
			mutate: func(p *Project) *Project {
				return p.WithProperty("rect_1", "x", Property{Type: "vec3", Value: 1.0})
			},
			wantErr: "failed kind",
		},
		{
			name: "dangling layer id",
			mutate: func(p *Project) *Project {
				return p.WithRootNodeIDs(append(p.RootNodeIDs, "ghost"))
			},
			wantErr: `rootNodeIds: unknown node "ghost"`,
		},
		{
			name: "dangling selection",
			mutate: func(p *Project) *Project {
				return p.WithSelection("ghost")
			},
			wantErr: `selection: unknown node "ghost"`,
		},
		{
			name: "negative duration",
			mutate: func(p *Project) *Project {
				return p.WithMeta(Meta{Duration: -1})
			},
			wantErr: "failed gte",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mutate(sampleProject()))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchemaValidateProject(t *testing.T) {
	sr, err := Schema()
	require.NoError(t, err)

	assert.NoError(t, sr.ValidateProject(sampleProject()))

	bad := sampleProject().WithProperty("rect_1", "x", Property{Type: KindRef, Value: 12.0})
	assert.Error(t, sr.ValidateProject(bad))
}
