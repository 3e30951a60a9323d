package scene

import (
	"fmt"
	"strings"
)

// Kind is the interpretation tag carried by every property.
type Kind string

const (
	KindNumber     Kind = "number"
	KindString     Kind = "string"
	KindBoolean    Kind = "boolean"
	KindColor      Kind = "color"
	KindObject     Kind = "object"
	KindArray      Kind = "array"
	KindFunction   Kind = "function"
	KindExpression Kind = "expression"
	KindRef        Kind = "ref"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNumber, KindString, KindBoolean, KindColor, KindObject,
		KindArray, KindFunction, KindExpression, KindRef:
		return true
	}
	return false
}

// Scalar reports whether values of this kind are plain literals that can stand in
// as a fallback when evaluation has to be cut short.
func (k Kind) Scalar() bool {
	switch k {
	case KindNumber, KindString, KindBoolean, KindColor:
		return true
	}
	return false
}

// Dynamic reports whether the value is computed (expression) or linked (ref).
// Dynamic kinds never use keyframes.
func (k Kind) Dynamic() bool {
	return k == KindExpression || k == KindRef
}

// Easing selects how a keyframe segment is interpolated.
type Easing string

const (
	EasingLinear Easing = "linear"
	EasingStep   Easing = "step"
)

// Keyframe is a single time/value pair on a property curve.
type Keyframe struct {
	ID     string  `json:"id" yaml:"id" validate:"required"`
	Time   float64 `json:"time" yaml:"time"`
	Value  any     `json:"value" yaml:"value"`
	Easing Easing  `json:"easing" yaml:"easing" validate:"omitempty,oneof=linear step"`
}

// Property is the tagged value held by every node attribute.
type Property struct {
	Type      Kind       `json:"type" yaml:"type" validate:"required,kind"`
	Value     any        `json:"value" yaml:"value"`
	Keyframes []Keyframe `json:"keyframes,omitempty" yaml:"keyframes,omitempty" validate:"dive"`
}

// HasKeyframes reports whether keyframe evaluation applies to the property.
func (p Property) HasKeyframes() bool {
	return len(p.Keyframes) > 0 && !p.Type.Dynamic()
}

// Source returns the expression source or ref target string, or "" for literals.
func (p Property) Source() string {
	if !p.Type.Dynamic() {
		return ""
	}
	s, _ := p.Value.(string)
	return s
}

// Clone returns a copy that shares no keyframe backing array with p.
func (p Property) Clone() Property {
	if p.Keyframes != nil {
		kfs := make([]Keyframe, len(p.Keyframes))
		copy(kfs, p.Keyframes)
		p.Keyframes = kfs
	}
	return p
}

// Number builds a numeric literal property.
func Number(v float64) Property { return Property{Type: KindNumber, Value: v} }

// String builds a string literal property.
func String(v string) Property { return Property{Type: KindString, Value: v} }

// Boolean builds a boolean literal property.
func Boolean(v bool) Property { return Property{Type: KindBoolean, Value: v} }

// Color builds a color property from a hex string.
func Color(hex string) Property { return Property{Type: KindColor, Value: hex} }

// Expression builds an expression property from source text.
func Expression(src string) Property { return Property{Type: KindExpression, Value: src} }

// Ref builds a reference property pointing at nodeID:key.
func Ref(nodeID, key string) Property {
	return Property{Type: KindRef, Value: FormatRef(nodeID, key)}
}

// FormatRef renders a reference target in "<nodeId>:<propertyKey>" form.
func FormatRef(nodeID, key string) string {
	return nodeID + ":" + key
}

// ParseRef splits "<nodeId>:<propertyKey>". The key is everything after the first
// colon; both halves must be non-empty.
func ParseRef(s string) (nodeID, key string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// Patch is a partial Property. Apply merges only the fields that were set, so
// switching the type keeps existing keyframes unless they are replaced explicitly.
type Patch struct {
	typ          Kind
	hasType      bool
	value        any
	hasValue     bool
	keyframes    []Keyframe
	hasKeyframes bool
}

// ValuePatch sets only the value.
func ValuePatch(v any) Patch { return Patch{}.WithValue(v) }

// TypePatch sets only the kind.
func TypePatch(k Kind) Patch { return Patch{}.WithType(k) }

// KeyframesPatch replaces only the keyframe list. A nil list clears it.
func KeyframesPatch(kfs []Keyframe) Patch { return Patch{}.WithKeyframes(kfs) }

// FullPatch covers every field of p, so applying it restores p exactly.
func FullPatch(p Property) Patch {
	return Patch{}.WithType(p.Type).WithValue(p.Value).WithKeyframes(p.Keyframes)
}

// WithValue returns a copy of the patch that also sets the value.
func (pt Patch) WithValue(v any) Patch {
	pt.value, pt.hasValue = v, true
	return pt
}

// WithType returns a copy of the patch that also sets the kind.
func (pt Patch) WithType(k Kind) Patch {
	pt.typ, pt.hasType = k, true
	return pt
}

// WithKeyframes returns a copy of the patch that also replaces the keyframes.
func (pt Patch) WithKeyframes(kfs []Keyframe) Patch {
	if kfs != nil {
		cp := make([]Keyframe, len(kfs))
		copy(cp, kfs)
		kfs = cp
	}
	pt.keyframes, pt.hasKeyframes = kfs, true
	return pt
}

// Type returns the patched kind, if set.
func (pt Patch) Type() (Kind, bool) { return pt.typ, pt.hasType }

// Value returns the patched value, if set.
func (pt Patch) Value() (any, bool) { return pt.value, pt.hasValue }

// Keyframes returns the patched keyframe list, if set.
func (pt Patch) Keyframes() ([]Keyframe, bool) { return pt.keyframes, pt.hasKeyframes }

// Empty reports whether the patch touches nothing.
func (pt Patch) Empty() bool {
	return !pt.hasType && !pt.hasValue && !pt.hasKeyframes
}

// Apply shallow-merges the patch onto base and returns the result.
func (pt Patch) Apply(base Property) Property {
	out := base.Clone()
	if pt.hasType {
		out.Type = pt.typ
	}
	if pt.hasValue {
		out.Value = pt.value
	}
	if pt.hasKeyframes {
		out.Keyframes = nil
		if pt.keyframes != nil {
			out.Keyframes = make([]Keyframe, len(pt.keyframes))
			copy(out.Keyframes, pt.keyframes)
		}
	}
	return out
}

// Capture reads from p the fields that pt would overwrite. Applying the returned
// patch after pt restores those fields.
func (pt Patch) Capture(p Property) Patch {
	var out Patch
	if pt.hasType {
		out = out.WithType(p.Type)
	}
	if pt.hasValue {
		out = out.WithValue(p.Value)
	}
	if pt.hasKeyframes {
		out = out.WithKeyframes(p.Keyframes)
	}
	return out
}

// String renders the patch for log output.
func (pt Patch) String() string {
	var parts []string
	if pt.hasType {
		parts = append(parts, "type="+string(pt.typ))
	}
	if pt.hasValue {
		parts = append(parts, fmt.Sprintf("value=%v", pt.value))
	}
	if pt.hasKeyframes {
		parts = append(parts, fmt.Sprintf("keyframes=%d", len(pt.keyframes)))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
