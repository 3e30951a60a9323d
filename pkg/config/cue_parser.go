package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed config.cue
var configSchema string

// CUEParser reads configuration written in CUE. The file is unified with the
// #Config schema so that out-of-range values, typos in key names and wrong
// types are reported with their source position.
type CUEParser struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewCUEParser compiles the configuration schema.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(configSchema, cue.Filename("config.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &CUEParser{
		ctx:    ctx,
		schema: val.LookupPath(cue.ParsePath("#Config")),
	}, nil
}

// ParseFile reads a CUE file and returns its JSON form.
func (cp *CUEParser) ParseFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return cp.parse(string(content), path)
}

// ParseInline parses CUE source held in memory.
func (cp *CUEParser) ParseInline(content string) ([]byte, error) {
	return cp.parse(content, "inline")
}

func (cp *CUEParser) parse(content, filename string) ([]byte, error) {
	val := cp.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	return data, nil
}

// convertCUEErrors flattens a CUE error list into ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}
