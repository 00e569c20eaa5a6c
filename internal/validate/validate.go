// Package validate checks incoming documents against a CUE schema before
// they reach the write path. The coordinator treats it as a pluggable
// Validator; callers that skip schema validation simply don't install one.
package validate

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/pentimento/internal/model"
)

// Schema is a compiled CUE document schema. Safe for concurrent use once
// built.
type Schema struct {
	ctx     *cue.Context
	value   cue.Value
	mapping model.Mapping
}

// CompileSchema compiles CUE source into a Schema. The source must
// evaluate to a struct; documents are unified against it.
//
//	s, err := CompileSchema(`{temp: number & <100, site?: {name: string}}`)
func CompileSchema(src string) (*Schema, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Schema{ctx: ctx, value: value, mapping: model.DefaultMapping()}, nil
}

// LoadSchema reads and compiles a CUE schema file.
func LoadSchema(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := CompileSchema(string(src))
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// WithMapping returns a copy of the schema using m to recognize the
// engine's reserved fields.
func (s *Schema) WithMapping(m model.Mapping) *Schema {
	out := *s
	out.mapping = m
	return &out
}

// Check validates one document against the schema and returns every
// violation found, not just the first. Engine-reserved fields (the id,
// the delete marker, the audit scratch field) are stripped before
// unification so closed schemas don't have to declare them.
func (s *Schema) Check(doc model.Document) []model.Violation {
	scrubbed := make(model.Document, len(doc))
	for k, v := range doc {
		switch k {
		case s.mapping.IDField, s.mapping.DeleteField, model.FieldPreviousValues:
			continue
		}
		scrubbed[k] = v
	}

	docVal := s.ctx.Encode(scrubbed)
	if err := docVal.Err(); err != nil {
		return []model.Violation{{Path: "", Detail: err.Error()}}
	}

	unified := s.value.Unify(docVal)
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []model.Violation
	for _, e := range cueerrors.Errors(err) {
		out = append(out, model.Violation{
			Path:   strings.Join(e.Path(), "."),
			Detail: e.Error(),
		})
	}
	return out
}
