package dimensions

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ValidationError describes a problem in a dimension document with
// enough position information to point an editor at it.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// dimensionSchema constrains the shape of a dimension document.
const dimensionSchema = `
#Dimension: {
	// vtag_name is the virtual tag this dimension produces.
	vtag_name: string & =~"^[A-Za-z0-9 _.:/=+@-]+$"

	// index is the evaluation position; unique across the loaded set.
	index: int & >=0

	// kind is informational metadata.
	kind?: "business" | "technical"

	// default_value applies when no statement matches.
	default_value: string & !=""

	// statements are evaluated in order; first match wins.
	statements?: [...{
		match: string & !=""
		value: string & !=""
	}]
}
`

// schemaValidator validates decoded documents against the CUE schema.
type schemaValidator struct {
	ctx    *cue.Context
	schema cue.Value
}

func newSchemaValidator() (*schemaValidator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(dimensionSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile dimension schema: %w", err)
	}
	return &schemaValidator{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Dimension")),
	}, nil
}

// validate unifies a decoded document with the schema and reports all
// violations.
func (sv *schemaValidator) validate(file string, doc any) []ValidationError {
	dataVal := sv.ctx.Encode(doc)
	if err := dataVal.Err(); err != nil {
		return convertCUEErrors(file, err)
	}

	unified := sv.schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(file, err)
	}

	return nil
}

// convertCUEErrors flattens a CUE error into positioned ValidationErrors.
func convertCUEErrors(file string, err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     file,
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = joinPath(path)
		}
		out = append(out, ve)
	}

	return out
}

func joinPath(parts []string) string {
	path := ""
	for i, p := range parts {
		if i > 0 {
			path += "."
		}
		path += p
	}
	return path
}
