package dimensions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vtagger/vtagger/pkg/engine"
)

// Loader reads dimension documents from a directory.
type Loader struct {
	dir       string
	schema    *schemaValidator
	validator *validator.Validate
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string) (*Loader, error) {
	schema, err := newSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{
		dir:       dir,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// LoadAll reads every dimension document in the directory and returns
// the dimensions sorted by index. Any invalid document fails the whole
// load; a sync must never run against a partially valid set.
func (l *Loader) LoadAll() ([]engine.Dimension, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("failed to read dimensions directory %s", l.dir), err,
		).WithCode(engine.ErrCodeValidation)
	}

	var dims []engine.Dimension
	for _, entry := range entries {
		if entry.IsDir() || !isDimensionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		dim, errs := l.LoadFile(path)
		if len(errs) > 0 {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("dimension document %s is invalid: %s", entry.Name(), errs[0].Error()),
				nil,
			).WithCode(engine.ErrCodeValidation)
		}
		dims = append(dims, dim)
	}

	sort.Slice(dims, func(i, j int) bool {
		return dims[i].Index < dims[j].Index
	})

	return dims, nil
}

// LoadFile reads and validates a single dimension document. All
// validation problems are returned, not just the first.
func (l *Loader) LoadFile(path string) (engine.Dimension, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return engine.Dimension{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	dim, errs := l.Parse(path, content)
	if len(errs) > 0 {
		return engine.Dimension{}, errs
	}
	return dim, nil
}

// Parse validates raw document content. The name parameter is only
// used for error positions, so callers can validate unsaved content.
func (l *Loader) Parse(name string, content []byte) (engine.Dimension, []ValidationError) {
	// Decode to a generic document first so schema validation sees the
	// document as authored, unknown fields included.
	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return engine.Dimension{}, []ValidationError{{
			File:     name,
			Message:  fmt.Sprintf("failed to parse document: %v", err),
			Severity: "error",
		}}
	}
	if doc == nil {
		return engine.Dimension{}, []ValidationError{{
			File:     name,
			Message:  "document is empty",
			Severity: "error",
		}}
	}

	if errs := l.schema.validate(name, doc); len(errs) > 0 {
		return engine.Dimension{}, errs
	}

	var dim engine.Dimension
	if err := yaml.Unmarshal(content, &dim); err != nil {
		return engine.Dimension{}, []ValidationError{{
			File:     name,
			Message:  fmt.Sprintf("failed to decode dimension: %v", err),
			Severity: "error",
		}}
	}

	if err := l.validator.Struct(dim); err != nil {
		var errs []ValidationError
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, ve := range verrs {
				errs = append(errs, ValidationError{
					File:     name,
					Path:     ve.Namespace(),
					Message:  fmt.Sprintf("field %s failed %s validation", ve.Field(), ve.Tag()),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, ValidationError{
				File:     name,
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return engine.Dimension{}, errs
	}

	sum := sha256.Sum256(content)
	dim.Source = name
	dim.Checksum = hex.EncodeToString(sum[:])

	return dim, nil
}

func isDimensionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
