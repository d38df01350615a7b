package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vtagger/vtagger/pkg/dsl"
)

// CompiledStatement pairs a parsed match predicate with its parsed
// value literal.
type CompiledStatement struct {
	Predicate dsl.Predicate
	Value     string
}

// CompiledDimension is a dimension with all statements parsed, ready
// for evaluation.
type CompiledDimension struct {
	Name         string
	Index        int
	Kind         DimensionKind
	DefaultValue string
	Statements   []CompiledStatement
	Checksum     string
}

// Compiler turns dimension definitions into compiled evaluation plans.
// Compilation results are cached by document checksum, so repeated
// loads of unchanged dimension files skip re-parsing.
type Compiler struct {
	mu    sync.Mutex
	cache map[string]*CompiledDimension
}

// NewCompiler creates a compiler with an empty cache.
func NewCompiler() *Compiler {
	return &Compiler{
		cache: make(map[string]*CompiledDimension),
	}
}

// Compile parses all statements of a single dimension. Parse failures
// are permanent validation errors carrying the dimension name.
func (c *Compiler) Compile(dim Dimension) (*CompiledDimension, error) {
	if dim.Checksum != "" {
		c.mu.Lock()
		if cached, ok := c.cache[dim.Checksum]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()
	}

	if dim.Name == "" {
		return nil, NewPermanentError("dimension has empty name", nil).
			WithCode(ErrCodeValidation)
	}
	if dim.DefaultValue == "" {
		return nil, NewPermanentError("dimension has empty default value", nil).
			WithCode(ErrCodeValidation).WithDimension(dim.Name)
	}

	compiled := &CompiledDimension{
		Name:         dim.Name,
		Index:        dim.Index,
		Kind:         dim.Kind,
		DefaultValue: dim.DefaultValue,
		Statements:   make([]CompiledStatement, 0, len(dim.Statements)),
		Checksum:     dim.Checksum,
	}

	for i, st := range dim.Statements {
		pred, err := dsl.ParseMatch(st.Match)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("statement %d match expression is invalid", i), err,
			).WithCode(ErrCodeValidation).WithDimension(dim.Name)
		}
		lit, err := dsl.ParseValue(st.Value)
		if err != nil {
			return nil, NewPermanentError(
				fmt.Sprintf("statement %d value expression is invalid", i), err,
			).WithCode(ErrCodeValidation).WithDimension(dim.Name)
		}
		compiled.Statements = append(compiled.Statements, CompiledStatement{
			Predicate: pred,
			Value:     string(lit),
		})
	}

	if dim.Checksum != "" {
		c.mu.Lock()
		c.cache[dim.Checksum] = compiled
		c.mu.Unlock()
	}

	return compiled, nil
}

// CompileAll compiles a full dimension set, checks index uniqueness and
// reference validity, and returns the dimensions sorted by index.
func (c *Compiler) CompileAll(dims []Dimension) ([]*CompiledDimension, error) {
	compiled := make([]*CompiledDimension, 0, len(dims))
	byIndex := make(map[int]string, len(dims))
	byName := make(map[string]bool, len(dims))

	for _, dim := range dims {
		if other, exists := byIndex[dim.Index]; exists {
			return nil, NewPermanentError(
				fmt.Sprintf("dimensions %q and %q share index %d", other, dim.Name, dim.Index),
				nil,
			).WithCode(ErrCodeDuplicateIndex).WithDimension(dim.Name)
		}
		byIndex[dim.Index] = dim.Name

		if byName[dim.Name] {
			return nil, NewPermanentError(
				fmt.Sprintf("duplicate dimension name %q", dim.Name), nil,
			).WithCode(ErrCodeValidation).WithDimension(dim.Name)
		}
		byName[dim.Name] = true

		cd, err := c.Compile(dim)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cd)
	}

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Index < compiled[j].Index
	})

	if err := buildDepGraph(compiled).validate(); err != nil {
		return nil, err
	}

	return compiled, nil
}

// RequiredTagKeys returns the union of physical tag keys read anywhere
// in the compiled set, sorted. Fetchers use this to ask the platform
// for exactly the columns the rules need.
func RequiredTagKeys(dims []*CompiledDimension) []string {
	seen := make(map[string]bool)
	for _, d := range dims {
		for _, st := range d.Statements {
			for _, key := range st.Predicate.TagKeys() {
				seen[key] = true
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
