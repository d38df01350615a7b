package engine

import (
	"errors"
	"testing"
)

func TestCompileAll_SortsByIndex(t *testing.T) {
	compiled, err := NewCompiler().CompileAll([]Dimension{
		{Name: "b", Index: 2, DefaultValue: "x"},
		{Name: "a", Index: 0, DefaultValue: "x"},
		{Name: "c", Index: 1, DefaultValue: "x"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	order := []string{"a", "c", "b"}
	for i, d := range compiled {
		if d.Name != order[i] {
			t.Errorf("Position %d: expected %s, got %s", i, order[i], d.Name)
		}
	}
}

func TestCompileAll_DuplicateIndexRejected(t *testing.T) {
	_, err := NewCompiler().CompileAll([]Dimension{
		{Name: "a", Index: 0, DefaultValue: "x"},
		{Name: "b", Index: 0, DefaultValue: "x"},
	})
	if err == nil {
		t.Fatal("Expected duplicate index error")
	}

	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeDuplicateIndex {
		t.Errorf("Expected DUPLICATE_INDEX, got: %v", err)
	}
}

func TestCompileAll_UnknownReferenceRejected(t *testing.T) {
	_, err := NewCompiler().CompileAll([]Dimension{
		{
			Name: "a", Index: 0, DefaultValue: "x",
			Statements: []Statement{
				{Match: "DIMENSION['missing'] == 'y'", Value: "'v'"},
			},
		},
	})
	if err == nil {
		t.Fatal("Expected unresolved reference error")
	}

	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeUnresolvedReference {
		t.Errorf("Expected UNRESOLVED_REFERENCE, got: %v", err)
	}
}

func TestCompileAll_ForwardReferenceRejected(t *testing.T) {
	// DIMENSION references must point at a strictly lower index.
	_, err := NewCompiler().CompileAll([]Dimension{
		{
			Name: "a", Index: 0, DefaultValue: "x",
			Statements: []Statement{
				{Match: "DIMENSION['b'] == 'y'", Value: "'v'"},
			},
		},
		{Name: "b", Index: 1, DefaultValue: "x"},
	})
	if err == nil {
		t.Fatal("Expected ordering violation error")
	}

	var e *EngineError
	if !errors.As(err, &e) || e.Code != ErrCodeUnresolvedReference {
		t.Errorf("Expected UNRESOLVED_REFERENCE for forward reference, got: %v", err)
	}
}

func TestCompileAll_SelfReferenceRejected(t *testing.T) {
	_, err := NewCompiler().CompileAll([]Dimension{
		{
			Name: "a", Index: 0, DefaultValue: "x",
			Statements: []Statement{
				{Match: "DIMENSION['a'] == 'y'", Value: "'v'"},
			},
		},
	})
	if err == nil {
		t.Fatal("Expected self reference to be rejected")
	}
}

func TestCompile_InvalidMatchRejected(t *testing.T) {
	_, err := NewCompiler().Compile(Dimension{
		Name: "a", Index: 0, DefaultValue: "x",
		Statements: []Statement{
			{Match: "TAG[Env] == 'prod'", Value: "'v'"},
		},
	})
	if err == nil {
		t.Fatal("Expected parse error to surface from compile")
	}

	var e *EngineError
	if !errors.As(err, &e) {
		t.Fatalf("Expected *EngineError, got %T", err)
	}
	if e.Code != ErrCodeValidation || e.Dimension != "a" {
		t.Errorf("Expected VALIDATION_ERROR on dimension a, got: %v", err)
	}
}

func TestCompile_CachesByChecksum(t *testing.T) {
	c := NewCompiler()
	dim := environmentDimension()
	dim.Checksum = "abc123"

	first, err := c.Compile(dim)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	second, err := c.Compile(dim)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if first != second {
		t.Error("Expected cached compilation for identical checksum")
	}
}

func TestRequiredTagKeys(t *testing.T) {
	compiled, err := NewCompiler().CompileAll([]Dimension{
		environmentDimension(),
		{
			Name: "team", Index: 1, DefaultValue: "unknown",
			Statements: []Statement{
				{Match: "TAG['Team'] == 'core' || TAG['Owner'] CONTAINS '@'", Value: "'core'"},
				{Match: "DIMENSION['environment'] == 'staging'", Value: "'qa'"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	keys := RequiredTagKeys(compiled)
	want := []string{"Environment", "Owner", "Team"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, keys)
		}
	}
}
