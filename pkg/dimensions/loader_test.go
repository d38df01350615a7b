package dimensions

import (
	"os"
	"path/filepath"
	"testing"
)

const validDoc = `
vtag_name: environment
index: 0
kind: technical
default_value: Unallocated
statements:
  - match: "TAG['Environment'] == 'prod'"
    value: "'production'"
  - match: "TAG['Environment'] CONTAINS 'stag'"
    value: "'staging'"
`

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	l, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	return l
}

func TestLoadFile_ValidDocument(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "environment.yaml", validDoc)
	l := newTestLoader(t, dir)

	dim, errs := l.LoadFile(filepath.Join(dir, "environment.yaml"))
	if len(errs) > 0 {
		t.Fatalf("Expected no errors, got: %v", errs)
	}

	if dim.Name != "environment" {
		t.Errorf("Expected name environment, got %s", dim.Name)
	}
	if dim.Index != 0 {
		t.Errorf("Expected index 0, got %d", dim.Index)
	}
	if dim.DefaultValue != "Unallocated" {
		t.Errorf("Expected default Unallocated, got %s", dim.DefaultValue)
	}
	if len(dim.Statements) != 2 {
		t.Errorf("Expected 2 statements, got %d", len(dim.Statements))
	}
	if dim.Checksum == "" {
		t.Error("Expected checksum to be set")
	}
	if dim.Source == "" {
		t.Error("Expected source to be set")
	}
}

func TestParse_MissingRequiredField(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	_, errs := l.Parse("bad.yaml", []byte("vtag_name: environment\nindex: 0\n"))
	if len(errs) == 0 {
		t.Fatal("Expected validation errors for missing default_value")
	}
	if errs[0].Severity != "error" {
		t.Errorf("Expected error severity, got %s", errs[0].Severity)
	}
}

func TestParse_NegativeIndexRejected(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	doc := "vtag_name: environment\nindex: -1\ndefault_value: x\n"
	if _, errs := l.Parse("bad.yaml", []byte(doc)); len(errs) == 0 {
		t.Fatal("Expected validation error for negative index")
	}
}

func TestParse_EmptyStatementRejected(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	doc := `
vtag_name: environment
index: 0
default_value: x
statements:
  - match: ""
    value: "'v'"
`
	if _, errs := l.Parse("bad.yaml", []byte(doc)); len(errs) == 0 {
		t.Fatal("Expected validation error for empty match")
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	if _, errs := l.Parse("bad.yaml", []byte("vtag_name: [unclosed")); len(errs) == 0 {
		t.Fatal("Expected parse error for malformed YAML")
	}
}

func TestParse_ChecksumTracksContent(t *testing.T) {
	l := newTestLoader(t, t.TempDir())

	a, errs := l.Parse("a.yaml", []byte(validDoc))
	if len(errs) > 0 {
		t.Fatalf("Expected no errors, got: %v", errs)
	}
	b, errs := l.Parse("b.yaml", []byte(validDoc+"# trailing comment\n"))
	if len(errs) > 0 {
		t.Fatalf("Expected no errors, got: %v", errs)
	}

	if a.Checksum == b.Checksum {
		t.Error("Expected different checksums for different content")
	}
}

func TestLoadAll_SortedByIndex(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "zz-first.yaml", "vtag_name: first\nindex: 0\ndefault_value: x\n")
	writeDoc(t, dir, "aa-second.yaml", "vtag_name: second\nindex: 1\ndefault_value: x\n")
	writeDoc(t, dir, "notes.txt", "not a dimension")
	l := newTestLoader(t, dir)

	dims, err := l.LoadAll()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(dims) != 2 {
		t.Fatalf("Expected 2 dimensions, got %d", len(dims))
	}
	if dims[0].Name != "first" || dims[1].Name != "second" {
		t.Errorf("Expected index order, got %s, %s", dims[0].Name, dims[1].Name)
	}
}

func TestLoadAll_InvalidDocumentFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.yaml", validDoc)
	writeDoc(t, dir, "bad.yaml", "vtag_name: broken\n")
	l := newTestLoader(t, dir)

	if _, err := l.LoadAll(); err == nil {
		t.Fatal("Expected load to fail when any document is invalid")
	}
}
