package sync

import (
	"strings"
	"testing"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
)

func mapping(id string, matched bool, values map[string]string) engine.ResolvedMapping {
	return engine.ResolvedMapping{
		ResourceID:   id,
		AccountID:    "123",
		PayerAccount: "123",
		Values:       values,
		Matched:      matched,
	}
}

func TestDiffBatchClassification(t *testing.T) {
	d := NewDiffer(nil)

	mappings := []engine.ResolvedMapping{
		mapping("r-new", true, map[string]string{"env": "production"}),
		mapping("r-unchanged", true, map[string]string{"env": "production"}),
		mapping("r-changed", true, map[string]string{"env": "staging"}),
		mapping("r-lapsed", false, map[string]string{"env": "Unallocated"}),
		mapping("r-nothing", false, map[string]string{"env": "Unallocated"}),
	}
	prior := map[string]map[string]string{
		"r-unchanged": {"env": "production"},
		"r-changed":   {"env": "production"},
		"r-lapsed":    {"env": "production"},
	}

	diff := d.DiffBatch(mappings, prior)

	if len(diff.Inserts) != 1 || diff.Inserts[0].ResourceID != "r-new" {
		t.Errorf("expected insert for r-new, got %+v", diff.Inserts)
	}
	if len(diff.Updates) != 1 || diff.Updates[0].ResourceID != "r-changed" {
		t.Errorf("expected update for r-changed, got %+v", diff.Updates)
	}
	if len(diff.Deletes) != 1 || diff.Deletes[0].ResourceID != "r-lapsed" {
		t.Errorf("expected delete for r-lapsed, got %+v", diff.Deletes)
	}
	if diff.Omitted != 2 {
		t.Errorf("expected 2 omitted, got %d", diff.Omitted)
	}
	if diff.Skipped != 0 {
		t.Errorf("expected 0 skipped, got %d", diff.Skipped)
	}

	if rows := diff.Rows(); len(rows) != 3 {
		t.Errorf("expected 3 upload rows, got %d", len(rows))
	}
}

func TestDiffBatchHygiene(t *testing.T) {
	d := NewDiffer(nil)

	mappings := []engine.ResolvedMapping{
		mapping("", true, map[string]string{"env": "production"}),
		mapping("Not Available", true, map[string]string{"env": "production"}),
		mapping(strings.Repeat("x", 256), true, map[string]string{"env": "production"}),
		mapping("r-dup", true, map[string]string{"env": "production"}),
		mapping("r-dup", true, map[string]string{"env": "production"}),
	}

	diff := d.DiffBatch(mappings, nil)

	if diff.Skipped != 4 {
		t.Errorf("expected 4 skipped, got %d", diff.Skipped)
	}
	if len(diff.Inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(diff.Inserts))
	}
	if diff.Inserts[0].ResourceID != "r-dup" {
		t.Errorf("expected r-dup insert, got %s", diff.Inserts[0].ResourceID)
	}
}

func TestDiffBatchBoundaryLengthID(t *testing.T) {
	d := NewDiffer(nil)
	id := strings.Repeat("x", 255)

	diff := d.DiffBatch([]engine.ResolvedMapping{
		mapping(id, true, map[string]string{"env": "production"}),
	}, nil)

	if len(diff.Inserts) != 1 {
		t.Errorf("expected a 255-char resource ID to pass, got %d inserts", len(diff.Inserts))
	}
}

func TestDiffBatchRepeatableUntilMarked(t *testing.T) {
	d := NewDiffer(nil)
	mappings := []engine.ResolvedMapping{
		mapping("r-1", true, map[string]string{"env": "production"}),
	}

	first := d.DiffBatch(mappings, nil)
	second := d.DiffBatch(mappings, nil)
	if len(first.Inserts) != 1 || len(second.Inserts) != 1 {
		t.Fatalf("expected identical diffs before marking, got %d and %d inserts",
			len(first.Inserts), len(second.Inserts))
	}

	d.MarkProcessed(mappings)
	third := d.DiffBatch(mappings, nil)
	if len(third.Inserts) != 0 || third.Skipped != 1 {
		t.Errorf("expected marked resource to be skipped, got %+v", third)
	}
}

func TestDifferDeletions(t *testing.T) {
	d := NewDiffer(nil)
	d.MarkProcessed([]engine.ResolvedMapping{
		mapping("r-seen", true, map[string]string{"env": "production"}),
	})

	tagged := []stores.TaggedResource{
		{ResourceID: "r-seen", AccountID: "123"},
		{ResourceID: "r-gone", AccountID: "123", PayerAccount: "456"},
	}

	rows := d.Deletions(tagged)
	if len(rows) != 1 {
		t.Fatalf("expected 1 deletion, got %d", len(rows))
	}
	if rows[0].ResourceID != "r-gone" || rows[0].Op != OpDelete {
		t.Errorf("unexpected deletion row %+v", rows[0])
	}
	if rows[0].PayerAccount != "456" {
		t.Errorf("expected payer carried through, got %q", rows[0].PayerAccount)
	}
}
