package sync

import (
	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
)

// maxResourceIDLength is the platform's limit on resource identifiers.
const maxResourceIDLength = 255

// Differ classifies resolved mappings against previously applied
// state: insert for newly matched resources, update when values
// changed, delete when a previously tagged resource no longer matches
// anything, and omit otherwise.
//
// DiffBatch is read-only with respect to run state; callers apply the
// diff and then call MarkProcessed, so re-running a diff that was never
// applied yields the same classification.
type Differ struct {
	dims []*engine.CompiledDimension
	seen map[string]bool
}

// NewDiffer creates a differ for one sync run.
func NewDiffer(dims []*engine.CompiledDimension) *Differ {
	return &Differ{
		dims: dims,
		seen: make(map[string]bool),
	}
}

// Diff is the classification of one batch.
type Diff struct {
	Inserts []UploadRow
	Updates []UploadRow
	Deletes []UploadRow

	// Omitted counts resources needing no change.
	Omitted int

	// Skipped counts resources dropped by hygiene rules or already
	// processed earlier in the run.
	Skipped int
}

// Rows returns all upload rows in the diff, inserts first.
func (d Diff) Rows() []UploadRow {
	rows := make([]UploadRow, 0, len(d.Inserts)+len(d.Updates)+len(d.Deletes))
	rows = append(rows, d.Inserts...)
	rows = append(rows, d.Updates...)
	rows = append(rows, d.Deletes...)
	return rows
}

// DiffBatch classifies one batch of resolved mappings. prior holds the
// stored virtual tags for the batch's resources, keyed by resource ID.
func (d *Differ) DiffBatch(mappings []engine.ResolvedMapping, prior map[string]map[string]string) Diff {
	var diff Diff
	inBatch := make(map[string]bool, len(mappings))

	for _, m := range mappings {
		if !usableResourceID(m.ResourceID) || d.seen[m.ResourceID] || inBatch[m.ResourceID] {
			diff.Skipped++
			continue
		}
		inBatch[m.ResourceID] = true

		stored, hasPrior := prior[m.ResourceID]

		switch {
		case !m.Matched && !hasPrior:
			// All defaults and nothing stored: uploading would only
			// burn rows on the platform's side.
			diff.Omitted++

		case !m.Matched && hasPrior:
			diff.Deletes = append(diff.Deletes, UploadRow{
				ResourceID:   m.ResourceID,
				AccountID:    m.AccountID,
				PayerAccount: m.PayerAccount,
				Op:           OpDelete,
			})

		case !hasPrior:
			diff.Inserts = append(diff.Inserts, uploadRowFor(m, OpInsert))

		case mapsEqual(m.Values, stored):
			diff.Omitted++

		default:
			diff.Updates = append(diff.Updates, uploadRowFor(m, OpUpdate))
		}
	}

	return diff
}

// MarkProcessed records the batch's resources as handled so later
// batches and the end-of-run deletion scan skip them.
func (d *Differ) MarkProcessed(mappings []engine.ResolvedMapping) {
	for _, m := range mappings {
		if usableResourceID(m.ResourceID) {
			d.seen[m.ResourceID] = true
		}
	}
}

// Deletions returns delete rows for resources that held virtual tags
// before this run but were never seen during it, meaning they left the
// export window.
func (d *Differ) Deletions(tagged []stores.TaggedResource) []UploadRow {
	var rows []UploadRow
	for _, tr := range tagged {
		if d.seen[tr.ResourceID] {
			continue
		}
		rows = append(rows, UploadRow{
			ResourceID:   tr.ResourceID,
			AccountID:    tr.AccountID,
			PayerAccount: tr.PayerAccount,
			Op:           OpDelete,
		})
	}
	return rows
}

func uploadRowFor(m engine.ResolvedMapping, op Operation) UploadRow {
	return UploadRow{
		ResourceID:   m.ResourceID,
		AccountID:    m.AccountID,
		PayerAccount: m.PayerAccount,
		Values:       m.Values,
		Provenance:   m.Provenance,
		Op:           op,
	}
}

// usableResourceID applies the platform's row hygiene rules.
func usableResourceID(id string) bool {
	if id == "" || id == "Not Available" {
		return false
	}
	return len(id) <= maxResourceIDLength
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
