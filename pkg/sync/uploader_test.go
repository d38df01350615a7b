package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

func newTestUploader(platform *fakePlatform, store *fakeStore, chunkSize int) *Uploader {
	return NewUploader(platform, store, chunkSize, zerolog.Nop(), nil)
}

func insertRow(id, payer, value string) UploadRow {
	return UploadRow{
		ResourceID:   id,
		AccountID:    "123",
		PayerAccount: payer,
		Values:       map[string]string{"environment": value},
		Provenance:   map[string]string{"environment": "statement:0"},
		Op:           OpInsert,
	}
}

func TestUploadGroupsByPayerAccount(t *testing.T) {
	platform := &fakePlatform{}
	store := newFakeStore()
	u := newTestUploader(platform, store, 500)

	index := map[string]string{
		"000000000111": "acc-a",
		"000000000222": "acc-b",
	}
	rows := []UploadRow{
		insertRow("r-1", "111", "production"),
		insertRow("r-2", "222", "staging"),
		insertRow("r-3", "111", "production"),
	}

	results := u.Upload(context.Background(), "sync-1", index, []string{"environment"}, rows)
	if len(results) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(results))
	}
	if results[0].AccountKey != "acc-a" || results[0].Rows != 2 {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].AccountKey != "acc-b" || results[1].Rows != 1 {
		t.Errorf("unexpected second result %+v", results[1])
	}

	if got := store.vtagValues("r-1"); got["environment"] != "production" {
		t.Errorf("expected applied state for r-1, got %v", got)
	}
}

func TestUploadChunksLargeGroups(t *testing.T) {
	platform := &fakePlatform{}
	u := newTestUploader(platform, newFakeStore(), 2)

	rows := []UploadRow{
		insertRow("r-1", "111", "a"),
		insertRow("r-2", "111", "b"),
		insertRow("r-3", "111", "c"),
	}

	results := u.Upload(context.Background(), "sync-1", nil, []string{"environment"}, rows)
	if len(results) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(results))
	}
	if results[0].Rows != 2 || results[1].Rows != 1 {
		t.Errorf("unexpected chunk sizes %d and %d", results[0].Rows, results[1].Rows)
	}
}

func TestUploadCSVFormat(t *testing.T) {
	platform := &fakePlatform{}
	u := newTestUploader(platform, newFakeStore(), 500)

	rows := []UploadRow{
		{
			ResourceID:   "r-1",
			AccountID:    "123",
			PayerAccount: "111",
			Values:       map[string]string{"environment": "production", "cost_center": "eng"},
			Provenance:   map[string]string{"environment": "statement:0", "cost_center": "default"},
			Op:           OpUpdate,
		},
		{
			ResourceID:   "r-2",
			AccountID:    "123",
			PayerAccount: "111",
			Op:           OpDelete,
		},
	}

	u.Upload(context.Background(), "sync-1", nil, []string{"cost_center", "environment"}, rows)

	platform.mu.Lock()
	body := platform.uploads[0].Body
	platform.mu.Unlock()

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	want := []string{
		"resourceId,operation,vtagName,vtagValue",
		"r-1,update,cost_center,eng",
		"r-1,update,environment,production",
		"r-2,delete,cost_center,",
		"r-2,delete,environment,",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), body)
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestUploadFailureIsolation(t *testing.T) {
	platform := &fakePlatform{}
	store := newFakeStore()
	u := newTestUploader(platform, store, 500)

	// First chunk's payer fails, the other succeeds.
	calls := 0
	platform.uploadErr = nil
	failing := &failingPlatform{inner: platform, failOn: 1, calls: &calls}
	u.platform = failing

	rows := []UploadRow{
		insertRow("r-1", "111", "production"),
		insertRow("r-2", "222", "staging"),
	}

	results := u.Upload(context.Background(), "sync-1", nil, []string{"environment"}, rows)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected first chunk to fail")
	}
	if results[1].Err != nil {
		t.Errorf("expected second chunk to succeed, got %v", results[1].Err)
	}

	if got := store.vtagValues("r-1"); got != nil {
		t.Errorf("expected no state for failed chunk, got %v", got)
	}
	if got := store.vtagValues("r-2"); got["environment"] != "staging" {
		t.Errorf("expected applied state for r-2, got %v", got)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.uploadRecords) != 2 {
		t.Fatalf("expected 2 upload records, got %d", len(store.uploadRecords))
	}
	if store.uploadRecords[0].Status != "failed" || store.uploadRecords[1].Status != "completed" {
		t.Errorf("unexpected record statuses %s and %s",
			store.uploadRecords[0].Status, store.uploadRecords[1].Status)
	}
}

func TestBuildAccountIndex(t *testing.T) {
	index := BuildAccountIndex([]umbrella.Account{
		{AccountKey: "acc-a", AccountID: "111"},
		{AccountKey: "acc-b", AccountID: "000000000222"},
		{AccountKey: "acc-c"},
	})

	if index["000000000111"] != "acc-a" {
		t.Errorf("expected padded lookup for acc-a, got %v", index)
	}
	if index["000000000222"] != "acc-b" {
		t.Errorf("expected lookup for acc-b, got %v", index)
	}
	if len(index) != 2 {
		t.Errorf("expected keyless accounts to be skipped, got %v", index)
	}
}

// failingPlatform fails the nth upload call and delegates the rest.
type failingPlatform struct {
	inner  *fakePlatform
	failOn int
	calls  *int
}

func (f *failingPlatform) Authenticate(ctx context.Context) error {
	return f.inner.Authenticate(ctx)
}

func (f *failingPlatform) ListAccounts(ctx context.Context) ([]umbrella.Account, error) {
	return f.inner.ListAccounts(ctx)
}

func (f *failingPlatform) FetchResources(ctx context.Context, q umbrella.ResourceQuery) (umbrella.ResourcePage, error) {
	return f.inner.FetchResources(ctx, q)
}

func (f *failingPlatform) UploadVirtualTags(ctx context.Context, accountKey string, csvBody []byte) (string, error) {
	*f.calls++
	if *f.calls == f.failOn {
		return "", engine.NewTransientError("platform unavailable", nil)
	}
	return f.inner.UploadVirtualTags(ctx, accountKey, csvBody)
}
