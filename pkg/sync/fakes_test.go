package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

// fakePlatform serves canned pages per account key and records every
// upload body it receives.
type fakePlatform struct {
	mu sync.Mutex

	authErr   error
	accounts  []umbrella.Account
	pages     map[string][][]engine.Resource
	fetchErr  error
	uploadErr error

	// onFetch, when set, runs after each successful page fetch.
	onFetch func(accountKey string, page int)

	authCalls  int
	fetchCalls int
	uploads    []fakeUpload
}

type fakeUpload struct {
	AccountKey string
	Body       string
}

func (p *fakePlatform) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authCalls++
	return p.authErr
}

func (p *fakePlatform) ListAccounts(ctx context.Context) ([]umbrella.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts, nil
}

func (p *fakePlatform) FetchResources(ctx context.Context, q umbrella.ResourceQuery) (umbrella.ResourcePage, error) {
	p.mu.Lock()
	p.fetchCalls++
	hook := p.onFetch
	if p.fetchErr != nil {
		err := p.fetchErr
		p.mu.Unlock()
		return umbrella.ResourcePage{}, err
	}
	pages := p.pages[q.AccountKey]
	p.mu.Unlock()

	page := umbrella.ResourcePage{Page: q.Page}
	if q.Page <= len(pages) {
		page.Resources = pages[q.Page-1]
		page.HasMore = q.Page < len(pages)
	}
	if hook != nil {
		hook(q.AccountKey, q.Page)
	}
	return page, nil
}

func (p *fakePlatform) UploadVirtualTags(ctx context.Context, accountKey string, csvBody []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	p.uploads = append(p.uploads, fakeUpload{AccountKey: accountKey, Body: string(csvBody)})
	return fmt.Sprintf("import-%d", len(p.uploads)), nil
}

func (p *fakePlatform) uploadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uploads)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu sync.Mutex

	vtags         map[string]map[string]string
	meta          map[string]stores.VTagRow
	syncRecords   map[string]*stores.SyncRecord
	uploadRecords []*stores.UploadRecord
	observed      map[string]string
	stats         map[string]stores.DailyStats
	pruneCalls    int

	applyErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vtags:       make(map[string]map[string]string),
		meta:        make(map[string]stores.VTagRow),
		syncRecords: make(map[string]*stores.SyncRecord),
		observed:    make(map[string]string),
		stats:       make(map[string]stores.DailyStats),
	}
}

func (s *fakeStore) ApplyVTags(ctx context.Context, syncID string, rows []stores.VTagRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	for _, row := range rows {
		if s.vtags[row.ResourceID] == nil {
			s.vtags[row.ResourceID] = make(map[string]string)
		}
		s.vtags[row.ResourceID][row.Name] = row.Value
		s.meta[row.ResourceID] = row
	}
	return nil
}

func (s *fakeStore) GetVTagsForResources(ctx context.Context, resourceIDs []string) (map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]string)
	for _, id := range resourceIDs {
		if tags, ok := s.vtags[id]; ok {
			copied := make(map[string]string, len(tags))
			for k, v := range tags {
				copied[k] = v
			}
			out[id] = copied
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteResourceVTags(ctx context.Context, resourceIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range resourceIDs {
		if _, ok := s.vtags[id]; ok {
			delete(s.vtags, id)
			delete(s.meta, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListTaggedResources(ctx context.Context, accountIDs []string) ([]stores.TaggedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stores.TaggedResource
	for id, tags := range s.vtags {
		meta := s.meta[id]
		out = append(out, stores.TaggedResource{
			ResourceID:   id,
			AccountID:    meta.AccountID,
			PayerAccount: meta.PayerAccount,
			VTags:        tags,
		})
	}
	return out, nil
}

func (s *fakeStore) CreateSyncRecord(ctx context.Context, rec *stores.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.syncRecords[rec.ID] = &copied
	return nil
}

func (s *fakeStore) UpdateSyncRecord(ctx context.Context, rec *stores.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.syncRecords[rec.ID]; !ok {
		return stores.ErrNotFound
	}
	copied := *rec
	s.syncRecords[rec.ID] = &copied
	return nil
}

func (s *fakeStore) AppendUploadRecord(ctx context.Context, rec *stores.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.uploadRecords = append(s.uploadRecords, &copied)
	return nil
}

func (s *fakeStore) ObserveTags(ctx context.Context, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tags {
		s.observed[k] = v
	}
	return nil
}

func (s *fakeStore) UpsertDailyStats(ctx context.Context, day string, delta stores.DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.stats[day]
	cur.Syncs += delta.Syncs
	cur.ResourcesProcessed += delta.ResourcesProcessed
	cur.ResourcesMatched += delta.ResourcesMatched
	cur.RowsUploaded += delta.RowsUploaded
	s.stats[day] = cur
	return nil
}

func (s *fakeStore) Prune(ctx context.Context, olderThan time.Time) (stores.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCalls++
	return stores.PruneResult{}, nil
}

func (s *fakeStore) syncRecord(id string) *stores.SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.syncRecords[id]; ok {
		copied := *rec
		return &copied
	}
	return nil
}

func (s *fakeStore) vtagValues(resourceID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.vtags[resourceID]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	return copied
}

// fakeSource serves a fixed dimension set.
type fakeSource struct {
	dims []engine.Dimension
	err  error
}

func (f *fakeSource) LoadAll() ([]engine.Dimension, error) {
	return f.dims, f.err
}
