package stores

import "time"

// VTagRow is one applied virtual tag assignment.
type VTagRow struct {
	ResourceID   string `json:"resource_id"`
	AccountID    string `json:"account_id"`
	PayerAccount string `json:"payer_account"`
	Name         string `json:"name"`
	Value        string `json:"value"`
	Provenance   string `json:"provenance"`
}

// TaggedResource is a resource with its stored virtual tags.
type TaggedResource struct {
	ResourceID   string            `json:"resource_id"`
	AccountID    string            `json:"account_id"`
	PayerAccount string            `json:"payer_account"`
	VTags        map[string]string `json:"vtags"`
}

// SyncRecord is the persisted history entry for one sync run.
type SyncRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	FilterMode  string     `json:"filter_mode"`
	StartDate   string     `json:"start_date"`
	EndDate     string     `json:"end_date"`
	AccountKeys []string   `json:"account_keys"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	Processed int `json:"processed"`
	Matched   int `json:"matched"`
	Uploaded  int `json:"uploaded"`
	Deleted   int `json:"deleted"`
}

// UploadRecord is the persisted outcome of one upload chunk.
type UploadRecord struct {
	ID           int64     `json:"id"`
	SyncID       string    `json:"sync_id"`
	AccountKey   string    `json:"account_key"`
	PayerAccount string    `json:"payer_account"`
	ImportID     string    `json:"import_id"`
	Rows         int       `json:"rows"`
	Inserted     int       `json:"inserted"`
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DiscoveredTag tracks a physical tag key seen during fetches.
type DiscoveredTag struct {
	Key         string    `json:"key"`
	Occurrences int64     `json:"occurrences"`
	Samples     []string  `json:"samples"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// DailyStats aggregates sync activity per calendar day.
type DailyStats struct {
	Day                string    `json:"day"`
	Syncs              int64     `json:"syncs"`
	ResourcesProcessed int64     `json:"resources_processed"`
	ResourcesMatched   int64     `json:"resources_matched"`
	RowsUploaded       int64     `json:"rows_uploaded"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PruneResult counts rows removed by a cleanup pass.
type PruneResult struct {
	SyncRecords   int64 `json:"sync_records"`
	UploadRecords int64 `json:"upload_records"`
}

// MaxTagSamples bounds how many sample values are kept per discovered
// tag key.
const MaxTagSamples = 10

// UploadHistoryLimit bounds how many upload records are retained.
const UploadHistoryLimit = 30
