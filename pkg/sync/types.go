package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

// Status is the lifecycle state of the sync orchestrator.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is a resting state a new sync
// can start from.
func (s Status) Terminal() bool {
	switch s {
	case StatusIdle, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Phase is the pipeline stage a running sync is in.
type Phase string

const (
	PhaseAuthenticating Phase = "authenticating"
	PhaseFetching       Phase = "fetching"
	PhaseResolving      Phase = "resolving"
	PhaseUploading      Phase = "uploading"
	PhaseCleanup        Phase = "cleanup"
)

// FilterMode selects which resources a sync considers.
type FilterMode string

const (
	// FilterAll syncs every resource in scope.
	FilterAll FilterMode = "all"

	// FilterNotVTagged syncs only resources with no virtual tags yet.
	FilterNotVTagged FilterMode = "not_vtagged"
)

// Scope bounds a sync run.
type Scope struct {
	// StartDate and EndDate bound the export window, YYYY-MM-DD.
	// Ignored when Month is set.
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	// Month is a YYYY-MM shorthand that expands to the whole month.
	Month string `json:"month,omitempty"`

	// AccountKeys limits the run to specific accounts. Empty means all
	// accounts visible to the platform login.
	AccountKeys []string `json:"account_keys,omitempty"`

	// FilterMode defaults to FilterAll.
	FilterMode FilterMode `json:"filter_mode,omitempty"`
}

// Normalize expands the month shorthand, applies defaults and
// validates the scope.
func (s *Scope) Normalize(now time.Time) error {
	if s.FilterMode == "" {
		s.FilterMode = FilterAll
	}
	if s.FilterMode != FilterAll && s.FilterMode != FilterNotVTagged {
		return fmt.Errorf("invalid filter mode %q", s.FilterMode)
	}

	if s.Month != "" {
		start, err := time.Parse("2006-01", s.Month)
		if err != nil {
			return fmt.Errorf("invalid month %q: expected YYYY-MM", s.Month)
		}
		end := start.AddDate(0, 1, -1)
		s.StartDate = start.Format("2006-01-02")
		s.EndDate = end.Format("2006-01-02")
	}

	if s.StartDate == "" && s.EndDate == "" {
		// Default to the current Monday-to-Sunday week.
		weekday := (int(now.Weekday()) + 6) % 7
		start := now.AddDate(0, 0, -weekday)
		s.StartDate = start.Format("2006-01-02")
		s.EndDate = start.AddDate(0, 0, 6).Format("2006-01-02")
	}

	start, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", s.StartDate)
	}
	end, err := time.Parse("2006-01-02", s.EndDate)
	if err != nil {
		return fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", s.EndDate)
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s precedes start date %s", s.EndDate, s.StartDate)
	}

	return nil
}

// Counters accumulate pipeline progress.
type Counters struct {
	Batches   int `json:"batches"`
	Processed int `json:"processed"`
	Matched   int `json:"matched"`
	Uploaded  int `json:"uploaded"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

// Job is an immutable snapshot of the orchestrator state. Copies are
// safe to hand to subscribers.
type Job struct {
	ID          string     `json:"id,omitempty"`
	Status      Status     `json:"status"`
	Phase       Phase      `json:"phase,omitempty"`
	Scope       Scope      `json:"scope"`
	Counters    Counters   `json:"counters"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Operation classifies an upload row.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// UploadRow is one resource's virtual tag change destined for the
// platform.
type UploadRow struct {
	ResourceID   string
	AccountID    string
	PayerAccount string

	// Values maps dimension name to value. Nil for deletes.
	Values map[string]string

	// Provenance mirrors Values for bookkeeping.
	Provenance map[string]string

	Op Operation
}

// UploadResult is the outcome of one upload chunk.
type UploadResult struct {
	AccountKey   string
	PayerAccount string
	ImportID     string
	Rows         int
	Inserted     int
	Updated      int
	Deleted      int
	Err          error
}

// Platform is the cost platform surface the pipeline needs.
type Platform interface {
	Authenticate(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]umbrella.Account, error)
	FetchResources(ctx context.Context, q umbrella.ResourceQuery) (umbrella.ResourcePage, error)
	UploadVirtualTags(ctx context.Context, accountKey string, csvBody []byte) (string, error)
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	ApplyVTags(ctx context.Context, syncID string, rows []stores.VTagRow) error
	GetVTagsForResources(ctx context.Context, resourceIDs []string) (map[string]map[string]string, error)
	DeleteResourceVTags(ctx context.Context, resourceIDs []string) (int64, error)
	ListTaggedResources(ctx context.Context, accountIDs []string) ([]stores.TaggedResource, error)

	CreateSyncRecord(ctx context.Context, rec *stores.SyncRecord) error
	UpdateSyncRecord(ctx context.Context, rec *stores.SyncRecord) error
	AppendUploadRecord(ctx context.Context, rec *stores.UploadRecord) error

	ObserveTags(ctx context.Context, tags map[string]string) error
	UpsertDailyStats(ctx context.Context, day string, delta stores.DailyStats) error
	Prune(ctx context.Context, olderThan time.Time) (stores.PruneResult, error)
}

// DimensionSource supplies the dimension definitions for a run.
type DimensionSource interface {
	LoadAll() ([]engine.Dimension, error)
}
