package umbrella

import (
	"strings"

	"github.com/vtagger/vtagger/pkg/engine"
)

// Account is a cloud account known to the platform.
type Account struct {
	AccountKey  string `json:"accountKey"`
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	Provider    string `json:"provider"`
}

// ResourceQuery describes one page of a resource export.
type ResourceQuery struct {
	// AccountKey selects the account to export.
	AccountKey string

	// StartDate and EndDate bound the export window, YYYY-MM-DD.
	StartDate string
	EndDate   string

	// Page is 1-based.
	Page     int
	PageSize int

	// TagKeys are the physical tag keys to request as dynamic columns.
	TagKeys []string

	// FilterDimensions, when set, asks the platform to return only
	// resources missing a value for these virtual tag dimensions.
	FilterDimensions []string
}

// ResourcePage is one page of exported resources.
type ResourcePage struct {
	Resources []engine.Resource
	Page      int

	// HasMore is false on the final page.
	HasMore bool
}

// ImportStatus is the state of a virtual tag import job.
type ImportStatus struct {
	ImportID string `json:"importId"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Rows     int    `json:"rows,omitempty"`
}

// Terminal reports whether the import reached a final state.
func (s ImportStatus) Terminal() bool {
	switch strings.ToLower(s.Status) {
	case "completed", "complete", "success", "failed", "error":
		return true
	}
	return false
}

// Succeeded reports whether a terminal import finished cleanly.
func (s ImportStatus) Succeeded() bool {
	switch strings.ToLower(s.Status) {
	case "completed", "complete", "success":
		return true
	}
	return false
}

// PadAccountID normalizes an AWS account ID to its canonical 12-digit
// form. Export rows sometimes drop leading zeros; padding restores
// them so account lookups match. Non-numeric IDs pass through.
func PadAccountID(id string) string {
	if id == "" || len(id) >= 12 {
		return id
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	return strings.Repeat("0", 12-len(id)) + id
}
