package sync

import (
	"bytes"
	"context"
	"encoding/csv"
	"sort"

	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/telemetry"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

// Uploader groups upload rows by payer account, ships them to the
// platform as CSV chunks and records the applied state. A failed chunk
// does not abort the others; its error is carried in the result.
type Uploader struct {
	platform  Platform
	store     Store
	chunkSize int
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewUploader creates an uploader. chunkSize bounds rows per upload
// call.
func NewUploader(platform Platform, store Store, chunkSize int, logger zerolog.Logger, metrics *telemetry.Metrics) *Uploader {
	if chunkSize < 1 {
		chunkSize = 500
	}
	return &Uploader{
		platform:  platform,
		store:     store,
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "uploader").Logger(),
		metrics:   metrics,
	}
}

// BuildAccountIndex maps payer account and linked account IDs to the
// account key uploads must target.
func BuildAccountIndex(accounts []umbrella.Account) map[string]string {
	index := make(map[string]string, len(accounts))
	for _, acct := range accounts {
		if acct.AccountID != "" {
			index[umbrella.PadAccountID(acct.AccountID)] = acct.AccountKey
		}
	}
	return index
}

// Upload ships all rows and returns one result per chunk.
// dimensionNames is the active dimension set, needed to expand delete
// rows into per-dimension CSV lines.
func (u *Uploader) Upload(ctx context.Context, syncID string, accountIndex map[string]string, dimensionNames []string, rows []UploadRow) []UploadResult {
	if len(rows) == 0 {
		return nil
	}

	byPayer := make(map[string][]UploadRow)
	var payers []string
	for _, row := range rows {
		payer := umbrella.PadAccountID(row.PayerAccount)
		if payer == "" {
			payer = umbrella.PadAccountID(row.AccountID)
		}
		if _, seen := byPayer[payer]; !seen {
			payers = append(payers, payer)
		}
		byPayer[payer] = append(byPayer[payer], row)
	}
	sort.Strings(payers)

	var results []UploadResult
	for _, payer := range payers {
		accountKey := accountIndex[payer]
		if accountKey == "" {
			accountKey = payer
		}

		group := byPayer[payer]
		for start := 0; start < len(group); start += u.chunkSize {
			end := start + u.chunkSize
			if end > len(group) {
				end = len(group)
			}
			results = append(results, u.uploadChunk(ctx, syncID, accountKey, payer, dimensionNames, group[start:end]))
		}
	}
	return results
}

func (u *Uploader) uploadChunk(ctx context.Context, syncID, accountKey, payer string, dimensionNames []string, chunk []UploadRow) UploadResult {
	result := UploadResult{
		AccountKey:   accountKey,
		PayerAccount: payer,
		Rows:         len(chunk),
	}
	for _, row := range chunk {
		switch row.Op {
		case OpInsert:
			result.Inserted++
		case OpUpdate:
			result.Updated++
		case OpDelete:
			result.Deleted++
		}
	}

	body, err := buildCSV(chunk, dimensionNames)
	if err != nil {
		result.Err = err
		u.recordFailure(ctx, syncID, result, err)
		return result
	}

	importID, err := u.platform.UploadVirtualTags(ctx, accountKey, body)
	if err != nil {
		result.Err = err
		u.recordFailure(ctx, syncID, result, err)
		return result
	}
	result.ImportID = importID

	if err := u.applyState(ctx, syncID, chunk); err != nil {
		result.Err = err
		u.recordFailure(ctx, syncID, result, err)
		return result
	}

	if u.metrics != nil {
		u.metrics.RecordUpload(string(OpInsert), result.Inserted)
		u.metrics.RecordUpload(string(OpUpdate), result.Updated)
		u.metrics.RecordUpload(string(OpDelete), result.Deleted)
	}
	u.logger.Info().
		Str("sync_id", syncID).
		Str("account_key", accountKey).
		Str("import_id", importID).
		Int("rows", result.Rows).
		Msg("uploaded virtual tag chunk")

	_ = u.store.AppendUploadRecord(ctx, &stores.UploadRecord{
		SyncID:       syncID,
		AccountKey:   accountKey,
		PayerAccount: payer,
		ImportID:     importID,
		Rows:         result.Rows,
		Inserted:     result.Inserted,
		Updated:      result.Updated,
		Deleted:      result.Deleted,
		Status:       "completed",
	})

	return result
}

// applyState mirrors a successfully uploaded chunk into the store.
func (u *Uploader) applyState(ctx context.Context, syncID string, chunk []UploadRow) error {
	var upserts []stores.VTagRow
	var deletions []string

	for _, row := range chunk {
		if row.Op == OpDelete {
			deletions = append(deletions, row.ResourceID)
			continue
		}
		for name, value := range row.Values {
			upserts = append(upserts, stores.VTagRow{
				ResourceID:   row.ResourceID,
				AccountID:    row.AccountID,
				PayerAccount: row.PayerAccount,
				Name:         name,
				Value:        value,
				Provenance:   row.Provenance[name],
			})
		}
	}

	if err := u.store.ApplyVTags(ctx, syncID, upserts); err != nil {
		return err
	}
	if len(deletions) > 0 {
		if _, err := u.store.DeleteResourceVTags(ctx, deletions); err != nil {
			return err
		}
	}
	return nil
}

func (u *Uploader) recordFailure(ctx context.Context, syncID string, result UploadResult, err error) {
	if u.metrics != nil {
		u.metrics.RecordUploadError()
	}
	u.logger.Error().
		Err(err).
		Str("sync_id", syncID).
		Str("account_key", result.AccountKey).
		Int("rows", result.Rows).
		Msg("upload chunk failed")

	_ = u.store.AppendUploadRecord(ctx, &stores.UploadRecord{
		SyncID:       syncID,
		AccountKey:   result.AccountKey,
		PayerAccount: result.PayerAccount,
		Rows:         result.Rows,
		Status:       "failed",
		Error:        err.Error(),
	})
}

// buildCSV renders upload rows in the platform's import format: one
// line per resource and dimension, with an operation column. Delete
// rows expand to a line per active dimension with an empty value.
func buildCSV(rows []UploadRow, dimensionNames []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"resourceId", "operation", "vtagName", "vtagValue"}); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Op == OpDelete {
			for _, name := range dimensionNames {
				if err := w.Write([]string{row.ResourceID, string(OpDelete), name, ""}); err != nil {
					return nil, err
				}
			}
			continue
		}

		names := make([]string, 0, len(row.Values))
		for name := range row.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := w.Write([]string{row.ResourceID, string(row.Op), name, row.Values[name]}); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
