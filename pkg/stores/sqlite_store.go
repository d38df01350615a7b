package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists sync state using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs schema migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// ----------------------------------------------------------------------
// Resource virtual tags
// ----------------------------------------------------------------------

// ApplyVTags upserts virtual tag rows in a single transaction.
func (s *SQLiteStore) ApplyVTags(ctx context.Context, syncID string, rows []VTagRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resource_vtags (resource_id, account_id, payer_account, vtag_name, vtag_value, provenance, sync_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id, vtag_name) DO UPDATE SET
			account_id = excluded.account_id,
			payer_account = excluded.payer_account,
			vtag_value = excluded.vtag_value,
			provenance = excluded.provenance,
			sync_id = excluded.sync_id,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.ResourceID, row.AccountID, row.PayerAccount,
			row.Name, row.Value, row.Provenance, syncID, now,
		); err != nil {
			return fmt.Errorf("failed to upsert vtag for %s: %w", row.ResourceID, err)
		}
	}

	return tx.Commit()
}

// GetResourceVTags returns the stored virtual tags for one resource.
func (s *SQLiteStore) GetResourceVTags(ctx context.Context, resourceID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vtag_name, vtag_value FROM resource_vtags WHERE resource_id = ?`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vtags: %w", err)
	}
	defer rows.Close()

	vtags := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan vtag: %w", err)
		}
		vtags[name] = value
	}
	return vtags, rows.Err()
}

// GetVTagsForResources returns stored virtual tags for a set of
// resources, keyed by resource ID. Resources with no stored tags have
// no entry.
func (s *SQLiteStore) GetVTagsForResources(ctx context.Context, resourceIDs []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	if len(resourceIDs) == 0 {
		return out, nil
	}

	// Chunk the IN clause to stay under SQLite's parameter limit.
	const chunkSize = 500
	for start := 0; start < len(resourceIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(resourceIDs) {
			end = len(resourceIDs)
		}
		chunk := resourceIDs[start:end]

		query := `SELECT resource_id, vtag_name, vtag_value FROM resource_vtags WHERE resource_id IN (?` +
			repeatParam(len(chunk)-1) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query vtags: %w", err)
		}
		for rows.Next() {
			var id, name, value string
			if err := rows.Scan(&id, &name, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan vtag: %w", err)
			}
			if out[id] == nil {
				out[id] = make(map[string]string)
			}
			out[id][name] = value
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	return out, nil
}

// DeleteResourceVTags removes all stored virtual tags for the given
// resources and returns the number of rows removed.
func (s *SQLiteStore) DeleteResourceVTags(ctx context.Context, resourceIDs []string) (int64, error) {
	if len(resourceIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM resource_vtags WHERE resource_id IN (?` + repeatParam(len(resourceIDs)-1) + `)`
	args := make([]any, len(resourceIDs))
	for i, id := range resourceIDs {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete vtags: %w", err)
	}
	return result.RowsAffected()
}

// ListTaggedResources returns resources holding stored virtual tags in
// the given accounts. Empty accountIDs means all accounts.
func (s *SQLiteStore) ListTaggedResources(ctx context.Context, accountIDs []string) ([]TaggedResource, error) {
	query := `SELECT resource_id, account_id, payer_account, vtag_name, vtag_value FROM resource_vtags`
	var args []any
	if len(accountIDs) > 0 {
		query += ` WHERE account_id IN (?` + repeatParam(len(accountIDs)-1) + `)`
		for _, id := range accountIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY resource_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tagged resources: %w", err)
	}
	defer rows.Close()

	var out []TaggedResource
	var current *TaggedResource
	for rows.Next() {
		var id, account, payer, name, value string
		if err := rows.Scan(&id, &account, &payer, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan tagged resource: %w", err)
		}
		if current == nil || current.ResourceID != id {
			out = append(out, TaggedResource{
				ResourceID:   id,
				AccountID:    account,
				PayerAccount: payer,
				VTags:        make(map[string]string),
			})
			current = &out[len(out)-1]
		}
		current.VTags[name] = value
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------
// Sync records
// ----------------------------------------------------------------------

// CreateSyncRecord inserts a new sync history entry.
func (s *SQLiteStore) CreateSyncRecord(ctx context.Context, rec *SyncRecord) error {
	keys, err := json.Marshal(rec.AccountKeys)
	if err != nil {
		return fmt.Errorf("failed to encode account keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_records (id, status, phase, filter_mode, start_date, end_date, account_keys, started_at, completed_at, error, processed, matched, uploaded, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Status, rec.Phase, rec.FilterMode, rec.StartDate, rec.EndDate,
		string(keys), rec.StartedAt, rec.CompletedAt, rec.Error,
		rec.Processed, rec.Matched, rec.Uploaded, rec.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync record: %w", err)
	}
	return nil
}

// UpdateSyncRecord updates a sync history entry in place.
func (s *SQLiteStore) UpdateSyncRecord(ctx context.Context, rec *SyncRecord) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_records
		SET status = ?, phase = ?, completed_at = ?, error = ?, processed = ?, matched = ?, uploaded = ?, deleted = ?
		WHERE id = ?
	`,
		rec.Status, rec.Phase, rec.CompletedAt, rec.Error,
		rec.Processed, rec.Matched, rec.Uploaded, rec.Deleted,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("sync record %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// GetSyncRecord retrieves a sync record by ID.
func (s *SQLiteStore) GetSyncRecord(ctx context.Context, id string) (*SyncRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, phase, filter_mode, start_date, end_date, account_keys, started_at, completed_at, error, processed, matched, uploaded, deleted
		FROM sync_records WHERE id = ?
	`, id)
	return scanSyncRecord(row)
}

// GetLastSync returns the most recently started sync record, or
// ErrNotFound if none exist.
func (s *SQLiteStore) GetLastSync(ctx context.Context) (*SyncRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, phase, filter_mode, start_date, end_date, account_keys, started_at, completed_at, error, processed, matched, uploaded, deleted
		FROM sync_records ORDER BY started_at DESC LIMIT 1
	`)
	return scanSyncRecord(row)
}

// ListSyncRecords returns sync history, newest first.
func (s *SQLiteStore) ListSyncRecords(ctx context.Context, limit int) ([]*SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, phase, filter_mode, start_date, end_date, account_keys, started_at, completed_at, error, processed, matched, uploaded, deleted
		FROM sync_records ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}
	defer rows.Close()

	var out []*SyncRecord
	for rows.Next() {
		rec, err := scanSyncRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRecord(row rowScanner) (*SyncRecord, error) {
	rec := &SyncRecord{}
	var keys string
	err := row.Scan(
		&rec.ID, &rec.Status, &rec.Phase, &rec.FilterMode,
		&rec.StartDate, &rec.EndDate, &keys,
		&rec.StartedAt, &rec.CompletedAt, &rec.Error,
		&rec.Processed, &rec.Matched, &rec.Uploaded, &rec.Deleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync record: %w", err)
	}
	if err := json.Unmarshal([]byte(keys), &rec.AccountKeys); err != nil {
		return nil, fmt.Errorf("failed to decode account keys: %w", err)
	}
	return rec, nil
}

// ----------------------------------------------------------------------
// Upload records
// ----------------------------------------------------------------------

// AppendUploadRecord inserts an upload history entry and prunes the
// history to UploadHistoryLimit entries.
func (s *SQLiteStore) AppendUploadRecord(ctx context.Context, rec *UploadRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_records (sync_id, account_key, payer_account, import_id, rows, inserted, updated, deleted, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SyncID, rec.AccountKey, rec.PayerAccount, rec.ImportID,
		rec.Rows, rec.Inserted, rec.Updated, rec.Deleted,
		rec.Status, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append upload record: %w", err)
	}
	rec.ID, _ = result.LastInsertId()

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM upload_records WHERE id NOT IN (
			SELECT id FROM upload_records ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, UploadHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to prune upload history: %w", err)
	}
	return nil
}

// ListUploadRecords returns upload history, newest first.
func (s *SQLiteStore) ListUploadRecords(ctx context.Context, limit int) ([]*UploadRecord, error) {
	if limit <= 0 || limit > UploadHistoryLimit {
		limit = UploadHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_id, account_key, payer_account, import_id, rows, inserted, updated, deleted, status, error, created_at
		FROM upload_records ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload records: %w", err)
	}
	defer rows.Close()

	var out []*UploadRecord
	for rows.Next() {
		rec := &UploadRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.SyncID, &rec.AccountKey, &rec.PayerAccount, &rec.ImportID,
			&rec.Rows, &rec.Inserted, &rec.Updated, &rec.Deleted,
			&rec.Status, &rec.Error, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------
// Discovered tags
// ----------------------------------------------------------------------

// ObserveTags merges one resource's physical tags into the discovered
// tag catalog, keeping up to MaxTagSamples distinct sample values.
func (s *SQLiteStore) ObserveTags(ctx context.Context, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for key, value := range tags {
		var samples string
		err := tx.QueryRowContext(ctx,
			`SELECT samples FROM discovered_tags WHERE tag_key = ?`, key).Scan(&samples)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			encoded, _ := json.Marshal([]string{value})
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO discovered_tags (tag_key, occurrences, samples, first_seen, last_seen)
				VALUES (?, 1, ?, ?, ?)
			`, key, string(encoded), now, now); err != nil {
				return fmt.Errorf("failed to insert discovered tag: %w", err)
			}

		case err != nil:
			return fmt.Errorf("failed to query discovered tag: %w", err)

		default:
			var values []string
			if err := json.Unmarshal([]byte(samples), &values); err != nil {
				values = nil
			}
			if len(values) < MaxTagSamples && !contains(values, value) {
				values = append(values, value)
			}
			encoded, _ := json.Marshal(values)
			if _, err := tx.ExecContext(ctx, `
				UPDATE discovered_tags SET occurrences = occurrences + 1, samples = ?, last_seen = ?
				WHERE tag_key = ?
			`, string(encoded), now, key); err != nil {
				return fmt.Errorf("failed to update discovered tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// ListDiscoveredTags returns the tag catalog ordered by occurrence
// count, most common first.
func (s *SQLiteStore) ListDiscoveredTags(ctx context.Context) ([]DiscoveredTag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_key, occurrences, samples, first_seen, last_seen
		FROM discovered_tags ORDER BY occurrences DESC, tag_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered tags: %w", err)
	}
	defer rows.Close()

	var out []DiscoveredTag
	for rows.Next() {
		var tag DiscoveredTag
		var samples string
		if err := rows.Scan(&tag.Key, &tag.Occurrences, &samples, &tag.FirstSeen, &tag.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan discovered tag: %w", err)
		}
		if err := json.Unmarshal([]byte(samples), &tag.Samples); err != nil {
			tag.Samples = nil
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// ----------------------------------------------------------------------
// Daily stats
// ----------------------------------------------------------------------

// UpsertDailyStats adds deltas to the aggregate row for a day.
func (s *SQLiteStore) UpsertDailyStats(ctx context.Context, day string, delta DailyStats) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (day, syncs, resources_processed, resources_matched, rows_uploaded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET
			syncs = syncs + excluded.syncs,
			resources_processed = resources_processed + excluded.resources_processed,
			resources_matched = resources_matched + excluded.resources_matched,
			rows_uploaded = rows_uploaded + excluded.rows_uploaded,
			updated_at = excluded.updated_at
	`,
		day, delta.Syncs, delta.ResourcesProcessed, delta.ResourcesMatched,
		delta.RowsUploaded, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily stats: %w", err)
	}
	return nil
}

// GetDailyStats returns the aggregate row for a day, or ErrNotFound.
func (s *SQLiteStore) GetDailyStats(ctx context.Context, day string) (*DailyStats, error) {
	stats := &DailyStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT day, syncs, resources_processed, resources_matched, rows_uploaded, updated_at
		FROM daily_stats WHERE day = ?
	`, day).Scan(
		&stats.Day, &stats.Syncs, &stats.ResourcesProcessed,
		&stats.ResourcesMatched, &stats.RowsUploaded, &stats.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}

// ----------------------------------------------------------------------
// Retention
// ----------------------------------------------------------------------

// Prune removes sync and upload history completed before the cutoff.
// Running and pending records are never pruned.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (PruneResult, error) {
	var result PruneResult

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_records WHERE completed_at IS NOT NULL AND completed_at < ?
	`, olderThan)
	if err != nil {
		return result, fmt.Errorf("failed to prune sync records: %w", err)
	}
	result.SyncRecords, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM upload_records WHERE created_at < ?`, olderThan)
	if err != nil {
		return result, fmt.Errorf("failed to prune upload records: %w", err)
	}
	result.UploadRecords, _ = res.RowsAffected()

	return result, nil
}

// repeatParam returns n copies of ",?" for IN clause construction.
func repeatParam(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		out = append(out, ",?"...)
	}
	return string(out)
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
