// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database/query"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
)

// duckdbSchema is applied statement by statement on open.
var duckdbSchema = []string{
	`CREATE TABLE IF NOT EXISTS sync_attempts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		pos_type TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		records_processed INTEGER NOT NULL DEFAULT 0,
		records_success INTEGER NOT NULL DEFAULT 0,
		records_failed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		error_code TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		backoff_seconds INTEGER NOT NULL DEFAULT 0,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_attempts_tenant ON sync_attempts(tenant_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_attempts_status ON sync_attempts(status)`,
	`CREATE TABLE IF NOT EXISTS tenant_sync_status (
		tenant_id TEXT PRIMARY KEY,
		pos_type TEXT NOT NULL,
		is_paused BOOLEAN NOT NULL DEFAULT false,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_success_at TIMESTAMPTZ,
		last_failure_at TIMESTAMPTZ,
		last_sync_at TIMESTAMPTZ,
		pause_reason TEXT,
		paused_at TIMESTAMPTZ,
		next_allowed_sync_at TIMESTAMPTZ,
		total_syncs BIGINT NOT NULL DEFAULT 0,
		total_failures BIGINT NOT NULL DEFAULT 0,
		last_error_code TEXT,
		last_error_kind TEXT,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_main BOOLEAN NOT NULL DEFAULT false,
		sort_key INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locations_group ON locations(group_id)`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		default_location_id TEXT
	)`,
}

const attemptColumns = `id, tenant_id, pos_type, operation, status, started_at, completed_at,
	duration_ms, records_processed, records_success, records_failed, error_message, error_code,
	retry_count, next_retry_at, backoff_seconds, metadata`

const statusColumns = `tenant_id, pos_type, is_paused, consecutive_failures, last_success_at,
	last_failure_at, last_sync_at, pause_reason, paused_at, next_allowed_sync_at, total_syncs,
	total_failures, last_error_code, last_error_kind, version`

// dueRetriesQuery selects the newest attempt of every (tenant, operation)
// chain when it is a completed retry whose time has come.
const dueRetriesQuery = `SELECT ` + attemptColumns + ` FROM sync_attempts a
	WHERE a.status = 'retry' AND a.completed_at IS NOT NULL AND a.next_retry_at <= ?
	AND NOT EXISTS (
		SELECT 1 FROM sync_attempts b
		WHERE b.tenant_id = a.tenant_id AND b.operation = a.operation AND b.started_at > a.started_at
	)
	ORDER BY a.next_retry_at
	LIMIT ?`

// DuckDBStore is the embedded Store backed by DuckDB.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore opens (creating if needed) the DuckDB file at cfg.Path and
// applies the schema.
func NewDuckDBStore(ctx context.Context, cfg *config.DatabaseConfig) (*DuckDBStore, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := NewDuckDBStoreFromDB(db)
	if err := s.CreateTables(ctx); err != nil {
		closeQuietly(db)
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("DuckDB sync store opened")
	return s, nil
}

// NewDuckDBStoreFromDB wraps an already open DuckDB handle. The caller must
// call CreateTables unless the schema already exists.
func NewDuckDBStoreFromDB(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTables applies the schema.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	for _, stmt := range duckdbSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// InsertAttempt implements SyncStore.
func (s *DuckDBStore) InsertAttempt(ctx context.Context, a *models.SyncAttempt) error {
	metadata, err := marshalMetadata(a.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO sync_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.POSType, string(a.Operation), string(a.Status), a.StartedAt.UTC(),
		nullTime(a.CompletedAt), a.DurationMs, a.RecordsProcessed, a.RecordsSuccess, a.RecordsFailed,
		nullString(a.ErrorMessage), nullString(a.ErrorCode), a.RetryCount, nullTime(a.NextRetryAt),
		a.BackoffSeconds, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert sync attempt: %w", err)
	}
	return nil
}

// GetAttempt implements SyncStore.
func (s *DuckDBStore) GetAttempt(ctx context.Context, id string) (*models.SyncAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM sync_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync attempt: %w", err)
	}
	return a, nil
}

// CompleteAttempt implements SyncStore.
func (s *DuckDBStore) CompleteAttempt(ctx context.Context, id string, c models.AttemptCompletion) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_attempts SET
			status = ?, completed_at = ?, duration_ms = ?, records_processed = ?, records_success = ?,
			records_failed = ?, error_message = ?, error_code = ?, next_retry_at = ?, backoff_seconds = ?
		WHERE id = ? AND completed_at IS NULL`,
		string(c.Status), c.CompletedAt.UTC(), c.DurationMs, c.Counts.RecordsProcessed,
		c.Counts.RecordsSuccess, c.Counts.RecordsFailed, nullString(c.ErrorMessage),
		nullString(c.ErrorCode), nullTime(c.NextRetryAt), c.BackoffSeconds, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync attempt: %w", err)
	}
	return s.completionOutcome(ctx, res, id)
}

// completionOutcome distinguishes "already completed" from "unknown id"
// when an UPDATE touched no rows.
func (s *DuckDBStore) completionOutcome(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetAttempt(ctx, id); err != nil {
		return err
	}
	return ErrAttemptCompleted
}

// ListAttempts implements SyncStore.
func (s *DuckDBStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]models.SyncAttempt, error) {
	wb := query.NewWhereBuilder().AddClause("tenant_id = ?", f.TenantID)
	if f.Status != nil {
		wb.AddStatus(string(*f.Status))
	}
	where, args := wb.BuildWithPrefix()
	args = append(args, f.NormalizedLimit())

	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM sync_attempts `+where+
		` ORDER BY started_at DESC LIMIT ?`, args...)
}

// LatestCompletedAttempt implements SyncStore.
func (s *DuckDBStore) LatestCompletedAttempt(ctx context.Context, tenantID string, op models.Operation) (*models.SyncAttempt, error) {
	rows, err := s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM sync_attempts
		WHERE tenant_id = ? AND operation = ? AND completed_at IS NOT NULL
		ORDER BY started_at DESC LIMIT 1`, tenantID, string(op))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListInFlight implements SyncStore.
func (s *DuckDBStore) ListInFlight(ctx context.Context, tenantID string, startedBefore time.Time) ([]models.SyncAttempt, error) {
	where, args := query.NewWhereBuilder().
		AddClause("completed_at IS NULL").
		AddTenant(tenantID).
		AddStartedBefore(startedBefore.UTC()).
		BuildWithPrefix()

	return s.queryAttempts(ctx, `SELECT `+attemptColumns+` FROM sync_attempts `+where+` ORDER BY started_at`, args...)
}

// ListDueRetries implements SyncStore.
func (s *DuckDBStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SyncAttempt, error) {
	if limit <= 0 {
		limit = MaxAttemptLimit
	}
	return s.queryAttempts(ctx, dueRetriesQuery, now.UTC(), limit)
}

func (s *DuckDBStore) queryAttempts(ctx context.Context, q string, args ...interface{}) ([]models.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync attempts: %w", err)
	}
	defer closeWithLog(rows, "sync attempt rows")

	out := make([]models.SyncAttempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync attempt: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync attempts: %w", err)
	}
	return out, nil
}

// GetStatus implements SyncStore.
func (s *DuckDBStore) GetStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM tenant_sync_status WHERE tenant_id = ?`, tenantID)
	st, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant sync status: %w", err)
	}
	return st, nil
}

// SaveStatus implements SyncStore with a conditional write on version.
func (s *DuckDBStore) SaveStatus(ctx context.Context, st *models.TenantSyncStatus, expectedVersion int64) error {
	next := expectedVersion + 1
	args := []interface{}{
		st.POSType, st.IsPaused, st.ConsecutiveFailures, nullTime(st.LastSuccessAt),
		nullTime(st.LastFailureAt), nullTime(st.LastSyncAt), nullString(st.PauseReason),
		nullTime(st.PausedAt), nullTime(st.NextAllowedSyncAt), st.TotalSyncs, st.TotalFailures,
		nullString(st.LastErrorCode), nullString(st.LastErrorKind), next,
	}

	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `INSERT INTO tenant_sync_status (`+statusColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id) DO NOTHING`, append([]interface{}{st.TenantID}, args...)...)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE tenant_sync_status SET
				pos_type = ?, is_paused = ?, consecutive_failures = ?, last_success_at = ?,
				last_failure_at = ?, last_sync_at = ?, pause_reason = ?, paused_at = ?,
				next_allowed_sync_at = ?, total_syncs = ?, total_failures = ?, last_error_code = ?,
				last_error_kind = ?, version = ?
			WHERE tenant_id = ? AND version = ?`, append(args, st.TenantID, expectedVersion)...)
	}
	if err != nil {
		if isDuckDBConflict(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to save tenant sync status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	st.Version = next
	return nil
}

// isDuckDBConflict matches DuckDB's optimistic transaction conflict error,
// raised when two connections update the same row concurrently.
func isDuckDBConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Conflict on") || strings.Contains(msg, "write-write conflict")
}

// Ping implements SyncStore.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database.
func (s *DuckDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	return s.db.Close()
}

// GetUserProfile implements Directory.
func (s *DuckDBStore) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		p   models.UserProfile
		def sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, group_id, default_location_id FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.GroupID, &def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}
	p.DefaultLocationID = def.String
	return &p, nil
}

// GetGroup implements Directory.
func (s *DuckDBStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var g models.Group
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM tenant_groups WHERE id = ?`, groupID).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return &g, nil
}

// ListLocations implements Directory.
func (s *DuckDBStore) ListLocations(ctx context.Context, groupID string) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_id, name, is_main, sort_key
		FROM locations WHERE group_id = ? ORDER BY sort_key, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer closeWithLog(rows, "location rows")

	out := make([]models.Location, 0)
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.ID, &l.GroupID, &l.Name, &l.IsMain, &l.SortKey); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetDefaultLocation implements Directory.
func (s *DuckDBStore) SetDefaultLocation(ctx context.Context, userID, locationID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE user_profiles SET default_location_id = ? WHERE user_id = ?`,
		nullString(locationID), userID)
	if err != nil {
		return fmt.Errorf("failed to set default location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertGroup implements DirectoryWriter.
func (s *DuckDBStore) UpsertGroup(ctx context.Context, g models.Group) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tenant_groups (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, g.ID, g.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert group: %w", err)
	}
	return nil
}

// UpsertLocation implements DirectoryWriter.
func (s *DuckDBStore) UpsertLocation(ctx context.Context, l models.Location) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO locations (id, group_id, name, is_main, sort_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET group_id = excluded.group_id, name = excluded.name,
			is_main = excluded.is_main, sort_key = excluded.sort_key`,
		l.ID, l.GroupID, l.Name, l.IsMain, l.SortKey)
	if err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}
	return nil
}

// UpsertUserProfile implements DirectoryWriter.
func (s *DuckDBStore) UpsertUserProfile(ctx context.Context, p models.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_profiles (user_id, group_id, default_location_id)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET group_id = excluded.group_id,
			default_location_id = excluded.default_location_id`,
		p.UserID, p.GroupID, nullString(p.DefaultLocationID))
	if err != nil {
		return fmt.Errorf("failed to upsert user profile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(r rowScanner) (*models.SyncAttempt, error) {
	var (
		a                      models.SyncAttempt
		op, status             string
		completedAt, nextRetry sql.NullTime
		errMsg, errCode, rawMD sql.NullString
	)
	if err := r.Scan(&a.ID, &a.TenantID, &a.POSType, &op, &status, &a.StartedAt, &completedAt,
		&a.DurationMs, &a.RecordsProcessed, &a.RecordsSuccess, &a.RecordsFailed, &errMsg, &errCode,
		&a.RetryCount, &nextRetry, &a.BackoffSeconds, &rawMD); err != nil {
		return nil, err
	}

	a.Operation = models.Operation(op)
	a.Status = models.AttemptStatus(status)
	a.StartedAt = a.StartedAt.UTC()
	a.CompletedAt = timePtr(completedAt)
	a.NextRetryAt = timePtr(nextRetry)
	a.ErrorMessage = errMsg.String
	a.ErrorCode = errCode.String

	if rawMD.Valid && rawMD.String != "" {
		if err := json.Unmarshal([]byte(rawMD.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode attempt metadata: %w", err)
		}
	}
	return &a, nil
}

func scanStatus(r rowScanner) (*models.TenantSyncStatus, error) {
	var (
		st                                         models.TenantSyncStatus
		lastSuccess, lastFailure, lastSync, paused sql.NullTime
		nextAllowed                                sql.NullTime
		reason, code, kind                         sql.NullString
	)
	if err := r.Scan(&st.TenantID, &st.POSType, &st.IsPaused, &st.ConsecutiveFailures, &lastSuccess,
		&lastFailure, &lastSync, &reason, &paused, &nextAllowed, &st.TotalSyncs, &st.TotalFailures,
		&code, &kind, &st.Version); err != nil {
		return nil, err
	}

	st.LastSuccessAt = timePtr(lastSuccess)
	st.LastFailureAt = timePtr(lastFailure)
	st.LastSyncAt = timePtr(lastSync)
	st.PausedAt = timePtr(paused)
	st.NextAllowedSyncAt = timePtr(nextAllowed)
	st.PauseReason = reason.String
	st.LastErrorCode = code.String
	st.LastErrorKind = kind.String
	return &st, nil
}

func marshalMetadata(md map[string]string) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode attempt metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*DuckDBStore)(nil)
