// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/database/query"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
)

// attemptRow is the GORM mapping of sync_attempts.
type attemptRow struct {
	ID               string    `gorm:"primaryKey"`
	TenantID         string    `gorm:"index:idx_sync_attempts_tenant,priority:1;not null"`
	POSType          string    `gorm:"column:pos_type;not null"`
	Operation        string    `gorm:"not null"`
	Status           string    `gorm:"index;not null"`
	StartedAt        time.Time `gorm:"index:idx_sync_attempts_tenant,priority:2;not null"`
	CompletedAt      *time.Time
	DurationMs       int64
	RecordsProcessed int
	RecordsSuccess   int
	RecordsFailed    int
	ErrorMessage     string
	ErrorCode        string
	RetryCount       int
	NextRetryAt      *time.Time
	BackoffSeconds   int
	Metadata         string
}

func (attemptRow) TableName() string { return "sync_attempts" }

// statusRow is the GORM mapping of tenant_sync_status.
type statusRow struct {
	TenantID            string `gorm:"primaryKey"`
	POSType             string `gorm:"column:pos_type;not null"`
	IsPaused            bool
	ConsecutiveFailures int
	LastSuccessAt       *time.Time
	LastFailureAt       *time.Time
	LastSyncAt          *time.Time
	PauseReason         string
	PausedAt            *time.Time
	NextAllowedSyncAt   *time.Time
	TotalSyncs          int64
	TotalFailures       int64
	LastErrorCode       string
	LastErrorKind       string
	Version             int64 `gorm:"not null"`
}

func (statusRow) TableName() string { return "tenant_sync_status" }

type groupRow struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

func (groupRow) TableName() string { return "tenant_groups" }

type locationRow struct {
	ID      string `gorm:"primaryKey"`
	GroupID string `gorm:"index;not null"`
	Name    string `gorm:"not null"`
	IsMain  bool
	SortKey int
}

func (locationRow) TableName() string { return "locations" }

type profileRow struct {
	UserID            string `gorm:"primaryKey"`
	GroupID           string `gorm:"not null"`
	DefaultLocationID string
}

func (profileRow) TableName() string { return "user_profiles" }

// PostgresStore is the shared-deployment Store backed by GORM and Postgres.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects using cfg.DSN, applies pool settings and
// migrates the schema.
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresStore, error) {
	pgConfig := postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		closeQuietly(sqlDB)
		return nil, err
	}

	logging.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Postgres sync store connected")
	return s, nil
}

// Migrate creates or updates the tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&attemptRow{}, &statusRow{}, &groupRow{}, &locationRow{}, &profileRow{},
	); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent", "":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// InsertAttempt implements SyncStore.
func (s *PostgresStore) InsertAttempt(ctx context.Context, a *models.SyncAttempt) error {
	row, err := toAttemptRow(a)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert sync attempt: %w", err)
	}
	return nil
}

// GetAttempt implements SyncStore.
func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*models.SyncAttempt, error) {
	var row attemptRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync attempt: %w", err)
	}
	return row.toModel()
}

// CompleteAttempt implements SyncStore.
func (s *PostgresStore) CompleteAttempt(ctx context.Context, id string, c models.AttemptCompletion) error {
	res := s.db.WithContext(ctx).Model(&attemptRow{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"status":            string(c.Status),
			"completed_at":      c.CompletedAt.UTC(),
			"duration_ms":       c.DurationMs,
			"records_processed": c.Counts.RecordsProcessed,
			"records_success":   c.Counts.RecordsSuccess,
			"records_failed":    c.Counts.RecordsFailed,
			"error_message":     c.ErrorMessage,
			"error_code":        c.ErrorCode,
			"next_retry_at":     c.NextRetryAt,
			"backoff_seconds":   c.BackoffSeconds,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete sync attempt: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetAttempt(ctx, id); err != nil {
		return err
	}
	return ErrAttemptCompleted
}

// ListAttempts implements SyncStore.
func (s *PostgresStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]models.SyncAttempt, error) {
	wb := query.NewWhereBuilder().AddClause("tenant_id = ?", f.TenantID)
	if f.Status != nil {
		wb.AddStatus(string(*f.Status))
	}
	where, args := wb.Build()

	var rows []attemptRow
	err := s.db.WithContext(ctx).Where(where, args...).
		Order("started_at DESC").Limit(f.NormalizedLimit()).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query sync attempts: %w", err)
	}
	return attemptRowsToModels(rows)
}

// LatestCompletedAttempt implements SyncStore.
func (s *PostgresStore) LatestCompletedAttempt(ctx context.Context, tenantID string, op models.Operation) (*models.SyncAttempt, error) {
	var rows []attemptRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND operation = ? AND completed_at IS NOT NULL", tenantID, string(op)).
		Order("started_at DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest attempt: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// ListInFlight implements SyncStore.
func (s *PostgresStore) ListInFlight(ctx context.Context, tenantID string, startedBefore time.Time) ([]models.SyncAttempt, error) {
	where, args := query.NewWhereBuilder().
		AddClause("completed_at IS NULL").
		AddTenant(tenantID).
		AddStartedBefore(startedBefore.UTC()).
		Build()

	var rows []attemptRow
	if err := s.db.WithContext(ctx).Where(where, args...).Order("started_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query in-flight attempts: %w", err)
	}
	return attemptRowsToModels(rows)
}

// ListDueRetries implements SyncStore.
func (s *PostgresStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]models.SyncAttempt, error) {
	if limit <= 0 {
		limit = MaxAttemptLimit
	}
	var rows []attemptRow
	if err := s.db.WithContext(ctx).Raw(dueRetriesQuery, now.UTC(), limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query due retries: %w", err)
	}
	return attemptRowsToModels(rows)
}

// GetStatus implements SyncStore.
func (s *PostgresStore) GetStatus(ctx context.Context, tenantID string) (*models.TenantSyncStatus, error) {
	var row statusRow
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant sync status: %w", err)
	}
	st := row.toModel()
	return &st, nil
}

// SaveStatus implements SyncStore with a conditional write on version.
func (s *PostgresStore) SaveStatus(ctx context.Context, st *models.TenantSyncStatus, expectedVersion int64) error {
	row := toStatusRow(st)
	row.Version = expectedVersion + 1

	var res *gorm.DB
	if expectedVersion == 0 {
		res = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	} else {
		res = s.db.WithContext(ctx).Model(&statusRow{}).
			Where("tenant_id = ? AND version = ?", st.TenantID, expectedVersion).
			Select("*").Updates(&row)
	}
	if res.Error != nil {
		return fmt.Errorf("failed to save tenant sync status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	st.Version = row.Version
	return nil
}

// Ping implements SyncStore.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements SyncStore.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetUserProfile implements Directory.
func (s *PostgresStore) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}
	return &models.UserProfile{UserID: row.UserID, GroupID: row.GroupID, DefaultLocationID: row.DefaultLocationID}, nil
}

// GetGroup implements Directory.
func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var row groupRow
	err := s.db.WithContext(ctx).Where("id = ?", groupID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return &models.Group{ID: row.ID, Name: row.Name}, nil
}

// ListLocations implements Directory.
func (s *PostgresStore) ListLocations(ctx context.Context, groupID string) ([]models.Location, error) {
	var rows []locationRow
	err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("sort_key, id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	out := make([]models.Location, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Location{ID: r.ID, GroupID: r.GroupID, Name: r.Name, IsMain: r.IsMain, SortKey: r.SortKey})
	}
	return out, nil
}

// SetDefaultLocation implements Directory.
func (s *PostgresStore) SetDefaultLocation(ctx context.Context, userID, locationID string) error {
	res := s.db.WithContext(ctx).Model(&profileRow{}).Where("user_id = ?", userID).
		Update("default_location_id", locationID)
	if res.Error != nil {
		return fmt.Errorf("failed to set default location: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertGroup implements DirectoryWriter.
func (s *PostgresStore) UpsertGroup(ctx context.Context, g models.Group) error {
	row := groupRow{ID: g.ID, Name: g.Name}
	return s.upsert(ctx, &row, "group")
}

// UpsertLocation implements DirectoryWriter.
func (s *PostgresStore) UpsertLocation(ctx context.Context, l models.Location) error {
	row := locationRow{ID: l.ID, GroupID: l.GroupID, Name: l.Name, IsMain: l.IsMain, SortKey: l.SortKey}
	return s.upsert(ctx, &row, "location")
}

// UpsertUserProfile implements DirectoryWriter.
func (s *PostgresStore) UpsertUserProfile(ctx context.Context, p models.UserProfile) error {
	row := profileRow{UserID: p.UserID, GroupID: p.GroupID, DefaultLocationID: p.DefaultLocationID}
	return s.upsert(ctx, &row, "user profile")
}

func (s *PostgresStore) upsert(ctx context.Context, row interface{}, kind string) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to upsert %s: %w", kind, err)
	}
	return nil
}

func toAttemptRow(a *models.SyncAttempt) (attemptRow, error) {
	md, err := marshalMetadata(a.Metadata)
	if err != nil {
		return attemptRow{}, err
	}
	return attemptRow{
		ID:               a.ID,
		TenantID:         a.TenantID,
		POSType:          a.POSType,
		Operation:        string(a.Operation),
		Status:           string(a.Status),
		StartedAt:        a.StartedAt.UTC(),
		CompletedAt:      a.CompletedAt,
		DurationMs:       a.DurationMs,
		RecordsProcessed: a.RecordsProcessed,
		RecordsSuccess:   a.RecordsSuccess,
		RecordsFailed:    a.RecordsFailed,
		ErrorMessage:     a.ErrorMessage,
		ErrorCode:        a.ErrorCode,
		RetryCount:       a.RetryCount,
		NextRetryAt:      a.NextRetryAt,
		BackoffSeconds:   a.BackoffSeconds,
		Metadata:         md.String,
	}, nil
}

func (r attemptRow) toModel() (*models.SyncAttempt, error) {
	a := &models.SyncAttempt{
		ID:               r.ID,
		TenantID:         r.TenantID,
		POSType:          r.POSType,
		Operation:        models.Operation(r.Operation),
		Status:           models.AttemptStatus(r.Status),
		StartedAt:        r.StartedAt.UTC(),
		CompletedAt:      utcPtr(r.CompletedAt),
		DurationMs:       r.DurationMs,
		RecordsProcessed: r.RecordsProcessed,
		RecordsSuccess:   r.RecordsSuccess,
		RecordsFailed:    r.RecordsFailed,
		ErrorMessage:     r.ErrorMessage,
		ErrorCode:        r.ErrorCode,
		RetryCount:       r.RetryCount,
		NextRetryAt:      utcPtr(r.NextRetryAt),
		BackoffSeconds:   r.BackoffSeconds,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode attempt metadata: %w", err)
		}
	}
	return a, nil
}

func attemptRowsToModels(rows []attemptRow) ([]models.SyncAttempt, error) {
	out := make([]models.SyncAttempt, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

func toStatusRow(s *models.TenantSyncStatus) statusRow {
	return statusRow{
		TenantID:            s.TenantID,
		POSType:             s.POSType,
		IsPaused:            s.IsPaused,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastSuccessAt:       s.LastSuccessAt,
		LastFailureAt:       s.LastFailureAt,
		LastSyncAt:          s.LastSyncAt,
		PauseReason:         s.PauseReason,
		PausedAt:            s.PausedAt,
		NextAllowedSyncAt:   s.NextAllowedSyncAt,
		TotalSyncs:          s.TotalSyncs,
		TotalFailures:       s.TotalFailures,
		LastErrorCode:       s.LastErrorCode,
		LastErrorKind:       s.LastErrorKind,
		Version:             s.Version,
	}
}

func (r statusRow) toModel() models.TenantSyncStatus {
	return models.TenantSyncStatus{
		TenantID:            r.TenantID,
		POSType:             r.POSType,
		IsPaused:            r.IsPaused,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastSuccessAt:       utcPtr(r.LastSuccessAt),
		LastFailureAt:       utcPtr(r.LastFailureAt),
		LastSyncAt:          utcPtr(r.LastSyncAt),
		PauseReason:         r.PauseReason,
		PausedAt:            utcPtr(r.PausedAt),
		NextAllowedSyncAt:   utcPtr(r.NextAllowedSyncAt),
		TotalSyncs:          r.TotalSyncs,
		TotalFailures:       r.TotalFailures,
		LastErrorCode:       r.LastErrorCode,
		LastErrorKind:       r.LastErrorKind,
		Version:             r.Version,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ Store = (*PostgresStore)(nil)
