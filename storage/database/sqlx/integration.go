package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/integration"
)

type integrationRepository struct {
	db *sqlx.DB
}

var _ integration.Repository = (*integrationRepository)(nil)

func NewIntegrationRepository(db *sqlx.DB) *integrationRepository {
	return &integrationRepository{db: db}
}

// dbPlatformConfig mirrors the platform_config table.
type dbPlatformConfig struct {
	ID               string                  `db:"id"`
	OrgID            string                  `db:"org_id"`
	Platform         string                  `db:"platform"`
	IsEnabled        bool                    `db:"is_enabled"`
	Credentials      integration.Credentials `db:"credentials"`
	SyncIntervalMins int                     `db:"sync_interval_mins"`
	LastSyncedAt     sql.NullTime            `db:"last_synced_at"`
	SyncStatus       string                  `db:"sync_status"`
	LastError        sql.NullString          `db:"last_error"`
	CreatedAt        time.Time               `db:"created_at"`
	UpdatedAt        time.Time               `db:"updated_at"`
}

func (dc dbPlatformConfig) unload() integration.PlatformConfig {
	cfg := integration.PlatformConfig{
		ID:               dc.ID,
		OrgID:            dc.OrgID,
		Platform:         integration.Platform(dc.Platform),
		IsEnabled:        dc.IsEnabled,
		Credentials:      dc.Credentials,
		SyncIntervalMins: dc.SyncIntervalMins,
		SyncStatus:       integration.SyncStatus(dc.SyncStatus),
		CreatedAt:        dc.CreatedAt,
		UpdatedAt:        dc.UpdatedAt,
	}
	cfg.LastSyncedAt = null.NewTime(dc.LastSyncedAt.Time, dc.LastSyncedAt.Valid)
	cfg.LastError = null.NewString(dc.LastError.String, dc.LastError.Valid)
	return cfg
}

func trapNoRowsErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return integration.ErrNotFound
	}
	return err
}

func (repo *integrationRepository) GetConfig(ctx context.Context, orgID string, platform integration.Platform) (integration.PlatformConfig, error) {
	var dc dbPlatformConfig
	const q = `SELECT * FROM platform_config WHERE org_id = $1 AND platform = $2`
	if err := repo.db.GetContext(ctx, &dc, q, orgID, platform); err != nil {
		return integration.PlatformConfig{}, trapNoRowsErr(err)
	}
	return dc.unload(), nil
}

func (repo *integrationRepository) QueryConfigs(ctx context.Context, orgID string) ([]integration.PlatformConfig, error) {
	var dcs []dbPlatformConfig
	const q = `SELECT * FROM platform_config WHERE org_id = $1 ORDER BY platform`
	if err := repo.db.SelectContext(ctx, &dcs, q, orgID); err != nil {
		return nil, errors.Wrap(err, "querying platform configs")
	}

	cfgs := make([]integration.PlatformConfig, len(dcs))
	for i, dc := range dcs {
		cfgs[i] = dc.unload()
	}
	return cfgs, nil
}

func (repo *integrationRepository) UpsertConfig(ctx context.Context, cfg integration.PlatformConfig) (integration.PlatformConfig, error) {
	const q = `
INSERT INTO platform_config (id, org_id, platform, is_enabled, credentials, sync_interval_mins, sync_status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (org_id, platform) DO UPDATE
SET is_enabled         = EXCLUDED.is_enabled,
    credentials        = EXCLUDED.credentials,
    sync_interval_mins = EXCLUDED.sync_interval_mins,
    updated_at         = EXCLUDED.updated_at
RETURNING id, created_at, last_synced_at, sync_status, last_error`
	row := repo.db.QueryRowContext(ctx, q,
		uuid.New().String(), cfg.OrgID, cfg.Platform, cfg.IsEnabled, cfg.Credentials,
		cfg.SyncIntervalMins, cfg.SyncStatus, cfg.CreatedAt, cfg.UpdatedAt,
	)

	var lastSynced sql.NullTime
	var lastErr sql.NullString
	if err := row.Scan(&cfg.ID, &cfg.CreatedAt, &lastSynced, &cfg.SyncStatus, &lastErr); err != nil {
		return integration.PlatformConfig{}, errors.Wrap(err, "upserting platform config")
	}
	cfg.LastSyncedAt.Time, cfg.LastSyncedAt.Valid = lastSynced.Time, lastSynced.Valid
	cfg.LastError.String, cfg.LastError.Valid = lastErr.String, lastErr.Valid
	return cfg, nil
}

func (repo *integrationRepository) BeginSync(ctx context.Context, orgID string, platform integration.Platform) error {
	const q = `
UPDATE platform_config
SET sync_status = $3, updated_at = $4
WHERE org_id = $1 AND platform = $2 AND sync_status <> $3`
	res, err := repo.db.ExecContext(ctx, q, orgID, platform, integration.StatusSyncing, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "marking sync started")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "marking sync started")
	}
	if n == 0 {
		return integration.ErrSyncInProgress
	}
	return nil
}

func (repo *integrationRepository) FinishSync(ctx context.Context, orgID string, platform integration.Platform, syncErr string) error {
	now := time.Now().UTC()
	if syncErr == "" {
		const q = `
UPDATE platform_config
SET sync_status = $3, last_synced_at = $4, last_error = NULL, updated_at = $4
WHERE org_id = $1 AND platform = $2`
		_, err := repo.db.ExecContext(ctx, q, orgID, platform, integration.StatusIdle, now)
		return errors.Wrap(err, "marking sync finished")
	}

	const q = `
UPDATE platform_config
SET sync_status = $3, last_error = $4, updated_at = $5
WHERE org_id = $1 AND platform = $2`
	_, err := repo.db.ExecContext(ctx, q, orgID, platform, integration.StatusError, syncErr, now)
	return errors.Wrap(err, "marking sync failed")
}

func (repo *integrationRepository) UpsertEnrollment(ctx context.Context, enr integration.ExternalEnrollment) (integration.ExternalEnrollment, error) {
	const q = `
INSERT INTO external_enrollment (id, org_id, user_id, platform, course_id, course_title, enrolled_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (org_id, user_id, platform, course_id) DO UPDATE
SET course_title = EXCLUDED.course_title,
    enrolled_at  = COALESCE(EXCLUDED.enrolled_at, external_enrollment.enrolled_at),
    updated_at   = EXCLUDED.updated_at
RETURNING id, created_at`
	row := repo.db.QueryRowContext(ctx, q,
		uuid.New().String(), enr.OrgID, enr.UserID, enr.Platform, enr.CourseID,
		enr.CourseTitle, enr.EnrolledAt, enr.CreatedAt, enr.UpdatedAt,
	)
	if err := row.Scan(&enr.ID, &enr.CreatedAt); err != nil {
		return integration.ExternalEnrollment{}, errors.Wrap(err, "upserting enrollment")
	}
	return enr, nil
}

func (repo *integrationRepository) UpsertProgress(ctx context.Context, prg integration.ExternalProgress) (integration.ExternalProgress, error) {
	const q = `
INSERT INTO external_progress (id, enrollment_id, percentage, status, completed_at, minutes_spent, last_activity_at, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (enrollment_id) DO UPDATE
SET percentage       = EXCLUDED.percentage,
    status           = EXCLUDED.status,
    completed_at     = EXCLUDED.completed_at,
    minutes_spent    = EXCLUDED.minutes_spent,
    last_activity_at = EXCLUDED.last_activity_at,
    synced_at        = EXCLUDED.synced_at
RETURNING id`
	row := repo.db.QueryRowContext(ctx, q,
		uuid.New().String(), prg.EnrollmentID, prg.Percentage, prg.Status,
		prg.CompletedAt, prg.MinutesSpent, prg.LastActivityAt, prg.SyncedAt,
	)
	if err := row.Scan(&prg.ID); err != nil {
		return integration.ExternalProgress{}, errors.Wrap(err, "upserting progress")
	}
	return prg, nil
}

func (repo *integrationRepository) QueryProgress(ctx context.Context, filter integration.ProgressFilter) ([]integration.UnifiedProgress, error) {
	var sb strings.Builder
	sb.WriteString(`
SELECT enr.user_id          AS user_id,
       usr.name             AS user_name,
       COALESCE(usr.email, '') AS email,
       enr.platform         AS platform,
       enr.course_id        AS course_id,
       enr.course_title     AS course_title,
       prg.percentage       AS percentage,
       prg.status           AS status,
       prg.completed_at     AS completed_at,
       prg.minutes_spent    AS minutes_spent,
       prg.last_activity_at AS last_activity_at,
       prg.synced_at        AS synced_at
FROM external_progress prg
JOIN external_enrollment enr ON enr.id = prg.enrollment_id
JOIN app_user usr ON usr.id = enr.user_id
WHERE enr.org_id = $1`)

	args := []interface{}{filter.OrgID}
	addCond := func(cond string, arg interface{}) {
		args = append(args, arg)
		sb.WriteString(fmt.Sprintf(" AND "+cond, len(args)))
	}
	if filter.Platform != "" {
		addCond("enr.platform = $%d", filter.Platform)
	}
	if filter.UserID != "" {
		addCond("enr.user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		addCond("prg.status = $%d", filter.Status)
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		sb.WriteString(fmt.Sprintf(" AND (enr.course_title ILIKE $%d OR usr.email ILIKE $%d)", n, n))
	}

	sb.WriteString(fmt.Sprintf(" ORDER BY prg.synced_at DESC, enr.course_id LIMIT %d OFFSET %d", filter.Limit, filter.Offset))

	var rows []dbUnifiedProgress
	if err := repo.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}

	prgs := make([]integration.UnifiedProgress, len(rows))
	for i, row := range rows {
		prgs[i] = row.unload()
	}
	return prgs, nil
}

// dbUnifiedProgress mirrors the joined progress row.
type dbUnifiedProgress struct {
	UserID         string        `db:"user_id"`
	UserName       string        `db:"user_name"`
	Email          string        `db:"email"`
	Platform       string        `db:"platform"`
	CourseID       string        `db:"course_id"`
	CourseTitle    string        `db:"course_title"`
	Percentage     float64       `db:"percentage"`
	Status         string        `db:"status"`
	CompletedAt    sql.NullTime  `db:"completed_at"`
	MinutesSpent   sql.NullInt64 `db:"minutes_spent"`
	LastActivityAt sql.NullTime  `db:"last_activity_at"`
	SyncedAt       time.Time     `db:"synced_at"`
}

func (dp dbUnifiedProgress) unload() integration.UnifiedProgress {
	up := integration.UnifiedProgress{
		UserID:      dp.UserID,
		UserName:    dp.UserName,
		Email:       dp.Email,
		Platform:    integration.Platform(dp.Platform),
		CourseID:    dp.CourseID,
		CourseTitle: dp.CourseTitle,
		Percentage:  dp.Percentage,
		Status:      integration.ProgressStatus(dp.Status),
		SyncedAt:    dp.SyncedAt,
	}
	up.CompletedAt.Time, up.CompletedAt.Valid = dp.CompletedAt.Time, dp.CompletedAt.Valid
	up.MinutesSpent.Int, up.MinutesSpent.Valid = int(dp.MinutesSpent.Int64), dp.MinutesSpent.Valid
	up.LastActivityAt.Time, up.LastActivityAt.Valid = dp.LastActivityAt.Time, dp.LastActivityAt.Valid
	return up
}
