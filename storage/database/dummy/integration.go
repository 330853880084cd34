package dummydb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/core/user"
)

type integrationRepository struct {
	mu          sync.RWMutex
	usrRepo     user.Repository
	configs     map[string]integration.PlatformConfig     // "orgID:platform" -> config
	enrollments map[string]integration.ExternalEnrollment // "orgID:userID:platform:courseID" -> enrollment
	progress    map[string]integration.ExternalProgress   // enrollment id -> progress
}

var _ integration.Repository = (*integrationRepository)(nil)

func NewIntegrationRepository(usrRepo user.Repository) *integrationRepository {
	return &integrationRepository{
		usrRepo:     usrRepo,
		configs:     make(map[string]integration.PlatformConfig),
		enrollments: make(map[string]integration.ExternalEnrollment),
		progress:    make(map[string]integration.ExternalProgress),
	}
}

func configKey(orgID string, platform integration.Platform) string {
	return orgID + ":" + string(platform)
}

func enrollmentKey(enr integration.ExternalEnrollment) string {
	return strings.Join([]string{enr.OrgID, enr.UserID, string(enr.Platform), enr.CourseID}, ":")
}

func (repo *integrationRepository) GetConfig(_ context.Context, orgID string, platform integration.Platform) (integration.PlatformConfig, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	if cfg, ok := repo.configs[configKey(orgID, platform)]; ok {
		return cfg, nil
	}
	return integration.PlatformConfig{}, integration.ErrNotFound
}

func (repo *integrationRepository) QueryConfigs(_ context.Context, orgID string) ([]integration.PlatformConfig, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var cfgs []integration.PlatformConfig
	for _, cfg := range repo.configs {
		if cfg.OrgID == orgID {
			cfgs = append(cfgs, cfg)
		}
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].Platform < cfgs[j].Platform })
	return cfgs, nil
}

func (repo *integrationRepository) UpsertConfig(_ context.Context, cfg integration.PlatformConfig) (integration.PlatformConfig, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	key := configKey(cfg.OrgID, cfg.Platform)
	if existing, ok := repo.configs[key]; ok {
		existing.IsEnabled = cfg.IsEnabled
		existing.Credentials = cfg.Credentials
		existing.SyncIntervalMins = cfg.SyncIntervalMins
		existing.UpdatedAt = cfg.UpdatedAt
		repo.configs[key] = existing
		return existing, nil
	}

	cfg.ID = uuid.New().String()
	repo.configs[key] = cfg
	return cfg, nil
}

func (repo *integrationRepository) BeginSync(_ context.Context, orgID string, platform integration.Platform) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	key := configKey(orgID, platform)
	cfg, ok := repo.configs[key]
	if !ok {
		return integration.ErrNotFound
	}
	if cfg.SyncStatus == integration.StatusSyncing {
		return integration.ErrSyncInProgress
	}
	cfg.SyncStatus = integration.StatusSyncing
	cfg.UpdatedAt = time.Now().UTC()
	repo.configs[key] = cfg
	return nil
}

func (repo *integrationRepository) FinishSync(ctx context.Context, orgID string, platform integration.Platform, syncErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()

	key := configKey(orgID, platform)
	cfg, ok := repo.configs[key]
	if !ok {
		return integration.ErrNotFound
	}

	now := time.Now().UTC()
	if syncErr == "" {
		cfg.SyncStatus = integration.StatusIdle
		cfg.LastSyncedAt = null.TimeFrom(now)
		cfg.LastError = null.String{}
	} else {
		cfg.SyncStatus = integration.StatusError
		cfg.LastError = null.StringFrom(syncErr)
	}
	cfg.UpdatedAt = now
	repo.configs[key] = cfg
	return nil
}

func (repo *integrationRepository) UpsertEnrollment(_ context.Context, enr integration.ExternalEnrollment) (integration.ExternalEnrollment, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	key := enrollmentKey(enr)
	if existing, ok := repo.enrollments[key]; ok {
		existing.CourseTitle = enr.CourseTitle
		if enr.EnrolledAt.Valid {
			existing.EnrolledAt = enr.EnrolledAt
		}
		existing.UpdatedAt = enr.UpdatedAt
		repo.enrollments[key] = existing
		return existing, nil
	}

	enr.ID = uuid.New().String()
	repo.enrollments[key] = enr
	return enr, nil
}

func (repo *integrationRepository) UpsertProgress(_ context.Context, prg integration.ExternalProgress) (integration.ExternalProgress, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if existing, ok := repo.progress[prg.EnrollmentID]; ok {
		prg.ID = existing.ID
	} else {
		prg.ID = uuid.New().String()
	}
	repo.progress[prg.EnrollmentID] = prg
	return prg, nil
}

func (repo *integrationRepository) QueryProgress(ctx context.Context, filter integration.ProgressFilter) ([]integration.UnifiedProgress, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var prgs []integration.UnifiedProgress
	for _, enr := range repo.enrollments {
		if enr.OrgID != filter.OrgID {
			continue
		}
		if filter.Platform != "" && string(enr.Platform) != filter.Platform {
			continue
		}
		if filter.UserID != "" && enr.UserID != filter.UserID {
			continue
		}
		prg, ok := repo.progress[enr.ID]
		if !ok {
			continue
		}
		if filter.Status != "" && string(prg.Status) != filter.Status {
			continue
		}

		usr, err := repo.usrRepo.GetUserByID(ctx, enr.UserID)
		if err != nil {
			continue
		}
		if filter.Search != "" {
			search := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(enr.CourseTitle), search) &&
				!strings.Contains(strings.ToLower(usr.Email), search) {
				continue
			}
		}

		prgs = append(prgs, integration.UnifiedProgress{
			UserID:         enr.UserID,
			UserName:       usr.Name,
			Email:          usr.Email,
			Platform:       enr.Platform,
			CourseID:       enr.CourseID,
			CourseTitle:    enr.CourseTitle,
			Percentage:     prg.Percentage,
			Status:         prg.Status,
			CompletedAt:    prg.CompletedAt,
			MinutesSpent:   prg.MinutesSpent,
			LastActivityAt: prg.LastActivityAt,
			SyncedAt:       prg.SyncedAt,
		})
	}

	sort.Slice(prgs, func(i, j int) bool {
		if !prgs[i].SyncedAt.Equal(prgs[j].SyncedAt) {
			return prgs[i].SyncedAt.After(prgs[j].SyncedAt)
		}
		return prgs[i].CourseID < prgs[j].CourseID
	})

	if filter.Offset >= len(prgs) {
		return nil, nil
	}
	prgs = prgs[filter.Offset:]
	if filter.Limit > 0 && len(prgs) > filter.Limit {
		prgs = prgs[:filter.Limit]
	}
	return prgs, nil
}
