package integration

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

type (
	Repository interface {
		GetConfig(ctx context.Context, orgID string, platform Platform) (PlatformConfig, error)
		QueryConfigs(ctx context.Context, orgID string) ([]PlatformConfig, error)
		// UpsertConfig inserts or updates the (org, platform) config. Only
		// enablement, credentials and cadence are written on conflict; sync
		// status fields are owned by sync runs.
		UpsertConfig(ctx context.Context, cfg PlatformConfig) (PlatformConfig, error)
		// BeginSync check-and-sets the config status to `syncing`; it returns
		// ErrSyncInProgress when a sync is already running.
		BeginSync(ctx context.Context, orgID string, platform Platform) error
		// FinishSync writes `idle` status and stamps last_synced_at when
		// syncErr is empty; otherwise it writes `error` status and last_error,
		// leaving last_synced_at untouched.
		FinishSync(ctx context.Context, orgID string, platform Platform, syncErr string) error
		// UpsertEnrollment is keyed by (org, user, platform, course).
		UpsertEnrollment(ctx context.Context, enr ExternalEnrollment) (ExternalEnrollment, error)
		// UpsertProgress is keyed by enrollment id.
		UpsertProgress(ctx context.Context, prg ExternalProgress) (ExternalProgress, error)
		QueryProgress(ctx context.Context, filter ProgressFilter) ([]UnifiedProgress, error)
	}

	Service struct {
		repo     Repository
		usrRepo  user.Repository
		registry AdapterRegistry
		tester   ConnectionTester
		mailSvc  core.EmailService
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	usrRepo user.Repository,
	registry AdapterRegistry,
	tester ConnectionTester,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		usrRepo:  usrRepo,
		registry: registry,
		tester:   tester,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

// finishSyncTimeout bounds the status write after a sync run.
const finishSyncTimeout = 10 * time.Second

// SaveConfig validates and upserts an organization's platform config.
func (svc *Service) SaveConfig(ctx context.Context, orgID string, npc NewPlatformConfig) (PlatformConfig, error) {
	if err := npc.Validate(); err != nil {
		return PlatformConfig{}, err
	}

	now := time.Now().UTC()
	cfg := PlatformConfig{
		OrgID:            orgID,
		Platform:         Platform(npc.Platform),
		IsEnabled:        npc.IsEnabled,
		Credentials:      npc.Credentials,
		SyncIntervalMins: npc.SyncIntervalMins,
		SyncStatus:       StatusIdle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return svc.repo.UpsertConfig(ctx, cfg)
}

func (svc *Service) QueryConfigs(ctx context.Context, orgID string) ([]PlatformConfig, error) {
	return svc.repo.QueryConfigs(ctx, orgID)
}

func (svc *Service) QueryProgress(ctx context.Context, filter ProgressFilter) ([]UnifiedProgress, error) {
	filter.Clean()
	return svc.repo.QueryProgress(ctx, filter)
}

// TestConnection probes the vendor with the given credentials without saving
// anything. Used for "test before save".
func (svc *Service) TestConnection(ctx context.Context, platform Platform, creds Credentials) (TestResult, error) {
	if _, err := svc.registry.GetAdapter(platform); err != nil {
		return TestResult{}, err
	}
	return svc.tester.TestConnection(ctx, platform, creds), nil
}

// Run drives a full sync for the organization's saved config: it serializes
// concurrent runs via the config's sync status, applies the configured
// deadline, records the outcome on the config and notifies org admins on
// failure.
func (svc *Service) Run(ctx context.Context, orgID string, platform Platform) (SyncResult, error) {
	cfg, err := svc.repo.GetConfig(ctx, orgID, platform)
	if err != nil {
		return SyncResult{}, err
	}
	if !cfg.IsEnabled {
		return SyncResult{}, ErrPlatformDisabled
	}
	if err = svc.repo.BeginSync(ctx, orgID, platform); err != nil {
		return SyncResult{}, err
	}

	runCtx := ctx
	if timeout := core.Conf.SyncTimeout; timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := svc.SyncPlatform(runCtx, orgID, platform, cfg.Credentials)

	// the run context may be the very thing that failed the sync (deadline hit,
	// caller gone); recording the outcome must still go through or the config
	// stays locked in `syncing`
	finCtx, cancel := context.WithTimeout(context.Background(), finishSyncTimeout)
	defer cancel()

	if err != nil {
		if ferr := svc.repo.FinishSync(finCtx, orgID, platform, err.Error()); ferr != nil {
			svc.logger.Error(fmt.Sprintf("%s sync: recording failure: %v", platform, ferr), ferr)
		}
		svc.notifyFailure(finCtx, orgID, platform, err)
		return res, err
	}
	if err = svc.repo.FinishSync(finCtx, orgID, platform, ""); err != nil {
		return res, errors.Wrap(err, "recording sync result")
	}
	svc.logger.Info(fmt.Sprintf("%s sync: %d enrollments, %d progress rows", platform, res.EnrollmentsSynced, res.ProgressSynced))
	return res, nil
}

// SyncPlatform runs one end-to-end sync pass for one (org, platform) pair:
// load roster emails, fetch + reconcile + upsert enrollments, then fetch +
// upsert progress. Vendor records without a matching roster email are dropped;
// they represent people outside the organization. Progress is only requested
// for the enrollments that matched the roster, which narrows what per-user
// vendor calls fetch. A persistence failure aborts the pass and propagates;
// rows upserted before the failure survive, and the natural keys make the
// next pass converge on them.
func (svc *Service) SyncPlatform(ctx context.Context, orgID string, platform Platform, creds Credentials) (SyncResult, error) {
	var res SyncResult

	adapter, err := svc.registry.GetAdapter(platform)
	if err != nil {
		return res, err
	}

	ids, err := svc.usrRepo.QueryOrgStudentIDs(ctx, orgID)
	if err != nil {
		return res, errors.Wrap(err, "loading student roster")
	}
	if len(ids) == 0 {
		return res, nil
	}

	students, err := svc.usrRepo.QueryUsersByID(ctx, ids...)
	if err != nil {
		return res, errors.Wrap(err, "loading student profiles")
	}
	userIDByEmail := make(map[string]string, len(students))
	emails := make([]string, 0, len(students))
	for _, usr := range students {
		email := core.CleanString(usr.Email, true /* lower */)
		if email == "" {
			continue
		}
		if _, ok := userIDByEmail[email]; ok {
			continue
		}
		userIDByEmail[email] = usr.ID
		emails = append(emails, email)
	}
	if len(emails) == 0 {
		return res, nil
	}

	vendorEnrs, err := adapter.FetchEnrollments(ctx, creds, emails)
	if err != nil {
		return res, errors.Wrap(err, "fetching enrollments")
	}

	now := time.Now().UTC()
	enrollmentIDs := make(map[string]string, len(vendorEnrs)) // "email:courseID" -> enrollment id
	matched := make([]VendorEnrollment, 0, len(vendorEnrs))
	for _, ve := range vendorEnrs {
		email := core.CleanString(ve.Email, true)
		usrID, ok := userIDByEmail[email]
		if !ok {
			continue
		}
		key := ReconKey(email, ve.CourseID)
		if _, ok = enrollmentIDs[key]; ok {
			continue // duplicate across pages; one row per natural key
		}

		enr, err := svc.repo.UpsertEnrollment(ctx, ExternalEnrollment{
			OrgID:       orgID,
			UserID:      usrID,
			Platform:    platform,
			CourseID:    ve.CourseID,
			CourseTitle: ve.CourseTitle,
			EnrolledAt:  ve.EnrolledAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return res, errors.Wrapf(err, "upserting enrollment %s", key)
		}
		enrollmentIDs[key] = enr.ID
		matched = append(matched, ve)
		res.EnrollmentsSynced++
	}

	vendorPrgs, err := adapter.FetchProgress(ctx, creds, matched)
	if err != nil {
		return res, errors.Wrap(err, "fetching progress")
	}
	for _, vp := range vendorPrgs {
		key := ReconKey(vp.Email, vp.CourseID)
		enrID, ok := enrollmentIDs[key]
		if !ok {
			continue
		}

		pct := ClampPercent(vp.Percentage)
		if _, err = svc.repo.UpsertProgress(ctx, ExternalProgress{
			EnrollmentID:   enrID,
			Percentage:     pct,
			Status:         ProgressStatusOf(pct, vp.CompletedAt),
			CompletedAt:    vp.CompletedAt,
			MinutesSpent:   vp.MinutesSpent,
			LastActivityAt: vp.LastActivityAt,
			SyncedAt:       now,
		}); err != nil {
			return res, errors.Wrapf(err, "upserting progress %s", key)
		}
		res.ProgressSynced++
	}
	return res, nil
}

func (svc *Service) notifyFailure(ctx context.Context, orgID string, platform Platform, syncErr error) {
	svc.logger.Error(fmt.Sprintf("%s sync failed: %v", platform, syncErr), syncErr)
	if svc.mailSvc == nil {
		return
	}

	admins, err := svc.usrRepo.QueryOrgAdmins(ctx, orgID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("%s sync: loading org admins: %v", platform, err), err)
		return
	}
	to := make([]mail.Address, 0, len(admins))
	for _, adm := range admins {
		if adm.Email != "" {
			to = append(to, mail.Address{Name: adm.Name, Address: adm.Email})
		}
	}
	if len(to) == 0 {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      to,
		Subject: fmt.Sprintf("%s sync failed", platform),
		BodyStr: fmt.Sprintf(
			"The last %s synchronization for your organization failed:\n\n%v\n\n"+
				"It will be retried on the next scheduled run. You can also re-run it "+
				"from the integrations screen after checking the credentials.", platform, syncErr),
	})
}
