package pluralsight

import (
	"context"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
)

// Credential keys
const (
	KeyAPIKey = "api_key"
	KeyPlanID = "plan_id"
)

// Adapter adapts the Pluralsight plan analytics API to the integration.Adapter
// capability set. It prefers the bulk plan-wide activity feed for both
// enrollments and progress, and enumerates users individually only when the
// bulk feed yields zero matches for a non-empty roster.
type Adapter struct {
	C      *Client
	Logger core.Logger
}

var _ integration.Adapter = (*Adapter)(nil)

func New(logger core.Logger) *Adapter {
	return &Adapter{C: NewClient(), Logger: logger}
}

func (a *Adapter) Platform() integration.Platform { return integration.PlatformPluralsight }

func (a *Adapter) ValidateCredentials(ctx context.Context, creds integration.Credentials) bool {
	if !creds.Has(KeyAPIKey, KeyPlanID) {
		return false
	}
	return a.C.Ping(ctx, creds[KeyAPIKey], creds[KeyPlanID]) == nil
}

func (a *Adapter) FetchEnrollments(ctx context.Context, creds integration.Credentials, knownEmails []string) ([]integration.VendorEnrollment, error) {
	out := make([]integration.VendorEnrollment, 0)
	if !creds.Has(KeyAPIKey, KeyPlanID) {
		return out, nil // not configured
	}

	activities, err := a.matchedActivities(ctx, creds, emailSet(knownEmails))
	if err != nil {
		return nil, err
	}
	for _, act := range activities {
		out = append(out, integration.VendorEnrollment{
			CourseID:    act.CourseID,
			CourseTitle: act.CourseName,
			Email:       act.UserEmail,
			EnrolledAt:  parseTime(act.FirstViewedClipOn),
		})
	}
	return out, nil
}

func (a *Adapter) FetchProgress(ctx context.Context, creds integration.Credentials, knownEnrs []integration.VendorEnrollment) ([]integration.VendorProgress, error) {
	out := make([]integration.VendorProgress, 0)
	if !creds.Has(KeyAPIKey, KeyPlanID) || len(knownEnrs) == 0 {
		return out, nil
	}

	knownPairs := make(map[string]bool, len(knownEnrs))
	emails := make(map[string]bool, len(knownEnrs))
	for _, enr := range knownEnrs {
		knownPairs[integration.ReconKey(enr.Email, enr.CourseID)] = true
		emails[core.CleanString(enr.Email, true /* lower */)] = true
	}

	activities, err := a.matchedActivities(ctx, creds, emails)
	if err != nil {
		return nil, err
	}
	for _, act := range activities {
		if !knownPairs[integration.ReconKey(act.UserEmail, act.CourseID)] {
			continue
		}
		pct := integration.ClampPercent(act.PercentComplete)
		completedAt := parseTime(act.CompletedOn)

		var minutes null.Int
		if act.TotalViewedSeconds > 0 {
			minutes = null.IntFrom(int(act.TotalViewedSeconds / 60))
		}
		out = append(out, integration.VendorProgress{
			CourseID:       act.CourseID,
			Email:          act.UserEmail,
			Percentage:     pct,
			Status:         integration.ProgressStatusOf(pct, completedAt),
			CompletedAt:    completedAt,
			MinutesSpent:   minutes,
			LastActivityAt: parseTime(act.LastViewedClipOn),
		})
	}
	return out, nil
}

// matchedActivities fetches the bulk feed filtered to known emails, falling
// back to per-user enumeration when the bulk feed yields nothing for a
// non-empty roster (some plans do not expose the analytics feed).
func (a *Adapter) matchedActivities(ctx context.Context, creds integration.Credentials, known map[string]bool) ([]UserCourseActivity, error) {
	apiKey, planID := creds[KeyAPIKey], creds[KeyPlanID]

	bulk, err := a.C.ListPlanActivity(ctx, apiKey, planID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("pluralsight: bulk activity feed failed: %v", err), err)
		bulk = nil
	}

	matched := make([]UserCourseActivity, 0, len(bulk))
	for _, act := range bulk {
		if known[core.CleanString(act.UserEmail, true)] {
			matched = append(matched, act)
		}
	}
	if len(matched) > 0 || len(known) == 0 {
		return matched, nil
	}

	// fallback: per-user enumeration
	users, err := a.C.ListPlanUsers(ctx, apiKey, planID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("pluralsight: listing plan users failed: %v", err), err)
		return matched, nil
	}
	for _, usr := range users {
		if !known[core.CleanString(usr.Email, true)] {
			continue
		}
		activities, err := a.C.ListUserActivity(ctx, apiKey, planID, usr.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// one failing user must not abort the whole fetch
			a.Logger.Warn(fmt.Sprintf("pluralsight: skipping user %s: %v", usr.Email, err))
			continue
		}
		for _, act := range activities {
			if act.UserEmail == "" {
				act.UserEmail = usr.Email
			}
			matched = append(matched, act)
		}
	}
	return matched, nil
}

func emailSet(emails []string) map[string]bool {
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		set[core.CleanString(e, true)] = true
	}
	return set
}

func parseTime(s string) null.Time {
	if s == "" {
		return null.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return null.TimeFrom(t.UTC())
		}
	}
	return null.Time{}
}
