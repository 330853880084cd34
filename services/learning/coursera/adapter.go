package coursera

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
	KeyClientID     = "client_id"
	KeyClientSecret = "client_secret"
	KeyOrgID        = "org_id"
)

// Adapter adapts the Coursera for Business API to the integration.Adapter
// capability set. Enrollment discovery is two-level (programs, then per-program
// enrollments); progress comes from the org-wide learner activity feed.
type Adapter struct {
	C      *Client
	Logger core.Logger
}

var _ integration.Adapter = (*Adapter)(nil)

func New(logger core.Logger) *Adapter {
	return &Adapter{C: NewClient(), Logger: logger}
}

func (a *Adapter) Platform() integration.Platform { return integration.PlatformCoursera }

func (a *Adapter) ValidateCredentials(ctx context.Context, creds integration.Credentials) bool {
	if !creds.Has(KeyClientID, KeyClientSecret, KeyOrgID) {
		return false
	}
	_, err := a.C.Token(ctx, creds[KeyClientID], creds[KeyClientSecret])
	return err == nil
}

func (a *Adapter) FetchEnrollments(ctx context.Context, creds integration.Credentials, knownEmails []string) ([]integration.VendorEnrollment, error) {
	out := make([]integration.VendorEnrollment, 0)
	if !creds.Has(KeyClientID, KeyClientSecret, KeyOrgID) {
		return out, nil // not configured
	}

	token, err := a.C.Token(ctx, creds[KeyClientID], creds[KeyClientSecret])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("coursera: token exchange failed: %v", err), err)
		return out, nil
	}

	programs, err := a.C.ListPrograms(ctx, token, creds[KeyOrgID])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("coursera: listing programs failed: %v", err), err)
		return out, nil
	}

	known := emailSet(knownEmails)
	for _, prog := range programs {
		enrs, err := a.C.ListProgramEnrollments(ctx, token, prog.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// one bad program must not abort the whole fetch
			a.Logger.Warn(fmt.Sprintf("coursera: skipping program %s (%s): %v", prog.ID, prog.Name, err))
			continue
		}
		for _, enr := range enrs {
			if !known[core.CleanString(enr.Email, true /* lower */)] {
				continue
			}
			out = append(out, integration.VendorEnrollment{
				CourseID:    enr.CourseID,
				CourseTitle: enr.CourseName,
				Email:       enr.Email,
				EnrolledAt:  parseTime(enr.EnrolledAt),
			})
		}
	}
	return out, nil
}

func (a *Adapter) FetchProgress(ctx context.Context, creds integration.Credentials, knownEnrs []integration.VendorEnrollment) ([]integration.VendorProgress, error) {
	out := make([]integration.VendorProgress, 0)
	if !creds.Has(KeyClientID, KeyClientSecret, KeyOrgID) || len(knownEnrs) == 0 {
		return out, nil
	}

	token, err := a.C.Token(ctx, creds[KeyClientID], creds[KeyClientSecret])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("coursera: token exchange failed: %v", err), err)
		return out, nil
	}

	activities, err := a.C.ListLearnerActivity(ctx, token, creds[KeyOrgID])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("coursera: listing learner activity failed: %v", err), err)
		return out, nil
	}

	knownPairs := make(map[string]bool, len(knownEnrs))
	for _, enr := range knownEnrs {
		knownPairs[integration.ReconKey(enr.Email, enr.CourseID)] = true
	}

	for _, act := range activities {
		if !knownPairs[integration.ReconKey(act.Email, act.CourseID)] {
			continue
		}
		pct := integration.FractionToPercent(act.ProgressRatio)
		completedAt := parseTime(act.CompletedAt)

		var minutes null.Int
		if act.TotalLearningSeconds > 0 {
			minutes = null.IntFrom(int(act.TotalLearningSeconds / 60))
		}
		out = append(out, integration.VendorProgress{
			CourseID:       act.CourseID,
			Email:          act.Email,
			Percentage:     pct,
			Status:         integration.ProgressStatusOf(pct, completedAt),
			CompletedAt:    completedAt,
			MinutesSpent:   minutes,
			LastActivityAt: parseTime(act.LastActivityAt),
		})
	}
	return out, nil
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
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}
