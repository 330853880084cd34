package udemy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
)

// Credential keys
const (
	KeyAccountID = "account_id"
	KeyAPIToken  = "api_token"
)

// Adapter adapts the Udemy Business API to the integration.Adapter capability
// set. Both enrollments and progress come from per-user course usage records,
// fetched only for users whose email matches the organization roster.
type Adapter struct {
	C      *Client
	Logger core.Logger
}

var _ integration.Adapter = (*Adapter)(nil)

func New(logger core.Logger) *Adapter {
	return &Adapter{C: NewClient(), Logger: logger}
}

func (a *Adapter) Platform() integration.Platform { return integration.PlatformUdemy }

func (a *Adapter) ValidateCredentials(ctx context.Context, creds integration.Credentials) bool {
	if !creds.Has(KeyAccountID, KeyAPIToken) {
		return false
	}
	return a.C.Ping(ctx, creds[KeyAccountID], creds[KeyAPIToken]) == nil
}

func (a *Adapter) FetchEnrollments(ctx context.Context, creds integration.Credentials, knownEmails []string) ([]integration.VendorEnrollment, error) {
	out := make([]integration.VendorEnrollment, 0)
	if !creds.Has(KeyAccountID, KeyAPIToken) {
		return out, nil // not configured
	}

	matched, err := a.matchUsers(ctx, creds, knownEmails)
	if err != nil {
		return nil, err
	}

	for _, email := range matched {
		activities, err := a.C.ListUserCourseActivity(ctx, creds[KeyAccountID], creds[KeyAPIToken], email)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// one failing user must not abort the whole fetch
			a.Logger.Warn(fmt.Sprintf("udemy: skipping user %s: %v", email, err))
			continue
		}
		for _, act := range activities {
			out = append(out, integration.VendorEnrollment{
				CourseID:    strconv.FormatInt(act.CourseID, 10),
				CourseTitle: act.CourseTitle,
				Email:       email,
				EnrolledAt:  parseTime(act.EnrollmentDate),
			})
		}
	}
	return out, nil
}

func (a *Adapter) FetchProgress(ctx context.Context, creds integration.Credentials, knownEnrs []integration.VendorEnrollment) ([]integration.VendorProgress, error) {
	out := make([]integration.VendorProgress, 0)
	if !creds.Has(KeyAccountID, KeyAPIToken) || len(knownEnrs) == 0 {
		return out, nil
	}

	knownPairs := make(map[string]bool, len(knownEnrs))
	emails := make([]string, 0, len(knownEnrs))
	seen := make(map[string]bool, len(knownEnrs))
	for _, enr := range knownEnrs {
		knownPairs[integration.ReconKey(enr.Email, enr.CourseID)] = true
		email := core.CleanString(enr.Email, true /* lower */)
		if !seen[email] {
			seen[email] = true
			emails = append(emails, email)
		}
	}

	// progress reuses the same per-user usage records
	for _, email := range emails {
		activities, err := a.C.ListUserCourseActivity(ctx, creds[KeyAccountID], creds[KeyAPIToken], email)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.Logger.Warn(fmt.Sprintf("udemy: skipping user %s: %v", email, err))
			continue
		}
		for _, act := range activities {
			courseID := strconv.FormatInt(act.CourseID, 10)
			if !knownPairs[integration.ReconKey(email, courseID)] {
				continue
			}
			pct := integration.FractionToPercent(act.CompletionRatio)
			completedAt := parseTime(act.CompletionDate)

			var minutes null.Int
			if act.NumVideoConsumedMins > 0 {
				minutes = null.IntFrom(int(act.NumVideoConsumedMins))
			}
			out = append(out, integration.VendorProgress{
				CourseID:       courseID,
				Email:          email,
				Percentage:     pct,
				Status:         integration.ProgressStatusOf(pct, completedAt),
				CompletedAt:    completedAt,
				MinutesSpent:   minutes,
				LastActivityAt: parseTime(act.LastAccessDate),
			})
		}
	}
	return out, nil
}

// matchUsers lists org users and intersects them with the known roster emails.
func (a *Adapter) matchUsers(ctx context.Context, creds integration.Credentials, knownEmails []string) ([]string, error) {
	users, err := a.C.ListUsers(ctx, creds[KeyAccountID], creds[KeyAPIToken])
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.Error(fmt.Sprintf("udemy: listing users failed: %v", err), err)
		return nil, nil
	}

	known := make(map[string]bool, len(knownEmails))
	for _, e := range knownEmails {
		known[core.CleanString(e, true)] = true
	}

	matched := make([]string, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, usr := range users {
		email := core.CleanString(usr.Email, true)
		if known[email] && !seen[email] {
			seen[email] = true
			matched = append(matched, email)
		}
	}
	return matched, nil
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
