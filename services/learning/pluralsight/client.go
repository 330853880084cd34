package pluralsight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/services/learning/httpx"
)

const (
	defaultBaseURL = "https://api.pluralsight.com"

	pageSize  = 100
	pageDelay = 150 * time.Millisecond // mandatory between page requests
)

// Client talks to the Pluralsight plan analytics API. The API key is accepted
// as either a bearer token or HTTP basic auth depending on the plan's
// provisioning; requests go out as Bearer and fall back to Basic once on
// 401/403.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient() *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

type (
	// UserCourseActivity is one row of the plan-wide analytics feed. It
	// serves both enrollment and progress data.
	UserCourseActivity struct {
		UserEmail          string  `json:"userEmail"`
		CourseID           string  `json:"courseId"`
		CourseName         string  `json:"courseName"`
		PercentComplete    float64 `json:"percentComplete"` // 0..100
		FirstViewedClipOn  string  `json:"firstViewedClipOn"`
		LastViewedClipOn   string  `json:"lastViewedClipOn"`
		CompletedOn        string  `json:"completedOn"`
		TotalViewedSeconds int64   `json:"totalViewedSeconds"`
	}

	activityResponse struct {
		Data    []UserCourseActivity `json:"data"`
		HasMore bool                 `json:"hasMore"`
	}

	PlanUser struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	usersResponse struct {
		Data    []PlanUser `json:"data"`
		HasMore bool       `json:"hasMore"`
	}
)

// ListPlanActivity drains the bulk plan-wide user-course-activity feed.
func (c *Client) ListPlanActivity(ctx context.Context, apiKey, planID string) ([]UserCourseActivity, error) {
	var all []UserCourseActivity
	offset := 0
	for {
		u := fmt.Sprintf("%s/plans/%s/user-course-activity?offset=%d&limit=%d", c.BaseURL, url.PathEscape(planID), offset, pageSize)
		var resp activityResponse
		if err := c.getJSON(ctx, apiKey, u, &resp); err != nil {
			return nil, errors.Wrap(err, "pluralsight: listing plan activity")
		}
		all = append(all, resp.Data...)

		if !resp.HasMore || len(resp.Data) < pageSize {
			return all, nil
		}
		offset += len(resp.Data)

		if err := httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// ListPlanUsers drains all pages of the plan's user directory.
func (c *Client) ListPlanUsers(ctx context.Context, apiKey, planID string) ([]PlanUser, error) {
	var all []PlanUser
	offset := 0
	for {
		u := fmt.Sprintf("%s/plans/%s/users?offset=%d&limit=%d", c.BaseURL, url.PathEscape(planID), offset, pageSize)
		var resp usersResponse
		if err := c.getJSON(ctx, apiKey, u, &resp); err != nil {
			return nil, errors.Wrap(err, "pluralsight: listing plan users")
		}
		all = append(all, resp.Data...)

		if !resp.HasMore || len(resp.Data) < pageSize {
			return all, nil
		}
		offset += len(resp.Data)

		if err := httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// ListUserActivity drains the per-user course activity records.
func (c *Client) ListUserActivity(ctx context.Context, apiKey, planID, userID string) ([]UserCourseActivity, error) {
	var all []UserCourseActivity
	offset := 0
	for {
		u := fmt.Sprintf("%s/plans/%s/users/%s/course-activity?offset=%d&limit=%d",
			c.BaseURL, url.PathEscape(planID), url.PathEscape(userID), offset, pageSize)
		var resp activityResponse
		if err := c.getJSON(ctx, apiKey, u, &resp); err != nil {
			return nil, errors.Wrapf(err, "pluralsight: listing activity for user %s", userID)
		}
		all = append(all, resp.Data...)

		if !resp.HasMore || len(resp.Data) < pageSize {
			return all, nil
		}
		offset += len(resp.Data)

		if err := httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// Ping performs the cheapest possible authenticated read.
func (c *Client) Ping(ctx context.Context, apiKey, planID string) error {
	u := fmt.Sprintf("%s/plans/%s/users?offset=0&limit=1", c.BaseURL, url.PathEscape(planID))
	var resp usersResponse
	return c.getJSON(ctx, apiKey, u, &resp)
}

// getJSON performs a GET with Bearer auth, retrying once with Basic auth when
// the key is rejected (plans are provisioned for one scheme or the other).
func (c *Client) getJSON(ctx context.Context, apiKey, u string, out interface{}) error {
	err := httpx.DoJSON(ctx, c.HTTP, c.buildReq(u, apiKey, false), out, httpx.DefaultRetryConfig())
	if herr, ok := errors.Cause(err).(*httpx.HTTPError); ok {
		if herr.StatusCode == http.StatusUnauthorized || herr.StatusCode == http.StatusForbidden {
			return httpx.DoJSON(ctx, c.HTTP, c.buildReq(u, apiKey, true), out, httpx.DefaultRetryConfig())
		}
	}
	return err
}

func (c *Client) buildReq(u, apiKey string, basic bool) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		if basic {
			r.SetBasicAuth(apiKey, "")
		} else {
			r.Header.Set("Authorization", "Bearer "+apiKey)
		}
		return r, nil
	}
}
