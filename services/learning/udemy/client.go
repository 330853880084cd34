package udemy

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
	defaultBaseURL = "https://www.udemy.com/api-2.0"

	pageSize  = 100
	pageDelay = 200 * time.Millisecond // mandatory between page requests
)

// Client talks to the Udemy Business API using a static bearer token.
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
	User struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}

	usersResponse struct {
		Count   int    `json:"count"`
		Next    string `json:"next"` // absolute URL of the next page; empty on the last
		Results []User `json:"results"`
	}

	// CourseActivity is one per-user course usage record. It serves both
	// enrollment and progress data.
	CourseActivity struct {
		CourseID             int64   `json:"course_id"`
		CourseTitle          string  `json:"course_title"`
		CompletionRatio      float64 `json:"completion_ratio"` // fractional, 0..1
		EnrollmentDate       string  `json:"enrollment_date"`
		CompletionDate       string  `json:"completion_date"`
		LastAccessDate       string  `json:"last_access_date"`
		NumVideoConsumedMins float64 `json:"num_video_consumed_minutes"`
	}

	courseActivityResponse struct {
		Count   int              `json:"count"`
		Next    string           `json:"next"`
		Results []CourseActivity `json:"results"`
	}
)

// ListUsers drains all pages of the organization's users.
func (c *Client) ListUsers(ctx context.Context, accountID, token string) ([]User, error) {
	var all []User
	next := fmt.Sprintf("%s/organizations/%s/users/?page=1&page_size=%d", c.BaseURL, url.PathEscape(accountID), pageSize)
	for next != "" {
		var resp usersResponse
		if err := c.getJSON(ctx, token, next, &resp); err != nil {
			return nil, errors.Wrap(err, "udemy: listing users")
		}
		all = append(all, resp.Results...)

		// defend against feeds that omit the next link or keep returning it
		if resp.Next == "" || len(resp.Results) < pageSize {
			return all, nil
		}
		next = resp.Next

		if err := httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// ListUserCourseActivity drains all course usage records for one user.
func (c *Client) ListUserCourseActivity(ctx context.Context, accountID, token, email string) ([]CourseActivity, error) {
	var all []CourseActivity
	next := fmt.Sprintf(
		"%s/organizations/%s/analytics/user-course-activity/?user_email=%s&page=1&page_size=%d",
		c.BaseURL, url.PathEscape(accountID), url.QueryEscape(email), pageSize,
	)
	for next != "" {
		var resp courseActivityResponse
		if err := c.getJSON(ctx, token, next, &resp); err != nil {
			return nil, errors.Wrapf(err, "udemy: listing course activity for %s", email)
		}
		all = append(all, resp.Results...)

		if resp.Next == "" || len(resp.Results) < pageSize {
			return all, nil
		}
		next = resp.Next

		if err := httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// Ping performs the cheapest possible authenticated read.
func (c *Client) Ping(ctx context.Context, accountID, token string) error {
	u := fmt.Sprintf("%s/organizations/%s/users/?page=1&page_size=1", c.BaseURL, url.PathEscape(accountID))
	var resp usersResponse
	return c.getJSON(ctx, token, u, &resp)
}

func (c *Client) getJSON(ctx context.Context, token, u string, out interface{}) error {
	return httpx.DoJSON(
		ctx,
		c.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Authorization", "Bearer "+token)
			return r, nil
		},
		out,
		httpx.DefaultRetryConfig(),
	)
}
