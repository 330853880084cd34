package coursera

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/services/learning/httpx"
)

const (
	defaultBaseURL = "https://api.coursera.com"

	pageSize  = 100
	pageDelay = 250 * time.Millisecond // mandatory between page requests
)

// Client talks to the Coursera for Business API. Every logical operation
// re-acquires a bearer token via the client-credentials flow; tokens are not
// cached across calls.
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
	tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}

	paging struct {
		Next  string `json:"next"` // next start offset; empty on the last page
		Total int    `json:"total"`
	}

	Program struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	programsResponse struct {
		Elements []Program `json:"elements"`
		Paging   paging    `json:"paging"`
	}

	Enrollment struct {
		Email      string `json:"email"`
		CourseID   string `json:"courseId"`
		CourseName string `json:"courseName"`
		EnrolledAt string `json:"enrolledAt"`
	}

	enrollmentsResponse struct {
		Elements []Enrollment `json:"elements"`
		Paging   paging       `json:"paging"`
	}

	LearnerActivity struct {
		Email                string  `json:"email"`
		CourseID             string  `json:"courseId"`
		ProgressRatio        float64 `json:"progressRatio"` // fractional, 0..1
		CompletedAt          string  `json:"completedAt"`
		LastActivityAt       string  `json:"lastActivityAt"`
		TotalLearningSeconds int64   `json:"totalLearningSeconds"`
	}

	learnerActivityResponse struct {
		Elements []LearnerActivity `json:"elements"`
		Paging   paging            `json:"paging"`
	}
)

// Token exchanges the client id/secret for a bearer token.
func (c *Client) Token(ctx context.Context, clientID, clientSecret string) (string, error) {
	form := make(url.Values)
	form.Set("grant_type", "client_credentials")

	var tok tokenResponse
	err := httpx.DoJSON(
		ctx,
		c.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth2/v1/token", strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			r.SetBasicAuth(clientID, clientSecret)
			return r, nil
		},
		&tok,
		httpx.DefaultRetryConfig(),
	)
	if err != nil {
		return "", errors.Wrap(err, "coursera: token exchange")
	}
	if tok.AccessToken == "" {
		return "", errors.New("coursera: token exchange: empty access token")
	}
	return tok.AccessToken, nil
}

// ListPrograms drains all pages of the organization's programs.
func (c *Client) ListPrograms(ctx context.Context, token, orgID string) ([]Program, error) {
	var all []Program
	start := 0
	for {
		var resp programsResponse
		path := fmt.Sprintf("/v1/organizations/%s/programs", url.PathEscape(orgID))
		if err := c.getJSON(ctx, token, path, start, &resp); err != nil {
			return nil, errors.Wrap(err, "coursera: listing programs")
		}
		all = append(all, resp.Elements...)

		// some feeds omit paging metadata; a short page also terminates
		if resp.Paging.Next == "" || len(resp.Elements) < pageSize {
			return all, nil
		}
		next, err := strconv.Atoi(resp.Paging.Next)
		if err != nil || next <= start {
			return all, nil
		}
		start = next

		if err = httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// ListProgramEnrollments drains all enrollment pages for one program.
func (c *Client) ListProgramEnrollments(ctx context.Context, token, programID string) ([]Enrollment, error) {
	var all []Enrollment
	start := 0
	for {
		var resp enrollmentsResponse
		path := fmt.Sprintf("/v1/programs/%s/enrollments", url.PathEscape(programID))
		if err := c.getJSON(ctx, token, path, start, &resp); err != nil {
			return nil, errors.Wrapf(err, "coursera: listing enrollments for program %s", programID)
		}
		all = append(all, resp.Elements...)

		if resp.Paging.Next == "" || len(resp.Elements) < pageSize {
			return all, nil
		}
		next, err := strconv.Atoi(resp.Paging.Next)
		if err != nil || next <= start {
			return all, nil
		}
		start = next

		if err = httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

// ListLearnerActivity drains the org-wide learner activity feed.
func (c *Client) ListLearnerActivity(ctx context.Context, token, orgID string) ([]LearnerActivity, error) {
	var all []LearnerActivity
	start := 0
	for {
		var resp learnerActivityResponse
		path := fmt.Sprintf("/v1/organizations/%s/learnerActivity", url.PathEscape(orgID))
		if err := c.getJSON(ctx, token, path, start, &resp); err != nil {
			return nil, errors.Wrap(err, "coursera: listing learner activity")
		}
		all = append(all, resp.Elements...)

		if resp.Paging.Next == "" || len(resp.Elements) < pageSize {
			return all, nil
		}
		next, err := strconv.Atoi(resp.Paging.Next)
		if err != nil || next <= start {
			return all, nil
		}
		start = next

		if err = httpx.Wait(ctx, pageDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) getJSON(ctx context.Context, token, path string, start int, out interface{}) error {
	return httpx.DoJSON(
		ctx,
		c.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			u := fmt.Sprintf("%s%s?start=%d&limit=%d", c.BaseURL, path, start, pageSize)
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
