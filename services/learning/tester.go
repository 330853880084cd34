package learning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/services/learning/httpx"
)

// testTimeout is the hard per-attempt budget; the admin screen waits on this.
const testTimeout = 15 * time.Second

// Tester gives a fast yes/no on vendor credentials before a config is saved.
// It talks to the vendor APIs directly, independent of the full adapters, and
// never fails hard: every failure becomes TestResult{Success: false}.
type Tester struct {
	HTTP *http.Client

	// base URLs are overridable for tests
	CourseraBaseURL    string
	UdemyBaseURL       string
	PluralsightBaseURL string
}

var _ integration.ConnectionTester = (*Tester)(nil)

func NewTester() *Tester {
	return &Tester{
		HTTP:               &http.Client{Timeout: testTimeout},
		CourseraBaseURL:    "https://api.coursera.com",
		UdemyBaseURL:       "https://www.udemy.com/api-2.0",
		PluralsightBaseURL: "https://api.pluralsight.com",
	}
}

func (t *Tester) TestConnection(ctx context.Context, platform integration.Platform, creds integration.Credentials) integration.TestResult {
	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	start := time.Now()
	var err error
	switch platform {
	case integration.PlatformCoursera:
		err = t.probeCoursera(ctx, creds)
	case integration.PlatformUdemy:
		err = t.probeUdemy(ctx, creds)
	case integration.PlatformPluralsight:
		err = t.probePluralsight(ctx, creds)
	default:
		err = integration.NewUnsupportedPlatformError(string(platform))
	}

	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		return integration.TestResult{Success: false, Message: err.Error(), ResponseTimeMs: elapsed}
	}
	return integration.TestResult{Success: true, Message: "connection successful", ResponseTimeMs: elapsed}
}

// probeCoursera performs one token exchange.
func (t *Tester) probeCoursera(ctx context.Context, creds integration.Credentials) error {
	if !creds.Has("client_id", "client_secret", "org_id") {
		return missingCredentials("client_id", "client_secret", "org_id")
	}

	form := make(url.Values)
	form.Set("grant_type", "client_credentials")

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	err := httpx.DoJSON(
		ctx,
		t.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, t.CourseraBaseURL+"/oauth2/v1/token", strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			r.SetBasicAuth(creds["client_id"], creds["client_secret"])
			return r, nil
		},
		&tok,
		httpx.NoRetryConfig(),
	)
	if err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token endpoint returned no access token")
	}
	return nil
}

// probeUdemy performs one cheap authenticated read.
func (t *Tester) probeUdemy(ctx context.Context, creds integration.Credentials) error {
	if !creds.Has("account_id", "api_token") {
		return missingCredentials("account_id", "api_token")
	}

	u := fmt.Sprintf("%s/organizations/%s/users/?page=1&page_size=1", t.UdemyBaseURL, url.PathEscape(creds["account_id"]))
	return httpx.DoJSON(
		ctx,
		t.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", "application/json")
			r.Header.Set("Authorization", "Bearer "+creds["api_token"])
			return r, nil
		},
		nil,
		httpx.NoRetryConfig(),
	)
}

// probePluralsight performs one cheap read, trying both auth schemes.
func (t *Tester) probePluralsight(ctx context.Context, creds integration.Credentials) error {
	if !creds.Has("api_key", "plan_id") {
		return missingCredentials("api_key", "plan_id")
	}

	u := fmt.Sprintf("%s/plans/%s/users?offset=0&limit=1", t.PluralsightBaseURL, url.PathEscape(creds["plan_id"]))
	get := func(basic bool) error {
		return httpx.DoJSON(
			ctx,
			t.HTTP,
			func(ctx context.Context) (*http.Request, error) {
				r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
				if err != nil {
					return nil, err
				}
				r.Header.Set("Accept", "application/json")
				if basic {
					r.SetBasicAuth(creds["api_key"], "")
				} else {
					r.Header.Set("Authorization", "Bearer "+creds["api_key"])
				}
				return r, nil
			},
			nil,
			httpx.NoRetryConfig(),
		)
	}

	err := get(false)
	if herr, ok := err.(*httpx.HTTPError); ok {
		if herr.StatusCode == http.StatusUnauthorized || herr.StatusCode == http.StatusForbidden {
			return get(true)
		}
	}
	return err
}

func missingCredentials(keys ...string) error {
	return fmt.Errorf("missing credentials: %s required", strings.Join(keys, ", "))
}
