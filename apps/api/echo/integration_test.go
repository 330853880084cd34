package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
	testutil "github.com/trezcool/shule/tests"
)

const orgID = "11111111-1111-1111-1111-111111111111"

type fakeAdapter struct {
	platform integration.Platform
}

func (a *fakeAdapter) Platform() integration.Platform { return a.platform }
func (a *fakeAdapter) ValidateCredentials(context.Context, integration.Credentials) bool {
	return true
}
func (a *fakeAdapter) FetchEnrollments(context.Context, integration.Credentials, []string) ([]integration.VendorEnrollment, error) {
	return nil, nil
}
func (a *fakeAdapter) FetchProgress(context.Context, integration.Credentials, []integration.VendorEnrollment) ([]integration.VendorProgress, error) {
	return nil, nil
}

type fakeRegistry struct{}

func (r *fakeRegistry) GetAdapter(platform integration.Platform) (integration.Adapter, error) {
	if platform.Valid() {
		return &fakeAdapter{platform: platform}, nil
	}
	return nil, integration.NewUnsupportedPlatformError(string(platform))
}

type fakeTester struct{}

func (t *fakeTester) TestConnection(context.Context, integration.Platform, integration.Credentials) integration.TestResult {
	return integration.TestResult{Success: true, Message: "connection successful", ResponseTimeMs: 12}
}

type apiFixture struct {
	server  Server
	repo    integration.Repository
	usrRepo user.Repository
	svc     *integration.Service
}

func setup(t *testing.T) *apiFixture {
	t.Helper()
	core.Conf.Debug = false
	core.Conf.TestMode = true

	usrRepo := dummydb.NewUserRepository()
	repo := dummydb.NewIntegrationRepository(usrRepo)
	svc := integration.NewService(repo, usrRepo, &fakeRegistry{}, &fakeTester{}, emailsvc.NewConsoleServiceMock(), core.NewNopLogger())

	server := NewServer(&Options{
		Addr:           ":0",
		DisableReqLogs: true,
		UserSvc:        user.NewService(usrRepo),
		IntegrationSvc: svc,
		Logger:         core.NewNopLogger(),
	})
	return &apiFixture{server: server, repo: repo, usrRepo: usrRepo, svc: svc}
}

func (fix *apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	usr := testutil.CreateUser(t, fix.usrRepo, orgID, "Admin", "admin@example.com", "", []string{user.RoleAdminOwner}, true)
	return getToken(t, usr)
}

func (fix *apiFixture) studentToken(t *testing.T) string {
	t.Helper()
	usr := testutil.CreateUser(t, fix.usrRepo, orgID, "Student", "student@example.com", "", []string{user.RoleStudent}, true)
	return getToken(t, usr)
}

func getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (fix *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fix.server.ServeHTTP(rec, req)
	return rec
}

func TestIntegrationAPI_authRequired(t *testing.T) {
	fix := setup(t)

	rec := fix.do(t, http.MethodGet, "/v1/integrations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401; body = %s", rec.Code, rec.Body.String())
	}
}

func TestIntegrationAPI_adminOnly(t *testing.T) {
	fix := setup(t)

	rec := fix.do(t, http.MethodGet, "/v1/integrations", fix.studentToken(t), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("code = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}
}

func TestIntegrationAPI_saveAndQuery(t *testing.T) {
	fix := setup(t)
	token := fix.adminToken(t)

	rec := fix.do(t, http.MethodPut, "/v1/integrations/udemy", token, map[string]interface{}{
		"is_enabled":  true,
		"credentials": map[string]string{"account_id": "acc", "api_token": "sekrit"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: code = %d; body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sekrit") {
		t.Error("credentials must never appear in responses")
	}

	rec = fix.do(t, http.MethodGet, "/v1/integrations", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("query: code = %d; body = %s", rec.Code, rec.Body.String())
	}

	var cfgs []integration.PlatformConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfgs); err != nil {
		t.Fatalf("decoding configs: %v", err)
	}
	if len(cfgs) != 1 || cfgs[0].Platform != integration.PlatformUdemy || !cfgs[0].IsEnabled {
		t.Errorf("configs = %+v", cfgs)
	}
}

func TestIntegrationAPI_saveUnknownPlatform(t *testing.T) {
	fix := setup(t)

	rec := fix.do(t, http.MethodPut, "/v1/integrations/linkedin", fix.adminToken(t), map[string]interface{}{
		"is_enabled": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "linkedin") {
		t.Errorf("body = %s, must name the bad platform", rec.Body.String())
	}
}

func TestIntegrationAPI_testConnection(t *testing.T) {
	fix := setup(t)

	rec := fix.do(t, http.MethodPost, "/v1/integrations/pluralsight/test", fix.adminToken(t), map[string]interface{}{
		"credentials": map[string]string{"api_key": "k", "plan_id": "p"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d; body = %s", rec.Code, rec.Body.String())
	}

	var res integration.TestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !res.Success || res.ResponseTimeMs != 12 {
		t.Errorf("result = %+v", res)
	}
}

func TestIntegrationAPI_sync(t *testing.T) {
	fix := setup(t)
	token := fix.adminToken(t)

	// no config yet
	rec := fix.do(t, http.MethodPost, "/v1/integrations/udemy/sync", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("sync without config: code = %d, want 404; body = %s", rec.Code, rec.Body.String())
	}

	rec = fix.do(t, http.MethodPut, "/v1/integrations/udemy", token, map[string]interface{}{
		"is_enabled":  true,
		"credentials": map[string]string{"account_id": "acc", "api_token": "tok"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: code = %d; body = %s", rec.Code, rec.Body.String())
	}

	rec = fix.do(t, http.MethodPost, "/v1/integrations/udemy/sync", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: code = %d; body = %s", rec.Code, rec.Body.String())
	}

	var res integration.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.EnrollmentsSynced != 0 || res.ProgressSynced != 0 {
		t.Errorf("result = %+v, want zero counts for an empty roster", res)
	}

	// a running sync must be rejected
	if err := fix.repo.BeginSync(context.Background(), orgID, integration.PlatformUdemy); err != nil {
		t.Fatalf("BeginSync() failed: %v", err)
	}
	rec = fix.do(t, http.MethodPost, "/v1/integrations/udemy/sync", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent sync: code = %d, want 409; body = %s", rec.Code, rec.Body.String())
	}
}

func TestIntegrationAPI_queryProgress(t *testing.T) {
	fix := setup(t)
	token := fix.adminToken(t)

	student := testutil.CreateUser(t, fix.usrRepo, orgID, "Alice", "alice@example.com", "", []string{user.RoleStudent}, true)

	ctx := context.Background()
	now := time.Now().UTC()
	enr, err := fix.repo.UpsertEnrollment(ctx, integration.ExternalEnrollment{
		OrgID: orgID, UserID: student.ID, Platform: integration.PlatformUdemy,
		CourseID: "c1", CourseTitle: "Go Basics", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertEnrollment() failed: %v", err)
	}
	if _, err = fix.repo.UpsertProgress(ctx, integration.ExternalProgress{
		EnrollmentID: enr.ID, Percentage: 50, Status: integration.ProgressInProgress, SyncedAt: now,
	}); err != nil {
		t.Fatalf("UpsertProgress() failed: %v", err)
	}

	rec := fix.do(t, http.MethodGet, "/v1/integrations/progress?platform=udemy", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d; body = %s", rec.Code, rec.Body.String())
	}

	var prgs []integration.UnifiedProgress
	if err := json.Unmarshal(rec.Body.Bytes(), &prgs); err != nil {
		t.Fatalf("decoding progress: %v", err)
	}
	if len(prgs) != 1 || prgs[0].CourseID != "c1" || prgs[0].Email != "alice@example.com" {
		t.Errorf("progress = %+v", prgs)
	}

	// filters must narrow the result
	rec = fix.do(t, http.MethodGet, "/v1/integrations/progress?status=completed", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d; body = %s", rec.Code, rec.Body.String())
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("filtered progress = %s, want []", body)
	}
}
