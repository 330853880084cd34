package coursera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
)

func newTestAdapter(srv *httptest.Server) *Adapter {
	a := New(core.NewNopLogger())
	a.C.BaseURL = srv.URL
	a.C.HTTP = srv.Client()
	return a
}

func validCreds() integration.Credentials {
	return integration.Credentials{
		KeyClientID:     "id",
		KeyClientSecret: "secret",
		KeyOrgID:        "org1",
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tokenHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "id" {
			t.Errorf("token exchange must use basic auth with the client id, got %q", user)
		}
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
			t.Error("token exchange must post grant_type=client_credentials")
		}
		writeJSON(w, map[string]interface{}{"access_token": "tok", "token_type": "Bearer", "expires_in": 1800})
	}
}

func TestAdapter_ValidateCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/token", tokenHandler(t))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	if !a.ValidateCredentials(context.Background(), validCreds()) {
		t.Error("ValidateCredentials() = false, want true for accepted credentials")
	}
	if a.ValidateCredentials(context.Background(), integration.Credentials{KeyClientID: "id"}) {
		t.Error("ValidateCredentials() = true, want false for missing keys")
	}
}

func TestAdapter_ValidateCredentials_rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad client", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	if a.ValidateCredentials(context.Background(), validCreds()) {
		t.Error("ValidateCredentials() = true, want false for rejected credentials")
	}
}

func TestAdapter_FetchEnrollments_missingCreds(t *testing.T) {
	a := New(core.NewNopLogger())

	enrs, err := a.FetchEnrollments(context.Background(), integration.Credentials{}, []string{"a@x.com"})
	if err != nil {
		t.Fatalf("FetchEnrollments() error = %v", err)
	}
	if len(enrs) != 0 {
		t.Errorf("FetchEnrollments() = %d records, want 0 for missing credentials", len(enrs))
	}
}

func TestAdapter_FetchEnrollments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/token", tokenHandler(t))
	mux.HandleFunc("/v1/organizations/org1/programs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"elements": []map[string]string{
				{"id": "p1", "name": "Engineering"},
				{"id": "p2", "name": "Broken"},
			},
		})
	})
	mux.HandleFunc("/v1/programs/p1/enrollments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"elements": []map[string]string{
				{"email": "Alice@Example.com", "courseId": "c1", "courseName": "Go Basics", "enrolledAt": "2026-01-10T10:00:00Z"},
				{"email": "carol@example.com", "courseId": "c2", "courseName": "SQL"},
			},
		})
	})
	mux.HandleFunc("/v1/programs/p2/enrollments", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound) // one bad program must not abort the fetch
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	enrs, err := a.FetchEnrollments(context.Background(), validCreds(), []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("FetchEnrollments() error = %v", err)
	}
	if len(enrs) != 1 {
		t.Fatalf("FetchEnrollments() = %d records, want 1", len(enrs))
	}
	if enrs[0].CourseID != "c1" || enrs[0].CourseTitle != "Go Basics" {
		t.Errorf("FetchEnrollments()[0] = %+v", enrs[0])
	}
	if !enrs[0].EnrolledAt.Valid {
		t.Error("EnrolledAt must be parsed")
	}
}

func TestAdapter_FetchEnrollments_tokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	enrs, err := a.FetchEnrollments(context.Background(), validCreds(), []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("FetchEnrollments() error = %v, vendor failures must degrade", err)
	}
	if len(enrs) != 0 {
		t.Errorf("FetchEnrollments() = %d records, want 0", len(enrs))
	}
}

func TestAdapter_FetchEnrollments_cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"access_token": "tok"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := newTestAdapter(srv)
	if _, err := a.FetchEnrollments(ctx, validCreds(), []string{"alice@example.com"}); err == nil {
		t.Error("FetchEnrollments() = nil, want context error")
	}
}

func TestAdapter_FetchProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/token", tokenHandler(t))
	mux.HandleFunc("/v1/organizations/org1/learnerActivity", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"elements": []map[string]interface{}{
				{
					"email": "ALICE@example.com", "courseId": "c1",
					"progressRatio": 1.0, "completedAt": "2026-02-01T08:00:00Z",
					"lastActivityAt": "2026-02-01T08:00:00Z", "totalLearningSeconds": 5400,
				},
				{"email": "alice@example.com", "courseId": "c9", "progressRatio": 0.2}, // not a known pair
				{"email": "dave@example.com", "courseId": "c1", "progressRatio": 0.5},  // unknown learner
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	known := []integration.VendorEnrollment{{CourseID: "c1", Email: "alice@example.com"}}
	prgs, err := a.FetchProgress(context.Background(), validCreds(), known)
	if err != nil {
		t.Fatalf("FetchProgress() error = %v", err)
	}
	if len(prgs) != 1 {
		t.Fatalf("FetchProgress() = %d records, want 1", len(prgs))
	}

	prg := prgs[0]
	if prg.Percentage != 100 {
		t.Errorf("Percentage = %v, want 100 (fractional ratio scaled)", prg.Percentage)
	}
	if prg.Status != integration.ProgressCompleted {
		t.Errorf("Status = %v, want completed", prg.Status)
	}
	if !prg.MinutesSpent.Valid || prg.MinutesSpent.Int != 90 {
		t.Errorf("MinutesSpent = %+v, want 90", prg.MinutesSpent)
	}
}

func TestClient_ListProgramEnrollments_pagination(t *testing.T) {
	var starts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/programs/p1/enrollments", func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		starts = append(starts, start)

		if start == "0" {
			elements := make([]map[string]string, pageSize)
			for i := range elements {
				elements[i] = map[string]string{"email": fmt.Sprintf("u%d@x.com", i), "courseId": "c1"}
			}
			writeJSON(w, map[string]interface{}{
				"elements": elements,
				"paging":   map[string]interface{}{"next": "100", "total": 101},
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"elements": []map[string]string{{"email": "last@x.com", "courseId": "c1"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient()
	c.BaseURL = srv.URL
	c.HTTP = srv.Client()

	enrs, err := c.ListProgramEnrollments(context.Background(), "tok", "p1")
	if err != nil {
		t.Fatalf("ListProgramEnrollments() error = %v", err)
	}
	if len(enrs) != pageSize+1 {
		t.Errorf("ListProgramEnrollments() = %d records, want %d", len(enrs), pageSize+1)
	}
	if len(starts) != 2 || starts[0] != "0" || starts[1] != "100" {
		t.Errorf("start offsets = %v, want [0 100]", starts)
	}
}
