package udemy

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
	return integration.Credentials{KeyAccountID: "acc1", KeyAPIToken: "tok"}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func requireBearer(t *testing.T, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", got)
	}
}

func TestAdapter_ValidateCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/organizations/acc1/users/", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		writeJSON(w, map[string]interface{}{"results": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	if !a.ValidateCredentials(context.Background(), validCreds()) {
		t.Error("ValidateCredentials() = false, want true for accepted credentials")
	}
	if a.ValidateCredentials(context.Background(), integration.Credentials{KeyAccountID: "acc1"}) {
		t.Error("ValidateCredentials() = true, want false for missing keys")
	}
}

func TestAdapter_ValidateCredentials_rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	if a.ValidateCredentials(context.Background(), validCreds()) {
		t.Error("ValidateCredentials() = true, want false for rejected credentials")
	}
}

func TestAdapter_FetchEnrollments_missingCreds(t *testing.T) {
	a := New(core.NewNopLogger())

	enrs, err := a.FetchEnrollments(context.Background(), integration.Credentials{KeyAccountID: "acc1"}, []string{"a@x.com"})
	if err != nil {
		t.Fatalf("FetchEnrollments() error = %v", err)
	}
	if len(enrs) != 0 {
		t.Errorf("FetchEnrollments() = %d records, want 0 for missing credentials", len(enrs))
	}
}

func TestAdapter_FetchEnrollments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/organizations/acc1/users/", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)

		// a full first page forces the next link to be followed
		if r.URL.Query().Get("page") == "1" {
			results := make([]map[string]string, pageSize)
			for i := range results {
				results[i] = map[string]string{"email": fmt.Sprintf("u%d@x.com", i)}
			}
			writeJSON(w, map[string]interface{}{
				"count":   pageSize + 2,
				"next":    fmt.Sprintf("http://%s/organizations/acc1/users/?page=2&page_size=%d", r.Host, pageSize),
				"results": results,
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"count": pageSize + 2,
			"results": []map[string]string{
				{"email": "Alice@Example.com"},
				{"email": "dave@example.com"}, // not on the roster
			},
		})
	})
	mux.HandleFunc("/organizations/acc1/analytics/user-course-activity/", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)

		switch r.URL.Query().Get("user_email") {
		case "alice@example.com":
			writeJSON(w, map[string]interface{}{
				"count": 1,
				"results": []map[string]interface{}{
					{
						"course_id": 42, "course_title": "Go Basics",
						"completion_ratio": 0.5, "enrollment_date": "2026-01-10",
					},
				},
			})
		case "u5@x.com":
			http.Error(w, "nope", http.StatusNotFound) // one failing user must not abort the fetch
		default:
			writeJSON(w, map[string]interface{}{"count": 0, "results": []map[string]interface{}{}})
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	enrs, err := a.FetchEnrollments(context.Background(), validCreds(), []string{"ALICE@EXAMPLE.COM", "u5@x.com", "u7@x.com"})
	if err != nil {
		t.Fatalf("FetchEnrollments() error = %v", err)
	}
	if len(enrs) != 1 {
		t.Fatalf("FetchEnrollments() = %d records, want 1", len(enrs))
	}
	if enrs[0].CourseID != "42" || enrs[0].CourseTitle != "Go Basics" {
		t.Errorf("FetchEnrollments()[0] = %+v", enrs[0])
	}
	if !enrs[0].EnrolledAt.Valid {
		t.Error("EnrolledAt must parse the date-only layout")
	}
}

func TestAdapter_FetchEnrollments_userListFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
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

func TestAdapter_FetchProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/organizations/acc1/analytics/user-course-activity/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"count": 2,
			"results": []map[string]interface{}{
				{
					"course_id": 42, "course_title": "Go Basics",
					"completion_ratio": 1.0, "completion_date": "2026-02-01",
					"last_access_date": "2026-02-01", "num_video_consumed_minutes": 75.4,
				},
				{"course_id": 99, "completion_ratio": 0.1}, // not a known pair
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(srv)
	known := []integration.VendorEnrollment{{CourseID: "42", Email: "Alice@Example.com"}}
	prgs, err := a.FetchProgress(context.Background(), validCreds(), known)
	if err != nil {
		t.Fatalf("FetchProgress() error = %v", err)
	}
	if len(prgs) != 1 {
		t.Fatalf("FetchProgress() = %d records, want 1", len(prgs))
	}

	prg := prgs[0]
	if prg.Percentage != 100 {
		t.Errorf("Percentage = %v, want 100 (completion_ratio scaled)", prg.Percentage)
	}
	if prg.Status != integration.ProgressCompleted {
		t.Errorf("Status = %v, want completed", prg.Status)
	}
	if !prg.MinutesSpent.Valid || prg.MinutesSpent.Int != 75 {
		t.Errorf("MinutesSpent = %+v, want 75", prg.MinutesSpent)
	}
}
