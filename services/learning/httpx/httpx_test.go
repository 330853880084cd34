package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func buildGet(u string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_retriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	body, err := Do(context.Background(), srv.Client(), buildGet(srv.URL), fastRetryConfig(4))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("Do() body = %q, want ok", body)
	}
	if calls != 3 {
		t.Errorf("Do() calls = %d, want 3", calls)
	}
}

func TestDo_doesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), buildGet(srv.URL), fastRetryConfig(4))
	if err == nil {
		t.Fatal("Do() = nil, want error")
	}
	herr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("Do() error type = %T, want *HTTPError", err)
	}
	if herr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", herr.StatusCode)
	}
	if calls != 1 {
		t.Errorf("Do() calls = %d, want 1", calls)
	}
}

func TestDo_exhaustsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), buildGet(srv.URL), fastRetryConfig(3))
	if err == nil {
		t.Fatal("Do() = nil, want error")
	}
	if calls != 3 {
		t.Errorf("Do() calls = %d, want 3", calls)
	}
}

func TestDo_honorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	start := time.Now()
	_, err := Do(context.Background(), srv.Client(), buildGet(srv.URL), RetryConfig{MaxAttempts: 2, BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Second})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	// Retry-After: 1 must override the 30s backoff
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Do() took %v, Retry-After was not honored", elapsed)
	}
	if calls != 2 {
		t.Errorf("Do() calls = %d, want 2", calls)
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"go"}`))
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	if err := DoJSON(context.Background(), srv.Client(), buildGet(srv.URL), &out, fastRetryConfig(1)); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if out.Name != "go" {
		t.Errorf("Name = %q, want go", out.Name)
	}
}

func TestDoJSON_badPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	if err := DoJSON(context.Background(), srv.Client(), buildGet(srv.URL), &out, fastRetryConfig(1)); err == nil {
		t.Error("DoJSON() = nil, want parse error")
	}
}

func TestWait_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}
