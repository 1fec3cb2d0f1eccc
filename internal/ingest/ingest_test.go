package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestCreateImportJob(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/org/import/s3" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"id":"job-42"}`))
	}))
	defer srv.Close()

	client := NewJobClient(srv.URL+"/org/", "connector-1", "s3cr3t")
	scheduled := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	job := NewImportJob("https://bucket/part-000001.json", "Import from hull-sql connector-1", "imp-1", "users", 1, 120, false, scheduled)

	id, err := client.CreateImportJob(context.Background(), job)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "job-42" {
		t.Errorf("expected job-42, got %s", id)
	}

	checks := map[string]any{
		"url":         "https://bucket/part-000001.json",
		"format":      "json",
		"notify":      true,
		"emit_event":  false,
		"overwrite":   false,
		"import_id":   "imp-1",
		"part_number": float64(1),
		"size":        float64(120),
		"type":        "users",
		"schedule_at": "2024-03-01T12:00:00Z",
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}

	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("missing bearer token: %q", auth)
	}
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(*jwt.Token) (any, error) {
		return []byte("s3cr3t"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims.Issuer != "connector-1" {
		t.Errorf("unexpected issuer %q", claims.Issuer)
	}
}

func TestCreateImportJobRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer srv.Close()

	client := NewJobClient(srv.URL, "c", "s", WithRetries(3))
	id, err := client.CreateImportJob(context.Background(), ImportJob{PartNumber: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "job-1" || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected success on third call, got id=%s calls=%d", id, calls)
	}
}

func TestCreateImportJobClientErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewJobClient(srv.URL, "c", "s")
	_, err := client.CreateImportJob(context.Background(), ImportJob{PartNumber: 7})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("4xx should not be retried, got %d calls", calls)
	}
}

func TestConnectorTokenRequiresSecret(t *testing.T) {
	if _, err := (ConnectorToken{ConnectorID: "c"}).Sign(); err == nil {
		t.Error("expected error without secret")
	}
}

func TestConnectorTokenExpiry(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := ConnectorToken{ConnectorID: "c", Secret: "k", TTL: time.Minute, now: func() time.Time { return issued }}
	signed, err := tok.Sign()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(signed, claims); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(issued.Add(time.Minute)) {
		t.Errorf("unexpected expiry %s", claims.ExpiresAt.Time)
	}
}

func TestCreateImportJobGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewJobClient(srv.URL, "c", "s", WithRetries(2))
	_, err := client.CreateImportJob(context.Background(), ImportJob{PartNumber: 2})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || !httpErr.IsRateLimited() {
		t.Fatalf("expected 429 HTTPError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 1 call plus 2 retries, got %d", calls)
	}
}

func TestRetryDelay(t *testing.T) {
	if d := retryDelay(2, nil); d != 400*time.Millisecond {
		t.Errorf("expected exponential backoff, got %s", d)
	}
	resp := &Response{Headers: http.Header{"Retry-After": []string{"7"}}}
	if d := retryDelay(0, resp); d != 7*time.Second {
		t.Errorf("expected Retry-After delay, got %s", d)
	}
	resp.Headers.Set("Retry-After", "3600")
	if d := retryDelay(0, resp); d != time.Minute {
		t.Errorf("expected capped delay, got %s", d)
	}
}
