package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// go test -v --run TestKISApprovalCachesKey
func TestKISApprovalCachesKey(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["grant_type"] != "client_credentials" || body["appkey"] != "AK" || body["secretkey"] != "SK" {
			t.Errorf("unexpected request body: %v", body)
		}
		n := atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]string{
			"approval_key": fmt.Sprintf("key-%d", n),
		})
	}))
	defer srv.Close()

	s := NewKISApproval(srv.URL, "AK", "SK", 2*time.Second, zap.NewNop())

	key, err := s.ApprovalKey(context.Background())
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if key != "key-1" {
		t.Errorf("key = %q, want key-1", key)
	}

	// second call hits the cache, not the endpoint
	key, err = s.ApprovalKey(context.Background())
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if key != "key-1" || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("key = %q after %d calls, want key-1 after 1", key, calls)
	}

	// Renew always goes to the endpoint
	key, err = s.Renew(context.Background())
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if key != "key-2" {
		t.Errorf("renewed key = %q, want key-2", key)
	}
}

// go test -v --run TestKISApprovalErrors
func TestKISApprovalErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	s := NewKISApproval(srv.URL, "AK", "SK", 2*time.Second, zap.NewNop())
	if _, err := s.ApprovalKey(context.Background()); err == nil {
		t.Error("empty approval key should be an error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer bad.Close()

	s = NewKISApproval(bad.URL, "AK", "SK", 2*time.Second, zap.NewNop())
	if _, err := s.ApprovalKey(context.Background()); err == nil {
		t.Error("non-200 response should be an error")
	}
}

// go test -v --run TestKiwoomTokenExpiry
func TestKiwoomTokenExpiry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"token":      fmt.Sprintf("tok-%d", n),
			"expires_in": 3600,
		})
	}))
	defer srv.Close()

	now := time.Now()
	s := NewKiwoomToken(srv.URL, "AK", "SK", 2*time.Second, zap.NewNop())
	s.now = func() time.Time { return now }

	tok, err := s.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("token = %q, want tok-1", tok)
	}

	// within the lifetime the cached token is reused
	now = now.Add(30 * time.Minute)
	tok, _ = s.AccessToken(context.Background())
	if tok != "tok-1" || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("token = %q after %d calls, want cached tok-1", tok, calls)
	}

	// past expiry a fresh token is issued
	now = now.Add(31 * time.Minute)
	tok, _ = s.AccessToken(context.Background())
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2 after expiry", tok)
	}
}
