// Package credentials obtains and caches the per-provider tokens embedded in
// upstream auth and subscription messages.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ApprovalSource yields the websocket approval key the stateless KIS feeds
// embed in every subscribe/unsubscribe message.
type ApprovalSource interface {
	ApprovalKey(ctx context.Context) (string, error)
}

// TokenSource yields the access token the stateful Kiwoom feed sends in its
// explicit LOGIN message.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// KISApproval issues a websocket approval key from the KIS token endpoint and
// caches it until Renew is called. The approval key is distinct from the REST
// access token.
type KISApproval struct {
	url        string
	appKey     string
	appSecret  string
	httpClient *http.Client
	log        *zap.Logger

	mu     sync.Mutex
	cached string
}

func NewKISApproval(url, appKey, appSecret string, timeout time.Duration, log *zap.Logger) *KISApproval {
	return &KISApproval{
		url:        url,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (s *KISApproval) ApprovalKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached, nil
	}
	key, err := s.issue(ctx)
	if err != nil {
		return "", err
	}
	s.cached = key
	return key, nil
}

// Renew drops the cached key and issues a fresh one.
func (s *KISApproval) Renew(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.issue(ctx)
	if err != nil {
		return "", err
	}
	s.cached = key
	return key, nil
}

func (s *KISApproval) issue(ctx context.Context) (string, error) {
	s.log.Info("issuing websocket approval key")

	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.appKey,
		"secretkey":  s.appSecret,
	}
	var resp struct {
		ApprovalKey string `json:"approval_key"`
	}
	if err := postJSON(ctx, s.httpClient, s.url, body, &resp); err != nil {
		return "", fmt.Errorf("issue approval key: %w", err)
	}
	if resp.ApprovalKey == "" {
		return "", fmt.Errorf("issue approval key: empty key in response")
	}
	s.log.Info("websocket approval key issued")
	return resp.ApprovalKey, nil
}

// KiwoomToken issues the Kiwoom access token used by the LOGIN handshake.
type KiwoomToken struct {
	url        string
	appKey     string
	appSecret  string
	httpClient *http.Client
	log        *zap.Logger

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
	now       func() time.Time
}

func NewKiwoomToken(url, appKey, appSecret string, timeout time.Duration, log *zap.Logger) *KiwoomToken {
	return &KiwoomToken{
		url:        url,
		appKey:     appKey,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		now:        time.Now,
	}
}

func (s *KiwoomToken) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && s.now().Before(s.expiresAt) {
		return s.cached, nil
	}

	s.log.Info("issuing kiwoom access token")
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.appKey,
		"secretkey":  s.appSecret,
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := postJSON(ctx, s.httpClient, s.url, body, &resp); err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("issue access token: empty token in response")
	}

	s.cached = resp.Token
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	// renew slightly early so in-flight logins never race expiry
	s.expiresAt = s.now().Add(ttl - time.Minute)
	return resp.Token, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token endpoint error: %s", raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
