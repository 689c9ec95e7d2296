package kaahttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPair is what the token endpoint returns: the short-lived access token
// (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// AccessTokenExpiry extracts the exp claim from the access token without
// verifying the signature; the client only needs expiry for proactive
// refresh, verification belongs to the server.
func (p TokenPair) AccessTokenExpiry() (time.Time, error) {
	if p.AccessToken == "" {
		return time.Time{}, fmt.Errorf("kaahttp: empty access token")
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(p.AccessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("kaahttp: parse access token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("kaahttp: access token has no exp claim")
	}
	return exp.Time, nil
}

// TokenStore holds the credential state shared between the client and the
// refresh gate. Implementations must be safe for concurrent use.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(pair TokenPair)
	SetRefreshing(refreshing bool)
	Refreshing() bool
	Logout()
}

// AuthService exchanges a refresh token for a new token pair.
type AuthService interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// MemoryTokenStore is the default in-process TokenStore.
type MemoryTokenStore struct {
	mu         sync.RWMutex
	pair       TokenPair
	refreshing bool
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken
}

func (s *MemoryTokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken
}

func (s *MemoryTokenStore) SetTokens(pair TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
}

func (s *MemoryTokenStore) SetRefreshing(refreshing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = refreshing
}

func (s *MemoryTokenStore) Refreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshing
}

// Logout clears all stored credentials.
func (s *MemoryTokenStore) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	s.refreshing = false
}

// RefreshEndpoint is an AuthService backed by an HTTP token endpoint. The
// request goes through its own bare http.Client, never through the resilient
// client, so an open circuit or a queued refresh can never deadlock the
// recovery path.
type RefreshEndpoint struct {
	url        string
	httpClient *http.Client
}

// NewRefreshEndpoint creates a refresh service posting to url. A nil
// httpClient falls back to a 10s-timeout default.
func NewRefreshEndpoint(url string, httpClient *http.Client) *RefreshEndpoint {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RefreshEndpoint{url: url, httpClient: httpClient}
}

// URL returns the refresh endpoint address; the interceptor uses it for
// refresh-loop prevention.
func (e *RefreshEndpoint) URL() string {
	return e.url
}

// Refresh exchanges refreshToken for a new pair.
func (e *RefreshEndpoint) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return TokenPair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var pair TokenPair
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&pair); err != nil {
		return TokenPair{}, fmt.Errorf("%w: decode response: %v", ErrRefreshFailed, err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("%w: response missing access token", ErrRefreshFailed)
	}
	return pair, nil
}
