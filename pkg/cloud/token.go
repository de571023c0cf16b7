/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/carverauto/cloudsync/pkg/logger"
)

// Credential is a short-lived bearer token together with its expiry.
type Credential struct {
	Value  string
	Expiry time.Time
}

// Valid reports whether the credential can still be presented at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Value != "" && now.Before(c.Expiry)
}

// tokenClaims are the informational claims embedded in the primary token.
// The signature is never verified; the cloud is the authority on token
// validity and the claims only seed expiry tracking and tenant scoping.
type tokenClaims struct {
	CompanyID string `json:"cid"`
	jwt.RegisteredClaims
}

// TokenManager owns the two bearer credentials used against the cloud:
// the primary API token and the websocket session token exchanged from
// it. Safe for concurrent use.
type TokenManager struct {
	baseURL  string
	apiToken string
	http     HTTPClient
	logger   logger.Logger

	// refreshMu serializes refetches so concurrent EnsureFresh callers
	// trigger at most one round trip per expiry.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	primary   Credential
	push      Credential
	companyID string
}

// NewTokenManager creates a TokenManager. apiToken is the operator-supplied
// static API token used to obtain the primary credential.
func NewTokenManager(baseURL, apiToken string, httpClient HTTPClient, log logger.Logger) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &TokenManager{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		http:     httpClient,
		logger:   log.WithComponent("token"),
	}
}

// FetchPrimary obtains a fresh primary credential using the static API
// token. Every successful fetch overwrites the stored credential.
func (t *TokenManager) FetchPrimary(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/api/refresh-token", http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiToken)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		t.logger.Error().Msg("Invalid API token")
		return ErrAuthFailed
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh: %w: %d", errUnexpectedStatusCode, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return errEmptyToken
	}

	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("token claims: %w", err)
	}

	expiry := time.Time{}
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	t.mu.Lock()
	t.primary = Credential{Value: token, Expiry: expiry}
	t.companyID = claims.CompanyID
	t.mu.Unlock()

	t.logger.Info().
		Str("company_id", claims.CompanyID).
		Time("expiry", expiry).
		Msg("Primary credential refreshed")

	return nil
}

// Valid reports whether the stored primary credential is usable at now.
func (t *TokenManager) Valid(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.primary.Valid(now)
}

// EnsureFresh returns the primary token value, refetching it first when
// the stored credential has expired. An auth rejection propagates as
// ErrAuthFailed and must be treated as terminal by the caller.
func (t *TokenManager) EnsureFresh(ctx context.Context) (string, error) {
	if token, ok := t.primaryIfValid(); ok {
		return token, nil
	}

	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if token, ok := t.primaryIfValid(); ok {
		return token, nil
	}

	if err := t.FetchPrimary(ctx); err != nil {
		return "", err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.primary.Value, nil
}

func (t *TokenManager) primaryIfValid() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.primary.Valid(time.Now()) {
		return t.primary.Value, true
	}

	return "", false
}

// CompanyID returns the tenant identifier decoded from the primary
// credential's claims, or "" before the first successful fetch.
func (t *TokenManager) CompanyID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.companyID
}

// FetchPush exchanges the primary credential for a session-scoped push
// token and stores it. Called on every websocket (re)authentication.
func (t *TokenManager) FetchPush(ctx context.Context) (string, error) {
	primary, err := t.EnsureFresh(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/start-webrtc", strings.NewReader("{}"))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+primary)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("push session token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrAuthFailed
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("push session token: %w: %d", errUnexpectedStatusCode, resp.StatusCode)
	}

	var payload struct {
		JWT string `json:"jwt"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("push session token: %w", err)
	}

	if payload.JWT == "" {
		return "", errEmptyToken
	}

	t.mu.Lock()
	t.push = Credential{Value: payload.JWT}
	t.mu.Unlock()

	t.logger.Debug().Msg("Push session credential exchanged")

	return payload.JWT, nil
}
