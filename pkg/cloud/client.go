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

// Package cloud is the outbound REST boundary of the adapter: credential
// lifecycle and authenticated request dispatch against the cloud API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carverauto/cloudsync/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// HTTPClient abstracts the HTTP transport for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client dispatches authenticated request/response calls against the
// cloud REST surface.
//
// Transient failures are deliberately soft: a transport error or non-2xx
// response is logged and reported as absent data (nil payload, nil
// error). Only credential rejection surfaces as a hard error, via the
// token manager. Callers treat absent data as "no update".
type Client struct {
	baseURL string
	http    HTTPClient
	tokens  *TokenManager
	logger  logger.Logger
}

// NewClient creates a REST client. A nil httpClient gets a default client
// wrapped in a circuit breaker.
func NewClient(baseURL string, tokens *TokenManager, httpClient HTTPClient, log logger.Logger) *Client {
	if httpClient == nil {
		httpClient = NewBreakerClient(&http.Client{Timeout: defaultTimeout}, DefaultBreakerConfig(), log)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  log.WithComponent("rest"),
	}
}

// Do issues one authenticated call against the named resource. body is
// JSON-serialized when non-nil; GET requests carry no body. The returned
// payload is nil for soft failures.
func (c *Client) Do(ctx context.Context, resource, method string, body interface{}) ([]byte, error) {
	token, err := c.tokens.EnsureFresh(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader

	if body != nil && method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		reader = bytes.NewReader(data)
	}

	if reader == nil {
		reader = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/"+resource, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("resource", resource).Msg("Request failed")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("resource", resource).
			Str("method", method).
			Msg("Unexpected response status")

		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Debug().Err(err).Str("resource", resource).Msg("Reading response failed")
		return nil, nil
	}

	return data, nil
}
