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
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cloudsync/pkg/logger"
)

type stubHTTPClient struct {
	responses []stubResponse
	calls     int
}

type stubResponse struct {
	status int
	err    error
}

func (s *stubHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++

	if resp.err != nil {
		return nil, resp.err
	}

	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func breakerRequest(t *testing.T) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, "http://cloud.test/api/connections", http.NoBody)
	require.NoError(t, err)

	return req
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubHTTPClient{responses: []stubResponse{{err: errors.New("dial refused")}}}
	breaker := NewBreakerClient(stub, BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	}, logger.NewTestLogger())

	req := breakerRequest(t)

	for i := 0; i < 3; i++ {
		_, err := breaker.Do(req)
		require.Error(t, err)
	}

	assert.Equal(t, BreakerOpen, breaker.State())

	_, err := breaker.Do(req)
	require.ErrorIs(t, err, errCircuitOpen)
	assert.Equal(t, 3, stub.calls)
}

func TestBreakerCountsServerErrors(t *testing.T) {
	stub := &stubHTTPClient{responses: []stubResponse{{status: http.StatusBadGateway}}}
	breaker := NewBreakerClient(stub, BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	}, logger.NewTestLogger())

	req := breakerRequest(t)

	for i := 0; i < 2; i++ {
		resp, err := breaker.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	stub := &stubHTTPClient{responses: []stubResponse{{status: http.StatusNotFound}}}
	breaker := NewBreakerClient(stub, BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	}, logger.NewTestLogger())

	req := breakerRequest(t)

	for i := 0; i < 5; i++ {
		resp, err := breaker.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	stub := &stubHTTPClient{responses: []stubResponse{
		{err: errors.New("dial refused")},
		{status: http.StatusOK},
	}}
	breaker := NewBreakerClient(stub, BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         0,
	}, logger.NewTestLogger())

	req := breakerRequest(t)

	_, err := breaker.Do(req)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, breaker.State())

	// Zero cooldown: the next request probes immediately.
	resp, err := breaker.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, BreakerClosed, breaker.State())
}
