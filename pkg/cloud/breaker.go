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
	"net/http"
	"sync"
	"time"

	"github.com/carverauto/cloudsync/pkg/logger"
)

// BreakerState is the current state of the REST circuit breaker.
type BreakerState int

const (
	// BreakerClosed - requests are allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen - requests are rejected until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen - probing whether the API has recovered.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the circuit breaker around the REST transport.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold closes the circuit from half-open.
	SuccessThreshold int
	// Cooldown is the open-state wait before probing again.
	Cooldown time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// BreakerClient wraps an HTTP client with a circuit breaker so a cloud
// outage does not turn into a stream of doomed requests. Server errors
// (5xx) and transport errors count as failures; 4xx responses do not.
type BreakerClient struct {
	client HTTPClient
	config BreakerConfig
	logger logger.Logger

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	lastFailTime time.Time
}

func NewBreakerClient(client HTTPClient, config BreakerConfig, log logger.Logger) *BreakerClient {
	return &BreakerClient{
		client: client,
		config: config,
		logger: log.WithComponent("breaker"),
	}
}

// Do executes an HTTP request through the circuit breaker.
func (b *BreakerClient) Do(req *http.Request) (*http.Response, error) {
	if !b.allow() {
		return nil, errCircuitOpen
	}

	resp, err := b.client.Do(req)

	failed := err != nil || resp.StatusCode >= http.StatusInternalServerError
	b.record(failed)

	if err != nil {
		return nil, err
	}

	return resp, nil
}

// State returns the current breaker state.
func (b *BreakerClient) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *BreakerClient) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailTime) >= b.config.Cooldown {
			b.state = BreakerHalfOpen
			b.successCount = 0
			b.logger.Info().Msg("Circuit breaker probing after cooldown")

			return true
		}

		return false
	default:
		return false
	}
}

func (b *BreakerClient) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.failureCount++
		b.lastFailTime = time.Now()

		if b.state == BreakerHalfOpen || b.failureCount >= b.config.FailureThreshold {
			if b.state != BreakerOpen {
				b.logger.Warn().
					Int("failures", b.failureCount).
					Msg("Circuit breaker opened")
			}

			b.state = BreakerOpen
		}

		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.failureCount = 0
			b.logger.Info().Msg("Circuit breaker closed after recovery")
		}
	case BreakerClosed:
		b.failureCount = 0
	case BreakerOpen:
		// A success cannot be observed while open; allow() rejects first.
	}
}

var _ HTTPClient = (*BreakerClient)(nil)
