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

package sync

import (
	"context"
	"encoding/json"
	"time"
)

// RESTClient dispatches authenticated calls against the cloud REST
// surface. A nil payload with a nil error means "no update" (soft
// failure); only credential rejection is a hard error.
type RESTClient interface {
	Do(ctx context.Context, resource, method string, body interface{}) ([]byte, error)
}

// TokenSource owns the primary API credential and the push session token
// exchanged from it.
type TokenSource interface {
	FetchPrimary(ctx context.Context) error
	EnsureFresh(ctx context.Context) (string, error)
	CompanyID() string
	FetchPush(ctx context.Context) (string, error)
}

// PushSession is the long-lived push-channel connection. Subscribe is
// idempotent per channel; Close terminates every delivery queue.
type PushSession interface {
	Start(ctx context.Context) error
	Subscribe(channel string) (<-chan json.RawMessage, error)
	Invoke(ctx context.Context, event string, payload interface{}) (json.RawMessage, error)
	Close()
}

// Clock abstracts time for the re-auth ticker (mockable in tests).
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker is the minimal ticker surface used by the service.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}
