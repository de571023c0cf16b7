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
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/cloudsync/pkg/logger"
	"github.com/carverauto/cloudsync/pkg/models"
)

const (
	defaultReauthInterval = 24 * time.Hour
	defaultPushPath       = "/socketcluster/"
)

var (
	errMissingAPIURL   = errors.New("api_url is required")
	errMissingAPIToken = errors.New("api_token is required")
)

type Config struct {
	APIURL         string          `json:"api_url"`         // e.g. https://fleet.example.com
	APIToken       string          `json:"api_token"`       // operator-supplied static token
	PushURL        string          `json:"push_url"`        // derived from api_url when empty
	ReauthInterval models.Duration `json:"reauth_interval"` // primary token refresh cadence
	Logger         *logger.Config  `json:"logger"`
}

func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errMissingAPIURL
	}

	if c.APIToken == "" {
		return errMissingAPIToken
	}

	if c.PushURL == "" {
		pushURL, err := derivePushURL(c.APIURL)
		if err != nil {
			return err
		}

		c.PushURL = pushURL
	}

	if time.Duration(c.ReauthInterval) == 0 {
		c.ReauthInterval = models.Duration(defaultReauthInterval)
	}

	return nil
}

// derivePushURL maps the REST base URL onto the websocket endpoint.
func derivePushURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("api_url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("api_url: unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + defaultPushPath

	return u.String(), nil
}
