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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cloudsync/pkg/models"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := &Config{
		APIURL:   "https://fleet.example.com",
		APIToken: "static-token",
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "wss://fleet.example.com/socketcluster/", cfg.PushURL)
	assert.Equal(t, 24*time.Hour, time.Duration(cfg.ReauthInterval))
}

func TestConfigValidateDerivesWSFromHTTP(t *testing.T) {
	cfg := &Config{
		APIURL:   "http://localhost:8080/base",
		APIToken: "static-token",
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws://localhost:8080/base/socketcluster/", cfg.PushURL)
}

func TestConfigValidateKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		APIURL:         "https://fleet.example.com",
		APIToken:       "static-token",
		PushURL:        "wss://push.example.com/socketcluster/",
		ReauthInterval: models.Duration(time.Hour),
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "wss://push.example.com/socketcluster/", cfg.PushURL)
	assert.Equal(t, time.Hour, time.Duration(cfg.ReauthInterval))
}

func TestConfigValidateRequiredFields(t *testing.T) {
	err := (&Config{APIToken: "t"}).Validate()
	require.ErrorIs(t, err, errMissingAPIURL)

	err = (&Config{APIURL: "https://fleet.example.com"}).Validate()
	require.ErrorIs(t, err, errMissingAPIToken)

	err = (&Config{APIURL: "ftp://fleet.example.com", APIToken: "t"}).Validate()
	require.Error(t, err)
}
