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

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id":"c1","state":"CONNECTED","x":1}`))
	require.NoError(t, err)

	assert.Equal(t, "c1", doc.ID)
	assert.Contains(t, doc.Fields, "state")
	assert.Contains(t, doc.Fields, "x")
}

func TestParseDocumentRejectsMissingID(t *testing.T) {
	_, err := ParseDocument([]byte(`{"state":"CONNECTED"}`))
	require.ErrorIs(t, err, errMissingEntityID)

	_, err = ParseDocument([]byte(`{"id":""}`))
	require.ErrorIs(t, err, errMissingEntityID)
}

func TestDocumentMergeIsShallow(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id":"c1","x":1,"y":2}`))
	require.NoError(t, err)

	var patch map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"y":9}`), &patch))

	doc.Merge(patch)

	var view struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	require.NoError(t, doc.Decode(&view))

	assert.Equal(t, 1, view.X)
	assert.Equal(t, 9, view.Y)
}

func TestDocumentMergeIgnoresIDField(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id":"c1","x":1}`))
	require.NoError(t, err)

	var patch map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"id":"evil","x":2}`), &patch))

	doc.Merge(patch)

	assert.Equal(t, "c1", doc.ID)
	assert.JSONEq(t, `"c1"`, string(doc.Fields["id"]))
}

func TestDocumentCloneIsIndependent(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"id":"c1","x":1}`))
	require.NoError(t, err)

	clone := doc.Clone()

	var patch map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"x":2}`), &patch))
	doc.Merge(patch)

	var view struct {
		X int `json:"x"`
	}
	require.NoError(t, clone.Decode(&view))
	assert.Equal(t, 1, view.X)
}

func TestConnectionDecode(t *testing.T) {
	doc, err := ParseDocument([]byte(`{
		"id": "c1",
		"state": "CONNECTING",
		"parameters": {
			"displayName": "Studio Feed",
			"connectionType": "MULTI_VIEW",
			"sourceId": "ep-1",
			"multiView": {"layout": "PRESENTER_MAIN", "mainSource": "Cam 1"},
			"videoSources": ["Cam 1", {"name": "Cam 2"}]
		}
	}`))
	require.NoError(t, err)

	var conn Connection
	require.NoError(t, doc.Decode(&conn))

	assert.Equal(t, ConnectionConnecting, conn.State)
	assert.Equal(t, "Studio Feed", conn.Parameters.DisplayName)
	assert.Equal(t, "ep-1", conn.Parameters.SourceID)
	require.NotNil(t, conn.Parameters.MultiView)
	assert.Equal(t, "PRESENTER_MAIN", conn.Parameters.MultiView.Layout)

	// Both wire shapes of a video source decode to a name.
	require.Len(t, conn.Parameters.VideoSources, 2)
	assert.Equal(t, "Cam 1", conn.Parameters.VideoSources[0].Name)
	assert.Equal(t, "Cam 2", conn.Parameters.VideoSources[1].Name)
}

func TestEndpointDecode(t *testing.T) {
	doc, err := ParseDocument([]byte(`{
		"id": "ep-1",
		"name": "Stage Left",
		"online": true,
		"audioDevices": [{"value": "Mic 1"}, {"value": "Mic 2"}]
	}`))
	require.NoError(t, err)

	var ep Endpoint
	require.NoError(t, doc.Decode(&ep))

	assert.True(t, ep.Online)
	require.Len(t, ep.AudioDevices, 2)
	assert.Equal(t, "Mic 1", ep.AudioDevices[0].Value)
}
