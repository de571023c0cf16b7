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
	"fmt"
	"regexp"
	"strings"

	"github.com/carverauto/cloudsync/pkg/logger"
	"github.com/carverauto/cloudsync/pkg/models"
)

// presenterLayoutPrefix marks multi-view layouts that carry a presenter
// sub-state (and a dedicated push channel).
const presenterLayoutPrefix = "PRESENTER_"

// Status variable key prefixes. Full recomputes replace every variable
// under a prefix wholesale.
const (
	connectionStatusPrefix = "connection_status_"
	endpointStatusPrefix   = "endpoint_status_"
	recordingStatusPrefix  = "recording_status_"
)

var nonWordPattern = regexp.MustCompile(`\W`)

// sanitizeKey makes an entity name safe for use in a variable key.
func sanitizeKey(name string) string {
	return nonWordPattern.ReplaceAllString(name, "_")
}

// projector derives the UI-facing artifacts (choice lists, status
// variables) from the store. All derivations are deterministic in the
// collection order as currently held; nothing here mutates entities.
type projector struct {
	store  *Store
	logger logger.Logger
}

func newProjector(store *Store, log logger.Logger) *projector {
	return &projector{store: store, logger: log.WithComponent("projector")}
}

// connectionDisplayName resolves a connection's label: explicit display
// name, then a multi-view summary, then the first video source, then the
// raw id.
func connectionDisplayName(conn *models.Connection) string {
	if conn.Parameters.DisplayName != "" {
		return conn.Parameters.DisplayName
	}

	if conn.Parameters.ConnectionType == "MULTI_VIEW" {
		if n := len(conn.Parameters.VideoSources); n > 0 {
			return fmt.Sprintf("MV %d", n)
		}

		return "MV"
	}

	if len(conn.Parameters.VideoSources) > 0 && conn.Parameters.VideoSources[0].Name != "" {
		return conn.Parameters.VideoSources[0].Name
	}

	return conn.ID
}

func connectionStatusText(state models.ConnectionState) string {
	switch state {
	case models.ConnectionConnected:
		return "Connected"
	case models.ConnectionConnecting:
		return "Connecting"
	case models.ConnectionFailed:
		return "Failed"
	case models.ConnectionStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

func endpointStatusText(online bool) string {
	if online {
		return "Connected"
	}

	return "Offline"
}

func recordingStatusText(started bool) string {
	if started {
		return "Recording"
	}

	return "Stopped"
}

func connectionStatusKey(conn *models.Connection) string {
	return connectionStatusPrefix + sanitizeKey(connectionDisplayName(conn))
}

func endpointStatusKey(endpoint *models.Endpoint) string {
	return endpointStatusPrefix + sanitizeKey(endpoint.Name)
}

func recordingStatusKey(recording *models.Recording) string {
	return recordingStatusPrefix + sanitizeKey(recording.Parameters.Input)
}

// isPresenterConnection reports whether the connection's layout carries
// presenter sub-state.
func isPresenterConnection(conn *models.Connection) bool {
	return conn.Parameters.MultiView != nil &&
		strings.HasPrefix(conn.Parameters.MultiView.Layout, presenterLayoutPrefix)
}

// projectConnections rebuilds the connection and presenter choice lists
// and every connection status variable.
func (p *projector) projectConnections() {
	docs := p.store.Snapshot(models.CollectionConnections)
	choices := make([]models.Choice, 0, len(docs))
	presenters := make([]models.Choice, 0)
	statuses := make(map[string]string, len(docs))

	for _, doc := range docs {
		var conn models.Connection

		if err := doc.Decode(&conn); err != nil {
			p.logger.Warn().Err(err).Str("id", doc.ID).Msg("Undecodable connection")
			continue
		}

		conn.ID = doc.ID
		name := connectionDisplayName(&conn)

		choices = append(choices, models.Choice{ID: doc.ID, Label: name})

		if isPresenterConnection(&conn) {
			presenters = append(presenters, models.Choice{ID: doc.ID, Label: name})
		}

		statuses[connectionStatusKey(&conn)] = connectionStatusText(conn.State)
	}

	p.store.setChoices(models.CollectionConnections, choices)
	p.store.setPresenterChoices(presenters)
	p.store.resetVariables(connectionStatusPrefix, statuses)
}

// projectEndpoints rebuilds the endpoint choice list, the audio device
// list aggregated across endpoints, and endpoint status variables.
func (p *projector) projectEndpoints() {
	docs := p.store.Snapshot(models.CollectionEndpoints)
	choices := make([]models.Choice, 0, len(docs))
	audioDevices := make([]models.Choice, 0)
	statuses := make(map[string]string, len(docs))

	for _, doc := range docs {
		var endpoint models.Endpoint

		if err := doc.Decode(&endpoint); err != nil {
			p.logger.Warn().Err(err).Str("id", doc.ID).Msg("Undecodable endpoint")
			continue
		}

		endpoint.ID = doc.ID

		choices = append(choices, models.Choice{ID: doc.ID, Label: endpoint.Name})

		for _, device := range endpoint.AudioDevices {
			audioDevices = append(audioDevices, models.Choice{ID: device.Value, Label: device.Value})
		}

		statuses[endpointStatusKey(&endpoint)] = endpointStatusText(endpoint.Online)
	}

	p.store.setChoices(models.CollectionEndpoints, choices)
	p.store.setAudioDeviceChoices(audioDevices)
	p.store.resetVariables(endpointStatusPrefix, statuses)
}

func (p *projector) projectRecorders() {
	docs := p.store.Snapshot(models.CollectionRecorders)
	choices := make([]models.Choice, 0, len(docs))

	for _, doc := range docs {
		var recorder models.Recorder

		if err := doc.Decode(&recorder); err != nil {
			p.logger.Warn().Err(err).Str("id", doc.ID).Msg("Undecodable recorder")
			continue
		}

		choices = append(choices, models.Choice{ID: doc.ID, Label: recorder.Name})
	}

	p.store.setChoices(models.CollectionRecorders, choices)
}

// projectRecordings rebuilds recording choices and status variables.
// A recording label is prefixed with its recorder's name when that
// recorder is present; with recorders not yet loaded the prefix is
// omitted and restored by the recompute that follows their arrival.
func (p *projector) projectRecordings() {
	docs := p.store.Snapshot(models.CollectionRecordings)
	choices := make([]models.Choice, 0, len(docs))
	statuses := make(map[string]string, len(docs))

	for _, doc := range docs {
		var recording models.Recording

		if err := doc.Decode(&recording); err != nil {
			p.logger.Warn().Err(err).Str("id", doc.ID).Msg("Undecodable recording")
			continue
		}

		recording.ID = doc.ID
		label := recording.Parameters.Input

		if recorderDoc := p.store.find(models.CollectionRecorders, recording.RecorderID); recorderDoc != nil {
			var recorder models.Recorder

			if err := recorderDoc.Decode(&recorder); err == nil && recorder.Name != "" {
				label = recorder.Name + "-" + label
			}
		}

		choices = append(choices, models.Choice{ID: doc.ID, Label: label})

		statuses[recordingStatusKey(&recording)] = recordingStatusText(recording.IsStarted)
	}

	p.store.setChoices(models.CollectionRecordings, choices)
	p.store.resetVariables(recordingStatusPrefix, statuses)
}

// refreshEntityStatus recomputes only the status variable of a single
// entity after a field-level update and returns the affected variable
// key, or "" when the document cannot be decoded.
func (p *projector) refreshEntityStatus(col models.Collection, doc *models.Document) string {
	switch col {
	case models.CollectionConnections:
		var conn models.Connection

		if err := doc.Decode(&conn); err != nil {
			return ""
		}

		conn.ID = doc.ID
		key := connectionStatusKey(&conn)
		p.store.setVariable(key, connectionStatusText(conn.State))

		return key

	case models.CollectionEndpoints:
		var endpoint models.Endpoint

		if err := doc.Decode(&endpoint); err != nil {
			return ""
		}

		endpoint.ID = doc.ID
		key := endpointStatusKey(&endpoint)
		p.store.setVariable(key, endpointStatusText(endpoint.Online))

		return key

	case models.CollectionRecordings:
		var recording models.Recording

		if err := doc.Decode(&recording); err != nil {
			return ""
		}

		recording.ID = doc.ID
		key := recordingStatusKey(&recording)
		p.store.setVariable(key, recordingStatusText(recording.IsStarted))

		return key

	case models.CollectionRecorders:
		// Recorder names only feed labels; value updates have no status
		// variable of their own.
		return ""

	default:
		return ""
	}
}
