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
	"errors"
	"net/http"

	"github.com/carverauto/cloudsync/pkg/models"
)

// Command is a fleet control verb issued against connections or
// recordings. Toggle resolves to start or stop from the target's current
// mirrored state.
type Command int

const (
	CommandUnknown Command = iota
	CommandToggle
	CommandStart
	CommandStop
	CommandStartMultiple
	CommandStopMultiple
)

func (c Command) String() string {
	switch c {
	case CommandToggle:
		return "TOGGLE"
	case CommandStart:
		return "START"
	case CommandStop:
		return "STOP"
	case CommandStartMultiple:
		return "START_MULTIPLE"
	case CommandStopMultiple:
		return "STOP_MULTIPLE"
	default:
		return "UNKNOWN"
	}
}

var (
	errNoTargets           = errors.New("sync: action needs at least one target id")
	errUnknownEntity       = errors.New("sync: target entity not found")
	errUnsupportedResource = errors.New("sync: no actions for this collection")
	errUnsupportedCommand  = errors.New("sync: command not valid for this collection")
)

type connectionAction struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

type recordingAction struct {
	ID     string   `json:"id,omitempty"`
	IDs    []string `json:"ids,omitempty"`
	Action string   `json:"action"`
}

// IssueAction posts a control command against connections or recordings.
// The cloud's own change envelope, not the HTTP response, carries the
// resulting state, so a soft REST failure simply leaves the mirror as is.
func (s *Service) IssueAction(ctx context.Context, col models.Collection, ids []string, cmd Command) error {
	if len(ids) == 0 {
		return errNoTargets
	}

	switch col {
	case models.CollectionConnections:
		return s.issueConnectionAction(ctx, ids[0], cmd)
	case models.CollectionRecordings:
		return s.issueRecordingAction(ctx, ids, cmd)
	default:
		return errUnsupportedResource
	}
}

func (s *Service) issueConnectionAction(ctx context.Context, id string, cmd Command) error {
	if cmd == CommandToggle {
		resolved, err := s.resolveToggle(id)
		if err != nil {
			return err
		}

		cmd = resolved
	}

	if cmd != CommandStart && cmd != CommandStop {
		return errUnsupportedCommand
	}

	s.logger.Debug().Str("connection_id", id).Str("action", cmd.String()).Msg("Issuing connection action")

	_, err := s.client.Do(ctx, "connection/action", http.MethodPost, connectionAction{
		ID:     id,
		Action: cmd.String(),
	})

	return err
}

// resolveToggle maps a toggle onto start or stop: a connected target
// stops, anything else starts.
func (s *Service) resolveToggle(id string) (Command, error) {
	doc := s.store.find(models.CollectionConnections, id)
	if doc == nil {
		return CommandUnknown, errUnknownEntity
	}

	var conn models.Connection
	if err := doc.Decode(&conn); err != nil {
		return CommandUnknown, err
	}

	if conn.State == models.ConnectionConnected {
		return CommandStop, nil
	}

	return CommandStart, nil
}

func (s *Service) issueRecordingAction(ctx context.Context, ids []string, cmd Command) error {
	var body recordingAction

	switch cmd {
	case CommandStart, CommandStop:
		body = recordingAction{ID: ids[0], Action: cmd.String()}
	case CommandStartMultiple, CommandStopMultiple:
		body = recordingAction{IDs: ids, Action: cmd.String()}
	default:
		return errUnsupportedCommand
	}

	s.logger.Debug().Str("action", cmd.String()).Int("targets", len(ids)).Msg("Issuing recording action")

	_, err := s.client.Do(ctx, "recording/action", http.MethodPost, body)

	return err
}

type presenterCommand struct {
	SourceID     string `json:"sourceId"`
	ConnectionID string `json:"connectionId"`
	Source       string `json:"source,omitempty"`
	Device       string `json:"device,omitempty"`
}

// IssuePresenterCommand invokes a presenter layout change over the push
// session. The updated layout comes back on the presenter channel; the
// invoke reply is only an acknowledgement.
func (s *Service) IssuePresenterCommand(ctx context.Context, connID string, ev models.PresenterEvent) error {
	doc := s.store.find(models.CollectionConnections, connID)
	if doc == nil {
		return errUnknownEntity
	}

	var conn models.Connection
	if err := doc.Decode(&conn); err != nil {
		return err
	}

	payload := presenterCommand{
		SourceID:     conn.Parameters.SourceID,
		ConnectionID: connID,
	}

	switch ev.Type {
	case models.PresenterSetFullscreen, models.PresenterSetMixed:
		payload.Source = ev.Source
	case models.PresenterSetAudioReceiver:
		payload.Device = ev.Device
	default:
		return errUnsupportedCommand
	}

	s.logger.Debug().
		Str("connection_id", connID).
		Str("event", ev.Type.String()).
		Msg("Issuing presenter command")

	_, err := s.session.Invoke(ctx, ev.Type.String(), payload)

	return err
}
