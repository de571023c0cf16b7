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
	"encoding/json"

	"github.com/carverauto/cloudsync/pkg/models"
)

// setupPresenters scans the connections collection after every structural
// change and opens a presenter sub-session for each connection running a
// presenter-style layout. Subscriptions are keyed by endpoint and
// connection id, so a connection seen again is never subscribed twice.
func (s *Service) setupPresenters() {
	for _, doc := range s.store.Snapshot(models.CollectionConnections) {
		var conn models.Connection
		if err := doc.Decode(&conn); err != nil {
			s.logger.Warn().Err(err).Str("connection_id", doc.ID).Msg("Undecodable connection document")
			continue
		}

		conn.ID = doc.ID

		if !isPresenterConnection(&conn) {
			continue
		}

		s.store.ensurePresenter(conn.ID)

		endpointID := conn.Parameters.SourceID
		key := endpointID + "/" + conn.ID

		s.mu.Lock()
		already := s.presenterSubs[key]
		if !already {
			s.presenterSubs[key] = true
		}
		s.mu.Unlock()

		if already {
			continue
		}

		channel := "/presenter/" + endpointID + "/" + conn.ID

		ch, err := s.session.Subscribe(channel)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Msg("Presenter subscribe failed")

			s.mu.Lock()
			delete(s.presenterSubs, key)
			s.mu.Unlock()

			continue
		}

		s.logger.Info().
			Str("connection_id", conn.ID).
			Str("endpoint_id", endpointID).
			Msg("Presenter session opened")

		s.consumePresenter(conn.ID, ch)
	}
}

// consumePresenter forwards one presenter channel into the event loop.
func (s *Service) consumePresenter(connID string, ch <-chan json.RawMessage) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			select {
			case <-s.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				select {
				case s.events <- loopEvent{kind: eventPresenter, connID: connID, data: msg}:
				case <-s.ctx.Done():
					return
				}
			}
		}
	}()
}

// applyPresenterEvent folds one presenter channel message into the
// connection's presenter state. Each event type touches exactly one
// aspect of the layout, so the notification scope is a single key.
func (s *Service) applyPresenterEvent(connID string, raw json.RawMessage) {
	ev, err := models.ParsePresenterEvent(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("connection_id", connID).Msg("Malformed presenter message")
		return
	}

	switch ev.Type {
	case models.PresenterSetFullscreen:
		layout := s.classifyFullscreen(connID, ev.Source)

		s.store.updatePresenter(connID, func(st *models.PresenterState) {
			st.FullscreenSource = ev.Source
			st.Layout = layout
		})

		s.notifyChange(models.ChangeScope("presenter_layout_" + connID))
	case models.PresenterSetMixed:
		s.store.updatePresenter(connID, func(st *models.PresenterState) {
			st.MixedSource = ev.Source
		})

		s.notifyChange(models.ChangeScope("presenter_source_" + connID))
	case models.PresenterSetAudioReceiver:
		s.store.updatePresenter(connID, func(st *models.PresenterState) {
			st.AudioDevice = ev.Device
		})

		s.notifyChange(models.ChangeScope("presenter_audio_device_" + connID))
	default:
		s.logger.Warn().Str("connection_id", connID).Msg("Unknown presenter event type")
	}
}

// classifyFullscreen decides whether a fullscreen selection is the
// connection's configured main source or one of its video sources.
func (s *Service) classifyFullscreen(connID, source string) models.PresenterLayout {
	doc := s.store.find(models.CollectionConnections, connID)
	if doc != nil {
		var conn models.Connection
		if err := doc.Decode(&conn); err == nil &&
			conn.Parameters.MultiView != nil &&
			source == conn.Parameters.MultiView.MainSource {
			return models.LayoutFullscreenMain
		}
	}

	return models.LayoutFullscreenVideo
}
