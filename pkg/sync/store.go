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
	"strings"
	"sync"

	"github.com/carverauto/cloudsync/pkg/models"
)

// Store is the shared mutable state mirrored from the cloud: the entity
// collections, the per-connection presenter map, and the derived view
// artifacts. The service event loop is the only writer; collaborators
// read through the exported snapshot methods.
type Store struct {
	mu sync.RWMutex

	collections map[models.Collection][]*models.Document
	presenters  map[string]*models.PresenterState

	choices            map[models.Collection][]models.Choice
	presenterChoices   []models.Choice
	audioDeviceChoices []models.Choice
	variables          map[string]string
}

func NewStore() *Store {
	return &Store{
		collections: make(map[models.Collection][]*models.Document),
		presenters:  make(map[string]*models.PresenterState),
		choices:     make(map[models.Collection][]models.Choice),
		variables:   make(map[string]string),
	}
}

// Snapshot returns an ordered copy of the named collection. Documents
// are cloned; callers can decode them without racing the writer.
func (s *Store) Snapshot(col models.Collection) []*models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[col]
	out := make([]*models.Document, len(docs))

	for i, doc := range docs {
		out[i] = doc.Clone()
	}

	return out
}

// Choices returns the derived choice list for the named collection.
func (s *Store) Choices(col models.Collection) []models.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Choice(nil), s.choices[col]...)
}

// PresenterChoices lists the presenter-capable connections.
func (s *Store) PresenterChoices() []models.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Choice(nil), s.presenterChoices...)
}

// AudioDeviceChoices lists the audio devices across all endpoints.
func (s *Store) AudioDeviceChoices() []models.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Choice(nil), s.audioDeviceChoices...)
}

// Variable returns a derived status variable by key.
func (s *Store) Variable(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.variables[key]

	return value, ok
}

// Presenter returns a copy of the presenter state for a connection.
func (s *Store) Presenter(connID string) (models.PresenterState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.presenters[connID]
	if !ok {
		return models.PresenterState{}, false
	}

	return *state, true
}

// --- writer side; called only from the service event loop ---

func (s *Store) replaceAll(col models.Collection, docs []*models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections[col] = docs
}

// upsert replaces an existing entity with the same id in place, else
// appends. Applying the same add twice leaves the collection unchanged.
func (s *Store) upsert(col models.Collection, doc *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[col]

	for i, existing := range docs {
		if existing.ID == doc.ID {
			docs[i] = doc
			return
		}
	}

	s.collections[col] = append(docs, doc)
}

// remove deletes the entity with the given id; a miss is a no-op.
func (s *Store) remove(col models.Collection, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[col]

	for i, existing := range docs {
		if existing.ID == id {
			s.collections[col] = append(docs[:i], docs[i+1:]...)
			return true
		}
	}

	return false
}

// merge applies a shallow field patch to the entity with the given id
// and returns it, or nil when the entity is absent.
func (s *Store) merge(col models.Collection, id string, patch map[string]json.RawMessage) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.collections[col] {
		if existing.ID == id {
			existing.Merge(patch)
			return existing
		}
	}

	return nil
}

// find returns a detached copy of the entity with the given id, or nil.
// Callers decode outside the lock, so the live document must never leak.
func (s *Store) find(col models.Collection, id string) *models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.collections[col] {
		if existing.ID == id {
			return existing.Clone()
		}
	}

	return nil
}

// ensurePresenter creates the presenter entry for a connection on first
// use. Entries are never deleted; stale entries are tolerated.
func (s *Store) ensurePresenter(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presenters[connID]; !ok {
		s.presenters[connID] = &models.PresenterState{}
	}
}

func (s *Store) updatePresenter(connID string, fn func(*models.PresenterState)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.presenters[connID]
	if !ok {
		state = &models.PresenterState{}
		s.presenters[connID] = state
	}

	fn(state)
}

func (s *Store) setChoices(col models.Collection, choices []models.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.choices[col] = choices
}

func (s *Store) setPresenterChoices(choices []models.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presenterChoices = choices
}

func (s *Store) setAudioDeviceChoices(choices []models.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audioDeviceChoices = choices
}

func (s *Store) setVariable(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.variables[key] = value
}

// resetVariables replaces every variable under the given key prefix, so
// entities that left a collection (or changed display name) do not leave
// stale status keys behind.
func (s *Store) resetVariables(prefix string, vars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.variables {
		if strings.HasPrefix(key, prefix) {
			delete(s.variables, key)
		}
	}

	for key, value := range vars {
		s.variables[key] = value
	}
}
