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

// Package models holds the shared data model for the cloud fleet adapter.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errMissingEntityID = errors.New("entity has no id field")

// Document is one entity as held in a collection: a stable unique id plus
// the raw top-level fields as delivered by the cloud. Updates arrive as
// shallow merges of top-level fields, so the fields stay in wire form and
// are decoded into typed views only when a reader needs them.
type Document struct {
	ID     string
	Fields map[string]json.RawMessage
}

// ParseDocument decodes a single entity object from the wire.
func ParseDocument(data []byte) (*Document, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("entity object: %w", err)
	}

	raw, ok := fields["id"]
	if !ok {
		return nil, errMissingEntityID
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("entity id: %w", err)
	}

	if id == "" {
		return nil, errMissingEntityID
	}

	return &Document{ID: id, Fields: fields}, nil
}

// ParseDocuments decodes an entity array, as carried by an init envelope.
func ParseDocuments(data []byte) ([]*Document, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("entity array: %w", err)
	}

	docs := make([]*Document, 0, len(items))

	for _, item := range items {
		doc, err := ParseDocument(item)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// Merge applies a shallow top-level field merge. The id field is never
// overwritten: an update cannot move an entity to a new id.
func (d *Document) Merge(patch map[string]json.RawMessage) {
	for key, value := range patch {
		if key == "id" {
			continue
		}

		d.Fields[key] = value
	}
}

// Decode unmarshals the document into a typed view such as Connection.
func (d *Document) Decode(v interface{}) error {
	data, err := json.Marshal(d.Fields)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// Clone returns a copy whose field map is independent of the original.
// The raw values themselves are treated as immutable.
func (d *Document) Clone() *Document {
	fields := make(map[string]json.RawMessage, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}

	return &Document{ID: d.ID, Fields: fields}
}

// ConnectionState is the lifecycle state reported for a connection.
type ConnectionState string

const (
	ConnectionConnected  ConnectionState = "CONNECTED"
	ConnectionConnecting ConnectionState = "CONNECTING"
	ConnectionFailed     ConnectionState = "FAILED"
	ConnectionStopped    ConnectionState = "STOPPED"
)

// Connection is the typed view of a connection document.
type Connection struct {
	ID         string               `json:"id"`
	State      ConnectionState      `json:"state"`
	Parameters ConnectionParameters `json:"parameters"`
}

type ConnectionParameters struct {
	DisplayName    string        `json:"displayName"`
	ConnectionType string        `json:"connectionType"`
	SourceID       string        `json:"sourceId"`
	MultiView      *MultiView    `json:"multiView"`
	VideoSources   []VideoSource `json:"videoSources"`
}

// MultiView describes a multi-view layout. Presenter-style layouts carry
// a layout name prefixed with "PRESENTER_".
type MultiView struct {
	Layout     string `json:"layout"`
	MainSource string `json:"mainSource"`
}

// VideoSource accepts both wire shapes: a bare string or {"name": ...}.
type VideoSource struct {
	Name string `json:"name"`
}

func (v *VideoSource) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		v.Name = name
		return nil
	}

	var obj struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	v.Name = obj.Name

	return nil
}

// Endpoint is the typed view of an endpoint document.
type Endpoint struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Online       bool          `json:"online"`
	AudioDevices []AudioDevice `json:"audioDevices"`
}

type AudioDevice struct {
	Value string `json:"value"`
}

// Recorder is the typed view of a recorder document.
type Recorder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Recording is the typed view of a recording document. RecorderID is a
// weak reference resolved against the recorders collection at read time.
type Recording struct {
	ID         string              `json:"id"`
	RecorderID string              `json:"recorderId"`
	IsStarted  bool                `json:"isStarted"`
	Parameters RecordingParameters `json:"parameters"`
}

type RecordingParameters struct {
	Input string `json:"input"`
}

// Choice is one entry of a derived dropdown list.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PresenterLayout is the derived presenter layout mode. A fullscreen
// selection classifies as "main" when the reported source matches the
// connection's configured main source, "video" otherwise.
type PresenterLayout string

const (
	LayoutFullscreenMain  PresenterLayout = "FULLSCREEN_MAIN"
	LayoutFullscreenVideo PresenterLayout = "FULLSCREEN_VIDEO"
)

// PresenterState is the derived per-connection presenter layout state,
// fed by the connection's dedicated presenter channel.
type PresenterState struct {
	Layout           PresenterLayout
	AudioDevice      string
	FullscreenSource string
	MixedSource      string
}

// ChangeScope names what a change notification covers: ScopeFull after a
// structural change, or a single variable key after a field-level update.
type ChangeScope string

const ScopeFull ChangeScope = "full"
