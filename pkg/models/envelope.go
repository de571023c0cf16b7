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
	"fmt"
)

// EnvelopeKind is the change kind carried by a push-channel message.
type EnvelopeKind int

const (
	KindUnknown EnvelopeKind = iota
	KindInit
	KindAdd
	KindDelete
	KindUpdate
)

func ParseEnvelopeKind(s string) EnvelopeKind {
	switch s {
	case "init":
		return KindInit
	case "add":
		return KindAdd
	case "delete":
		return KindDelete
	case "update":
		return KindUpdate
	default:
		return KindUnknown
	}
}

func (k EnvelopeKind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindAdd:
		return "add"
	case KindDelete:
		return "delete"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Envelope is one push-channel message: a change kind plus its payload.
// The payload shape depends on the kind: an entity array for init, an
// entity object for add, a bare id string for delete, and an
// {id, data} patch for update.
type Envelope struct {
	Kind EnvelopeKind
	Data json.RawMessage
}

// ParseEnvelope decodes the {msg, data} wire shape of a channel message.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var wire struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("channel message: %w", err)
	}

	return Envelope{Kind: ParseEnvelopeKind(wire.Msg), Data: wire.Data}, nil
}

// DeleteID decodes a delete payload, which is the bare entity id.
func (e Envelope) DeleteID() (string, error) {
	var id string
	if err := json.Unmarshal(e.Data, &id); err != nil {
		return "", fmt.Errorf("delete payload: %w", err)
	}

	return id, nil
}

// UpdatePatch decodes an update payload: the target entity id and the
// top-level fields to merge into it.
func (e Envelope) UpdatePatch() (string, map[string]json.RawMessage, error) {
	var wire struct {
		ID   string                     `json:"id"`
		Data map[string]json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(e.Data, &wire); err != nil {
		return "", nil, fmt.Errorf("update payload: %w", err)
	}

	return wire.ID, wire.Data, nil
}

// Collection names one of the mirrored entity collections.
type Collection int

const (
	CollectionUnknown Collection = iota
	CollectionConnections
	CollectionEndpoints
	CollectionRecorders
	CollectionRecordings
)

func ParseCollection(s string) Collection {
	switch s {
	case "connections":
		return CollectionConnections
	case "endpoints":
		return CollectionEndpoints
	case "recorders":
		return CollectionRecorders
	case "recordings":
		return CollectionRecordings
	default:
		return CollectionUnknown
	}
}

func (c Collection) String() string {
	switch c {
	case CollectionConnections:
		return "connections"
	case CollectionEndpoints:
		return "endpoints"
	case CollectionRecorders:
		return "recorders"
	case CollectionRecordings:
		return "recordings"
	default:
		return "unknown"
	}
}

// Collections returns the fixed channel set subscribed at startup.
func Collections() []Collection {
	return []Collection{
		CollectionConnections,
		CollectionEndpoints,
		CollectionRecorders,
		CollectionRecordings,
	}
}

// PresenterEventType is the message type on a presenter channel.
type PresenterEventType int

const (
	PresenterEventUnknown PresenterEventType = iota
	PresenterSetFullscreen
	PresenterSetMixed
	PresenterSetAudioReceiver
)

func ParsePresenterEventType(s string) PresenterEventType {
	switch s {
	case "setFullscreen":
		return PresenterSetFullscreen
	case "setMixed":
		return PresenterSetMixed
	case "setAudioReceiver":
		return PresenterSetAudioReceiver
	default:
		return PresenterEventUnknown
	}
}

func (t PresenterEventType) String() string {
	switch t {
	case PresenterSetFullscreen:
		return "setFullscreen"
	case PresenterSetMixed:
		return "setMixed"
	case PresenterSetAudioReceiver:
		return "setAudioReceiver"
	default:
		return "unknown"
	}
}

// PresenterEvent is one message from a presenter channel. Source carries
// the selected source name for fullscreen and mixed events; Device carries
// the audio receiver for setAudioReceiver.
type PresenterEvent struct {
	Type   PresenterEventType
	Source string
	Device string
}

// ParsePresenterEvent decodes the {type, data} wire shape of a presenter
// channel message.
func ParsePresenterEvent(raw []byte) (PresenterEvent, error) {
	var wire struct {
		Type string `json:"type"`
		Data struct {
			Source string `json:"source"`
			Device string `json:"device"`
		} `json:"data"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return PresenterEvent{}, fmt.Errorf("presenter message: %w", err)
	}

	return PresenterEvent{
		Type:   ParsePresenterEventType(wire.Type),
		Source: wire.Data.Source,
		Device: wire.Data.Device,
	}, nil
}
