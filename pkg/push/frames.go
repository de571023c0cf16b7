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

package push

import "encoding/json"

// Wire protocol: JSON frames over one websocket. Events prefixed with "#"
// are protocol control; any other event name is a remote procedure call
// correlated by cid/rid. The server keeps subscription state per session,
// so after a reconnect the client replays its channel set.
const (
	eventHandshake      = "#handshake"
	eventAuthenticate   = "#authenticate"
	eventSubscribe      = "#subscribe"
	eventPublish        = "#publish"
	eventDeauthenticate = "#deauthenticate"
	eventSubscribeFail  = "#subscribeFail"
	eventDisconnect     = "#disconnect"

	// Raw keepalive messages exchanged outside the frame format.
	pingMessage = "#1"
	pongMessage = "#2"

	// codeDuplicateClient means another session took over this client id.
	// Reconnecting would only produce a takeover loop, so it is fatal.
	codeDuplicateClient = 4401
)

type frame struct {
	Event   string          `json:"event,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	CID     uint64          `json:"cid,omitempty"`
	RID     uint64          `json:"rid,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is the error object attached to a failed frame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return e.Message
}

type handshakeData struct {
	ClientID string `json:"clientId"`
}

type authenticateData struct {
	Token string `json:"token"`
}

type subscribeData struct {
	Channel string `json:"channel"`
}

type disconnectData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}
