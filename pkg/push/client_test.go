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

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/cloudsync/pkg/cloud"
	"github.com/carverauto/cloudsync/pkg/logger"
)

var testUpgrader = websocket.Upgrader{}

// newPushServer runs handler once per websocket connection.
func newPushServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handler(conn)
	}))
	t.Cleanup(server.Close)

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// readClientFrame reads the next JSON frame, skipping raw keepalives.
func readClientFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		if string(raw) == pingMessage || string(raw) == pongMessage {
			continue
		}

		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))

		return f
	}
}

// acceptSession consumes the handshake and authenticate frames and
// returns the supplied token.
func acceptSession(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	hs := readClientFrame(t, conn)
	require.Equal(t, eventHandshake, hs.Event)

	var hsData handshakeData
	require.NoError(t, json.Unmarshal(hs.Data, &hsData))
	require.NotEmpty(t, hsData.ClientID)

	auth := readClientFrame(t, conn)
	require.Equal(t, eventAuthenticate, auth.Event)

	var authData authenticateData
	require.NoError(t, json.Unmarshal(auth.Data, &authData))

	return authData.Token
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) last() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.statuses) == 0 {
		return StatusDisconnected
	}

	return r.statuses[len(r.statuses)-1]
}

func staticAuth(token string) AuthProvider {
	return func(_ context.Context) (string, error) {
		return token, nil
	}
}

func newTestPushClient(t *testing.T, cfg Config) *Client {
	t.Helper()

	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Millisecond
	}

	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 50 * time.Millisecond
	}

	client, err := NewClient(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestClientConnectsAndDelivers(t *testing.T) {
	delivered := make(chan struct{})

	server := newPushServer(t, func(conn *websocket.Conn) {
		token := acceptSession(t, conn)
		assert.Equal(t, "push-token", token)

		sub := readClientFrame(t, conn)
		require.Equal(t, eventSubscribe, sub.Event)

		var subData subscribeData
		require.NoError(t, json.Unmarshal(sub.Data, &subData))
		assert.Equal(t, "/connections/company-1", subData.Channel)

		require.NoError(t, conn.WriteJSON(frame{
			Event:   eventPublish,
			Channel: "/connections/company-1",
			Data:    json.RawMessage(`{"msg":"init","data":[]}`),
		}))

		<-delivered
	})

	recorder := &statusRecorder{}
	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: staticAuth("push-token"),
		OnStatus:     recorder.record,
	})

	ch, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"msg":"init","data":[]}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no channel delivery")
	}

	close(delivered)
	assert.Equal(t, StatusConnected, recorder.last())
}

func TestClientAnswersKeepalive(t *testing.T) {
	gotPong := make(chan struct{})

	server := newPushServer(t, func(conn *websocket.Conn) {
		acceptSession(t, conn)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(pingMessage)))

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, pongMessage, string(raw))

		close(gotPong)
	})

	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: staticAuth("push-token"),
	})
	require.NoError(t, client.Start(context.Background()))

	select {
	case <-gotPong:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestClientInvoke(t *testing.T) {
	server := newPushServer(t, func(conn *websocket.Conn) {
		acceptSession(t, conn)

		call := readClientFrame(t, conn)
		require.Equal(t, "setFullscreen", call.Event)
		require.NotZero(t, call.CID)

		require.NoError(t, conn.WriteJSON(frame{
			RID:  call.CID,
			Data: json.RawMessage(`{"ok":true}`),
		}))

		// Second call gets an error reply.
		call = readClientFrame(t, conn)
		require.NoError(t, conn.WriteJSON(frame{
			RID:   call.CID,
			Error: &FrameError{Code: 400, Message: "bad source"},
		}))

		time.Sleep(100 * time.Millisecond)
	})

	connected := make(chan struct{})

	var once sync.Once

	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: staticAuth("push-token"),
		OnStatus: func(s Status) {
			if s == StatusConnected {
				once.Do(func() { close(connected) })
			}
		},
	})

	require.NoError(t, client.Start(context.Background()))

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := client.Invoke(ctx, "setFullscreen", map[string]string{"source": "Cam 1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	_, err = client.Invoke(ctx, "setFullscreen", map[string]string{"source": "bogus"})
	require.Error(t, err)
	assert.Equal(t, "bad source", err.Error())
}

func TestClientReconnectReplaysSubscriptions(t *testing.T) {
	var conns atomic.Int32

	secondSubscribed := make(chan struct{})

	server := newPushServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)

		acceptSession(t, conn)

		sub := readClientFrame(t, conn)
		require.Equal(t, eventSubscribe, sub.Event)

		if n == 1 {
			// Drop the first connection right after setup.
			return
		}

		var subData subscribeData
		require.NoError(t, json.Unmarshal(sub.Data, &subData))
		assert.Equal(t, "/connections/company-1", subData.Channel)

		close(secondSubscribed)
		time.Sleep(100 * time.Millisecond)
	})

	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: staticAuth("push-token"),
	})

	ch, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	select {
	case <-secondSubscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not replayed after reconnect")
	}

	// The consumer channel survives the reconnect.
	select {
	case _, open := <-ch:
		assert.True(t, open)
		t.Fatal("unexpected delivery")
	default:
	}
}

func TestClientDeauthenticateRefreshesTokenOnce(t *testing.T) {
	var authCalls atomic.Int32

	provider := func(_ context.Context) (string, error) {
		n := authCalls.Add(1)
		if n == 1 {
			return "token-1", nil
		}

		return "token-2", nil
	}

	reauthed := make(chan struct{})

	server := newPushServer(t, func(conn *websocket.Conn) {
		token := acceptSession(t, conn)
		require.Equal(t, "token-1", token)

		require.NoError(t, conn.WriteJSON(frame{Event: eventDeauthenticate}))

		auth := readClientFrame(t, conn)
		require.Equal(t, eventAuthenticate, auth.Event)

		var authData authenticateData
		require.NoError(t, json.Unmarshal(auth.Data, &authData))
		assert.Equal(t, "token-2", authData.Token)

		close(reauthed)
		time.Sleep(100 * time.Millisecond)
	})

	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: provider,
	})
	require.NoError(t, client.Start(context.Background()))

	select {
	case <-reauthed:
	case <-time.After(2 * time.Second):
		t.Fatal("no re-authentication")
	}

	assert.Equal(t, int32(2), authCalls.Load())
}

func TestClientAuthFailureIsTerminal(t *testing.T) {
	var authCalls atomic.Int32

	provider := func(_ context.Context) (string, error) {
		authCalls.Add(1)
		return "", cloud.ErrAuthFailed
	}

	recorder := &statusRecorder{}
	client := newTestPushClient(t, Config{
		URL:          "ws://127.0.0.1:1/socketcluster/",
		AuthProvider: provider,
		OnStatus:     recorder.record,
	})

	ch, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	// Terminal: the session ends and the consumer channel closes.
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	assert.Equal(t, int32(1), authCalls.Load())
	assert.Equal(t, StatusDisconnected, recorder.last())
}

func TestClientDuplicateClientIsTerminal(t *testing.T) {
	var conns atomic.Int32

	server := newPushServer(t, func(conn *websocket.Conn) {
		conns.Add(1)

		acceptSession(t, conn)

		require.NoError(t, conn.WriteJSON(frame{
			Event: eventDisconnect,
			Data:  json.RawMessage(`{"code":4401,"reason":"duplicate client"}`),
		}))

		time.Sleep(50 * time.Millisecond)
	})

	client := newTestPushClient(t, Config{
		URL:          wsURL(server),
		AuthProvider: staticAuth("push-token"),
	})

	ch, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	// No reconnect after a duplicate-client disconnect.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), conns.Load())
}

func TestClientSubscribeIsIdempotent(t *testing.T) {
	client := newTestPushClient(t, Config{
		URL:          "ws://cloud.test/socketcluster/",
		AuthProvider: staticAuth("push-token"),
	})

	first, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	second, err := client.Subscribe("/connections/company-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{AuthProvider: staticAuth("t")}, logger.NewTestLogger())
	require.ErrorIs(t, err, errMissingURL)

	_, err = NewClient(Config{URL: "ws://cloud.test/socketcluster/"}, logger.NewTestLogger())
	require.ErrorIs(t, err, errMissingAuthProvider)
}
