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

// Package push maintains the authenticated websocket push session against
// the cloud: connect/reconnect with backoff, re-authentication, a dynamic
// set of channel subscriptions, and request/response invocation.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carverauto/cloudsync/pkg/cloud"
	"github.com/carverauto/cloudsync/pkg/logger"
)

// Status is the session connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthLost
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthLost:
		return "auth-lost"
	default:
		return "disconnected"
	}
}

// AuthProvider supplies a push session token. The session calls it on
// every connect and once per deauthentication event; it never polls.
type AuthProvider func(ctx context.Context) (string, error)

// Config configures a push session client.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://host/socketcluster/.
	URL string
	// AuthProvider exchanges credentials for a push token.
	AuthProvider AuthProvider
	// OnStatus, when set, receives connection state transitions.
	OnStatus func(Status)

	// Reconnect backoff. Zero values take the defaults below.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// QueueSize is the per-channel delivery buffer. A slow consumer drops
	// messages rather than stalling other channels.
	QueueSize int

	Dialer *websocket.Dialer
}

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 20 * time.Second
	defaultMultiplier   = 1.5
	defaultQueueSize    = 64
)

var (
	errMissingURL          = errors.New("push: URL is required")
	errMissingAuthProvider = errors.New("push: auth provider is required")
	errAlreadyStarted      = errors.New("push: session already started")
	errSessionClosed       = errors.New("push: session closed")
	errNotConnected        = errors.New("push: not connected")
	errConnectionLost      = errors.New("push: connection lost")
	errDuplicateClient     = errors.New("push: disconnected by duplicate client id")
)

type subscription struct {
	channel string
	ch      chan json.RawMessage
}

type invokeReply struct {
	data json.RawMessage
	err  error
}

// Client is one push session. Channel subscriptions survive reconnects:
// the client replays its subscription set after re-handshaking, and
// consumer channels stay open for the life of the session.
type Client struct {
	cfg      Config
	logger   logger.Logger
	clientID string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	nextCID atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	pending map[uint64]chan invokeReply
	started bool
	closed  bool

	writeMu sync.Mutex
}

// NewClient validates the config and creates a session client.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}

	if cfg.AuthProvider == nil {
		return nil, errMissingAuthProvider
	}

	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = defaultInitialDelay
	}

	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = defaultMaxDelay
	}

	if cfg.Multiplier == 0 {
		cfg.Multiplier = defaultMultiplier
	}

	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Client{
		cfg:      cfg,
		logger:   log.WithComponent("push"),
		clientID: uuid.NewString(),
		subs:     make(map[string]*subscription),
		pending:  make(map[uint64]chan invokeReply),
	}, nil
}

// Start begins connecting and keeps the session alive until Close or
// context cancellation. It returns immediately.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errAlreadyStarted
	}

	if c.closed {
		return errSessionClosed
	}

	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)

	go c.run()

	return nil
}

// Close tears the session down: the connection is closed and every
// subscription channel is closed once the consumer loops have drained.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	started := c.started
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		_ = conn.Close()
	}

	if started {
		c.wg.Wait()
	} else {
		c.teardown()
	}
}

// Subscribe registers a channel subscription and returns its delivery
// queue. Subscribing to an already-registered channel returns the
// existing queue; the wire subscribe is never issued twice.
func (c *Client) Subscribe(channel string) (<-chan json.RawMessage, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, errSessionClosed
	}

	if sub, ok := c.subs[channel]; ok {
		c.mu.Unlock()
		return sub.ch, nil
	}

	sub := &subscription{
		channel: channel,
		ch:      make(chan json.RawMessage, c.cfg.QueueSize),
	}
	c.subs[channel] = sub
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		if err := c.writeFrame(frame{
			Event: eventSubscribe,
			Data:  mustMarshal(subscribeData{Channel: channel}),
			CID:   c.nextCID.Add(1),
		}); err != nil {
			// The subscribe rides along with the next reconnect.
			c.logger.Warn().Err(err).Str("channel", channel).Msg("Deferred channel subscribe")
		}
	}

	c.logger.Debug().Str("channel", channel).Msg("Channel registered")

	return sub.ch, nil
}

// Invoke performs a request/response call over the session and returns
// the remote result.
func (c *Client) Invoke(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	cid := c.nextCID.Add(1)
	reply := make(chan invokeReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errSessionClosed
	}

	c.pending[cid] = reply
	c.mu.Unlock()

	if err := c.writeFrame(frame{Event: event, Data: data, CID: cid}); err != nil {
		c.dropPending(cid)
		return nil, err
	}

	select {
	case r := <-reply:
		return r.data, r.err
	case <-ctx.Done():
		c.dropPending(cid)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.dropPending(cid)
		return nil, errSessionClosed
	}
}

// run is the session supervisor: connect, pump, back off, repeat.
func (c *Client) run() {
	defer c.wg.Done()
	defer c.teardown()

	bo := c.newBackOff()

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.notify(StatusConnecting)

		conn, err := c.connect()
		if err != nil {
			if errors.Is(err, cloud.ErrAuthFailed) {
				c.logger.Error().Err(err).Msg("Push authentication rejected")
				c.notify(StatusDisconnected)

				return
			}

			c.logger.Warn().Err(err).Msg("Push connect failed")

			if !c.waitBackoff(bo) {
				return
			}

			continue
		}

		bo = c.newBackOff()
		c.notify(StatusConnected)

		err = c.readLoop(conn)
		c.detachConn(conn)

		if c.ctx.Err() != nil {
			return
		}

		if errors.Is(err, errDuplicateClient) {
			// Another session claimed our client id; reconnecting would
			// just bounce the two sessions off each other.
			c.logger.Error().Msg("Duplicate client id, giving up session")
			c.notify(StatusDisconnected)

			return
		}

		c.logger.Warn().Err(err).Msg("Push connection lost, reconnecting")

		if !c.waitBackoff(bo) {
			return
		}
	}
}

// newBackOff builds a fresh reconnect schedule; a successful connect
// starts the next outage from the initial delay again.
func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialDelay
	bo.MaxInterval = c.cfg.MaxDelay
	bo.Multiplier = c.cfg.Multiplier

	return bo
}

func (c *Client) waitBackoff(bo *backoff.ExponentialBackOff) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(bo.NextBackOff()):
		return true
	}
}

// connect dials, handshakes, authenticates, and replays the registered
// channel set.
func (c *Client) connect() (*websocket.Conn, error) {
	token, err := c.cfg.AuthProvider(c.ctx)
	if err != nil {
		return nil, fmt.Errorf("push auth: %w", err)
	}

	dialer := c.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			c.logger.Warn().Str("status", resp.Status).Msg("Websocket dial rejected")
		}

		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	channels := make([]string, 0, len(c.subs))

	for channel := range c.subs {
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	frames := []frame{
		{Event: eventHandshake, Data: mustMarshal(handshakeData{ClientID: c.clientID}), CID: c.nextCID.Add(1)},
		{Event: eventAuthenticate, Data: mustMarshal(authenticateData{Token: token}), CID: c.nextCID.Add(1)},
	}

	for _, channel := range channels {
		frames = append(frames, frame{
			Event: eventSubscribe,
			Data:  mustMarshal(subscribeData{Channel: channel}),
			CID:   c.nextCID.Add(1),
		})
	}

	for _, f := range frames {
		if err := c.writeFrame(f); err != nil {
			c.detachConn(conn)
			return nil, err
		}
	}

	return conn, nil
}

// readLoop pumps frames from one connection until it fails. All channel
// delivery goes through here, so per-channel ordering matches delivery
// order on the wire.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if string(raw) == pingMessage {
			c.writeRaw(pongMessage)
			continue
		}

		var f frame

		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn().Err(err).Msg("Malformed frame")
			continue
		}

		switch {
		case f.RID != 0:
			c.resolveInvoke(f)
		case f.Event == eventPublish:
			c.deliver(f.Channel, f.Data)
		case f.Event == eventDeauthenticate:
			c.reauthenticate()
		case f.Event == eventSubscribeFail:
			// Usually a permission or tenant-scoping problem, not a
			// transient blip. Left for operator correction; no retry.
			c.logger.Error().Str("channel", f.Channel).Msg("Subscription denied")
		case f.Event == eventDisconnect:
			var d disconnectData

			_ = json.Unmarshal(f.Data, &d)

			if d.Code == codeDuplicateClient {
				return errDuplicateClient
			}

			return fmt.Errorf("server disconnect: code %d %s", d.Code, d.Reason)
		default:
			c.logger.Debug().Str("event", f.Event).Msg("Unhandled frame event")
		}
	}
}

// reauthenticate refreshes the push token exactly once and resupplies it
// on the live connection. Subscriptions are not re-issued; the server
// resumes them once the session is authenticated again.
func (c *Client) reauthenticate() {
	c.notify(StatusAuthLost)
	c.logger.Warn().Msg("Session deauthenticated, refreshing push token")

	token, err := c.cfg.AuthProvider(c.ctx)
	if err != nil {
		if errors.Is(err, cloud.ErrAuthFailed) {
			c.logger.Error().Err(err).Msg("Re-authentication rejected")
			c.abort()

			return
		}

		c.logger.Warn().Err(err).Msg("Push token refresh failed")

		return
	}

	if err := c.writeFrame(frame{
		Event: eventAuthenticate,
		Data:  mustMarshal(authenticateData{Token: token}),
		CID:   c.nextCID.Add(1),
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Resupplying push token failed")
		return
	}

	c.notify(StatusConnected)
}

func (c *Client) deliver(channel string, payload json.RawMessage) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("channel", channel).Msg("Publish for unknown channel")
		return
	}

	select {
	case sub.ch <- payload:
	default:
		c.logger.Warn().Str("channel", channel).Msg("Dropping message for slow consumer")
	}
}

func (c *Client) resolveInvoke(f frame) {
	c.mu.Lock()
	reply, ok := c.pending[f.RID]
	delete(c.pending, f.RID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Uint64("rid", f.RID).Msg("Reply without pending call")
		return
	}

	if f.Error != nil {
		reply <- invokeReply{err: f.Error}
		return
	}

	reply <- invokeReply{data: f.Data}
}

// abort ends the session from inside the pump: cancel, close the live
// connection, and let run()'s teardown do the rest. Close() cannot be
// used here because it waits for the pump goroutine itself.
func (c *Client) abort() {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) dropPending(cid uint64) {
	c.mu.Lock()
	delete(c.pending, cid)
	c.mu.Unlock()
}

// detachConn closes and forgets the connection and fails in-flight
// invocations; registered subscriptions stay for the next connect.
func (c *Client) detachConn(conn *websocket.Conn) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}

	pending := c.pending
	c.pending = make(map[uint64]chan invokeReply)
	c.mu.Unlock()

	for _, reply := range pending {
		reply <- invokeReply{err: errConnectionLost}
	}
}

// teardown runs once when the session ends: no consumer loop outlives it.
func (c *Client) teardown() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	subs := c.subs
	c.subs = map[string]*subscription{}
	pending := c.pending
	c.pending = map[uint64]chan invokeReply{}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	for _, reply := range pending {
		reply <- invokeReply{err: errSessionClosed}
	}

	for _, sub := range subs {
		close(sub.ch)
	}

	c.notify(StatusDisconnected)
}

func (c *Client) writeFrame(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(f)
}

func (c *Client) writeRaw(msg string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *Client) notify(status Status) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(status)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	return data
}
