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
	"encoding/json"
	"errors"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/carverauto/cloudsync/pkg/cloud"
	"github.com/carverauto/cloudsync/pkg/logger"
	"github.com/carverauto/cloudsync/pkg/models"
	"github.com/carverauto/cloudsync/pkg/push"
)

// Status is the coarse user-facing session state. Finer-grained push and
// REST failures stay internal; the service only surfaces whether it is
// establishing, serving, or unable to authenticate.
type Status int

const (
	StatusConnecting Status = iota
	StatusOK
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOK:
		return "ok"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

const eventQueueSize = 256

// Initial REST snapshot resources, fetched once at startup. Recordings
// are fetched separately, chained off the recorders load.
var snapshotResources = []string{
	resourceEndpoints,
	resourceConnections,
	resourceRecorders,
}

const (
	resourceEndpoints   = "company/endpoints"
	resourceConnections = "connections"
	resourceRecorders   = "company/recorders"
	resourceRecordings  = "recordings"
)

func restResourceCollection(resource string) models.Collection {
	switch resource {
	case resourceEndpoints:
		return models.CollectionEndpoints
	case resourceConnections:
		return models.CollectionConnections
	case resourceRecorders:
		return models.CollectionRecorders
	case resourceRecordings:
		return models.CollectionRecordings
	default:
		return models.CollectionUnknown
	}
}

type eventKind int

const (
	eventChannel eventKind = iota
	eventPresenter
	eventREST
)

// loopEvent is one unit of work for the single-writer event loop. Every
// store mutation funnels through the loop, so collection state, presenter
// state, and the derived projections never race.
type loopEvent struct {
	kind       eventKind
	collection models.Collection
	connID     string // presenter events
	resource   string // REST payload events
	data       json.RawMessage
}

// Service mirrors the cloud fleet into a local entity store. It owns the
// REST client, the push session, and a single event loop that serializes
// every mutation.
type Service struct {
	config *Config
	logger logger.Logger

	tokens  TokenSource
	client  RESTClient
	session PushSession
	clock   Clock

	store      *Store
	projector  *projector
	reconciler *reconciler

	events chan loopEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	mu            stdsync.Mutex
	status        Status
	started       bool
	presenterSubs map[string]bool
	onChange      []func(models.ChangeScope)
	onStatus      []func(Status)
}

// NewService wires a service against the live cloud endpoints described
// by cfg.
func NewService(cfg *Config, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens := cloud.NewTokenManager(cfg.APIURL, cfg.APIToken, nil, log)
	client := cloud.NewClient(cfg.APIURL, tokens, nil, log)

	svc := NewServiceWithClients(cfg, tokens, client, nil, realClock{}, log)

	session, err := push.NewClient(push.Config{
		URL:          cfg.PushURL,
		AuthProvider: tokens.FetchPush,
		OnStatus:     svc.onPushStatus,
	}, log)
	if err != nil {
		return nil, err
	}

	svc.session = session

	return svc, nil
}

// NewServiceWithClients wires a service against injected dependencies.
func NewServiceWithClients(
	cfg *Config,
	tokens TokenSource,
	client RESTClient,
	session PushSession,
	clock Clock,
	log logger.Logger,
) *Service {
	store := NewStore()
	proj := newProjector(store, log)

	return &Service{
		config:        cfg,
		logger:        log.WithComponent("sync"),
		tokens:        tokens,
		client:        client,
		session:       session,
		clock:         clock,
		store:         store,
		projector:     proj,
		reconciler:    newReconciler(store, proj, log),
		events:        make(chan loopEvent, eventQueueSize),
		status:        StatusConnecting,
		presenterSubs: make(map[string]bool),
	}
}

// Store exposes the read side of the mirrored state.
func (s *Service) Store() *Store {
	return s.store
}

// OnChange registers a change notification callback. Register before
// Start; callbacks run on the event loop goroutine.
func (s *Service) OnChange(fn func(models.ChangeScope)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onChange = append(s.onChange, fn)
}

// OnStatus registers a session status callback. Register before Start.
func (s *Service) OnStatus(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onStatus = append(s.onStatus, fn)
}

// Status returns the current session status.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// Start authenticates against the cloud, opens the push session with the
// fixed per-collection channel set, kicks off the initial REST snapshot,
// and runs until Stop or a terminal authentication failure. Start itself
// returns once the session machinery is running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}

	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setStatus(StatusConnecting)

	if err := s.tokens.FetchPrimary(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Primary authentication failed")
		s.setStatus(StatusFailure)

		return err
	}

	s.logger.Info().Str("company_id", s.tokens.CompanyID()).Msg("Authenticated with cloud API")

	s.wg.Add(1)
	go s.runLoop()

	if err := s.session.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}

	companyID := s.tokens.CompanyID()
	for _, col := range models.Collections() {
		ch, err := s.session.Subscribe("/" + col.String() + "/" + companyID)
		if err != nil {
			s.cancel()
			return err
		}

		s.consumeChannel(col, ch)
	}

	s.wg.Add(1)
	go s.initialLoad()

	s.wg.Add(1)
	go s.reauthLoop()

	return nil
}

// Stop tears the session down and waits for every goroutine to drain.
func (s *Service) Stop() {
	s.logger.Info().Msg("Stopping sync service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.session != nil {
		s.session.Close()
	}

	s.wg.Wait()
}

var errAlreadyStarted = errors.New("sync: service already started")

// runLoop is the single writer. All store mutations happen here.
func (s *Service) runLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Service) dispatch(ev loopEvent) {
	switch ev.kind {
	case eventChannel:
		env, err := models.ParseEnvelope(ev.data)
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", ev.collection.String()).Msg("Malformed channel message")
			return
		}

		outcome := s.reconciler.apply(ev.collection, env)
		s.afterChange(ev.collection, outcome)
	case eventPresenter:
		s.applyPresenterEvent(ev.connID, ev.data)
	case eventREST:
		s.applyRESTPayload(ev.resource, ev.data)
	}
}

// afterChange runs the side effects a reconciled envelope demands:
// presenter session upkeep after connection membership changes, a
// recordings refetch after recorder membership changes, and the change
// notification itself.
func (s *Service) afterChange(col models.Collection, outcome *changeOutcome) {
	if outcome == nil {
		return
	}

	if !outcome.Structural {
		s.notifyChange(outcome.Scope)
		return
	}

	switch col {
	case models.CollectionConnections:
		s.setupPresenters()
	case models.CollectionRecorders:
		s.fetchResource(resourceRecordings)
	}

	s.notifyChange(models.ScopeFull)
}

// initialLoad pulls the REST snapshot of every collection the push
// channels will keep current. Soft failures leave a collection empty
// until the channel init envelope arrives.
func (s *Service) initialLoad() {
	defer s.wg.Done()

	for _, resource := range snapshotResources {
		if !s.loadResource(resource) {
			return
		}
	}
}

// fetchResource refetches one REST resource asynchronously and feeds the
// payload back through the event loop.
func (s *Service) fetchResource(resource string) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.loadResource(resource)
	}()
}

// loadResource performs one snapshot GET. It returns false only on a
// hard authentication failure.
func (s *Service) loadResource(resource string) bool {
	data, err := s.client.Do(s.ctx, resource, http.MethodGet, nil)
	if err != nil {
		if errors.Is(err, cloud.ErrAuthFailed) {
			s.logger.Error().Err(err).Msg("Snapshot load rejected, credential invalid")
			s.setStatus(StatusFailure)
		}

		return false
	}

	if data == nil {
		return true
	}

	select {
	case s.events <- loopEvent{kind: eventREST, resource: resource, data: data}:
	case <-s.ctx.Done():
		return false
	}

	return true
}

// applyRESTPayload replaces a collection from a snapshot response. The
// snapshot carries the same entity array an init envelope does.
func (s *Service) applyRESTPayload(resource string, data json.RawMessage) {
	col := restResourceCollection(resource)
	if col == models.CollectionUnknown {
		s.logger.Warn().Str("resource", resource).Msg("Snapshot for unknown resource")
		return
	}

	docs, err := models.ParseDocuments(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("resource", resource).Msg("Malformed snapshot payload")
		return
	}

	s.store.replaceAll(col, docs)
	s.reconciler.recompute(col)

	switch col {
	case models.CollectionConnections:
		s.setupPresenters()
	case models.CollectionRecorders:
		s.fetchResource(resourceRecordings)
	}

	s.logger.Debug().Str("resource", resource).Int("entities", len(docs)).Msg("Snapshot applied")
	s.notifyChange(models.ScopeFull)
}

// consumeChannel forwards one collection channel into the event loop.
func (s *Service) consumeChannel(col models.Collection, ch <-chan json.RawMessage) {
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
				case s.events <- loopEvent{kind: eventChannel, collection: col, data: msg}:
				case <-s.ctx.Done():
					return
				}
			}
		}
	}()
}

// reauthLoop refreshes the primary credential on a fixed cadence so the
// push token exchange never runs against an expired bearer.
func (s *Service) reauthLoop() {
	defer s.wg.Done()

	ticker := s.clock.Ticker(time.Duration(s.config.ReauthInterval))
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.tokens.FetchPrimary(s.ctx); err != nil {
				if errors.Is(err, cloud.ErrAuthFailed) {
					s.logger.Error().Err(err).Msg("Credential refresh rejected")
					s.setStatus(StatusFailure)

					return
				}

				s.logger.Warn().Err(err).Msg("Credential refresh failed, will retry next cycle")

				continue
			}

			s.logger.Debug().Msg("Primary credential refreshed")
		}
	}
}

// onPushStatus maps push session transitions onto the coarse service
// status. Transient reconnects and re-auths surface as connecting; a
// normal shutdown does not flip the status to failure.
func (s *Service) onPushStatus(status push.Status) {
	switch status {
	case push.StatusConnecting, push.StatusAuthLost:
		s.setStatus(StatusConnecting)
	case push.StatusConnected:
		s.setStatus(StatusOK)
	case push.StatusDisconnected:
		if s.ctx != nil && s.ctx.Err() != nil {
			return
		}

		s.setStatus(StatusFailure)
	}
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}

	s.status = status
	callbacks := make([]func(Status), len(s.onStatus))
	copy(callbacks, s.onStatus)
	s.mu.Unlock()

	s.logger.Info().Str("status", status.String()).Msg("Session status changed")

	for _, fn := range callbacks {
		fn(status)
	}
}

func (s *Service) notifyChange(scope models.ChangeScope) {
	s.mu.Lock()
	callbacks := make([]func(models.ChangeScope), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(scope)
	}
}
