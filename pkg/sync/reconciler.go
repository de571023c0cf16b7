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
	"github.com/carverauto/cloudsync/pkg/logger"
	"github.com/carverauto/cloudsync/pkg/models"
)

// reconciler applies change envelopes to the entity collections and runs
// the matching recompute: a full projection after structural changes
// (init/add/delete change membership and invalidate choice lists), a
// single-variable refresh after field-level updates.
type reconciler struct {
	store     *Store
	projector *projector
	logger    logger.Logger
}

func newReconciler(store *Store, proj *projector, log logger.Logger) *reconciler {
	return &reconciler{
		store:     store,
		projector: proj,
		logger:    log.WithComponent("reconciler"),
	}
}

// changeOutcome reports what an envelope did to the store. Structural
// changes notify with ScopeFull; value updates notify with the single
// affected variable key. A nil outcome means nothing changed.
type changeOutcome struct {
	Structural bool
	Scope      models.ChangeScope
}

// apply reconciles one envelope into the named collection. Malformed
// payloads and unknown kinds are logged and ignored; they never take the
// session down.
func (r *reconciler) apply(col models.Collection, env models.Envelope) *changeOutcome {
	if col == models.CollectionUnknown {
		r.logger.Warn().Msg("Envelope for unknown collection")
		return nil
	}

	switch env.Kind {
	case models.KindInit:
		docs, err := models.ParseDocuments(env.Data)
		if err != nil {
			r.logger.Warn().Err(err).Str("collection", col.String()).Msg("Malformed init payload")
			return nil
		}

		r.store.replaceAll(col, docs)
		r.recompute(col)

		r.logger.Info().
			Str("collection", col.String()).
			Int("entities", len(docs)).
			Msg("Collection initialized")

		return &changeOutcome{Structural: true, Scope: models.ScopeFull}

	case models.KindAdd:
		doc, err := models.ParseDocument(env.Data)
		if err != nil {
			r.logger.Warn().Err(err).Str("collection", col.String()).Msg("Malformed add payload")
			return nil
		}

		r.store.upsert(col, doc)
		r.recompute(col)

		return &changeOutcome{Structural: true, Scope: models.ScopeFull}

	case models.KindDelete:
		id, err := env.DeleteID()
		if err != nil {
			r.logger.Warn().Err(err).Str("collection", col.String()).Msg("Malformed delete payload")
			return nil
		}

		// A miss is a no-op, but membership may still have been observed
		// differently downstream; recompute regardless.
		r.store.remove(col, id)
		r.recompute(col)

		return &changeOutcome{Structural: true, Scope: models.ScopeFull}

	case models.KindUpdate:
		id, patch, err := env.UpdatePatch()
		if err != nil {
			r.logger.Warn().Err(err).Str("collection", col.String()).Msg("Malformed update payload")
			return nil
		}

		doc := r.store.merge(col, id, patch)
		if doc == nil {
			r.logger.Debug().
				Str("collection", col.String()).
				Str("id", id).
				Msg("Update for absent entity")

			return nil
		}

		scope := r.projector.refreshEntityStatus(col, doc)
		if scope == "" {
			return nil
		}

		return &changeOutcome{Scope: models.ChangeScope(scope)}

	default:
		r.logger.Warn().Str("collection", col.String()).Msg("Unknown envelope kind")
		return nil
	}
}

// recompute runs the full projection for a collection after a structural
// change. Recorder changes also reproject recordings: their labels embed
// the recorder name, and recordings may have arrived first.
func (r *reconciler) recompute(col models.Collection) {
	switch col {
	case models.CollectionConnections:
		r.projector.projectConnections()
	case models.CollectionEndpoints:
		r.projector.projectEndpoints()
	case models.CollectionRecorders:
		r.projector.projectRecorders()
		r.projector.projectRecordings()
	case models.CollectionRecordings:
		r.projector.projectRecordings()
	case models.CollectionUnknown:
	}
}
