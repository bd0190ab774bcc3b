package client

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
)

// Notifier surfaces a passive signal (sound, toast) when an update lands on
// a creation the user is not currently looking at.
type Notifier interface {
	Notify(creationID string, update Update)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(creationID string, update Update)

func (f NotifierFunc) Notify(creationID string, update Update) { f(creationID, update) }

// Update is one reconcilable piece of generation output, assembled from a
// push event plus the follow-up pull fetch.
type Update struct {
	ProjectID string
	Reports   map[string]json.RawMessage
	Models    map[string]json.RawMessage
	Error     string
}

// Reconciler applies incoming generation updates to the local creation
// store. Every mutation funnels through Apply so the identity guards cannot
// be bypassed.
type Reconciler struct {
	store    *CreationStore
	notifier Notifier
	logger   zerolog.Logger

	activeCreationID string
}

// NewReconciler creates a reconciler over the given store. notifier may be
// nil when the embedding client has no passive-notification surface.
func NewReconciler(store *CreationStore, notifier Notifier, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// SetActive records which creation the user is currently viewing. Updates
// for any other creation trigger the passive notifier instead of silently
// changing the view under the user.
func (r *Reconciler) SetActive(creationID string) {
	r.activeCreationID = creationID
}

// Apply merges an update into the identified creation.
//
// Unknown creations and project mismatches are dropped, loudly: the first
// means the event belongs to another device or session, the second would be
// cross-project contamination. Both guards run inside the store's critical
// section so a concurrent update can never slip between check and write;
// a dropped update never partially mutates stored state.
func (r *Reconciler) Apply(creationID string, update Update) {
	err := r.store.compareAndApply(creationID, update.ProjectID, func(creation *Creation) {
		if creation.ProjectID == "" {
			creation.ProjectID = update.ProjectID
		}
		creation.Status.IsGenerating = false
		creation.Status.ReportsGenerated = true
		creation.Status.Error = update.Error

		// Shallow replace per top-level key: a later write for the same
		// key fully supersedes the earlier one, untouched keys survive.
		for key, payload := range update.Reports {
			if creation.Reports == nil {
				creation.Reports = make(map[string]json.RawMessage)
			}
			creation.Reports[key] = payload
		}
		for key, payload := range update.Models {
			if creation.Models == nil {
				creation.Models = make(map[string]json.RawMessage)
			}
			creation.Models[key] = payload
		}
	})

	switch {
	case errors.Is(err, errUnknownCreation):
		r.logger.Warn().
			Str("creation_id", creationID).
			Str("project_id", update.ProjectID).
			Msg("Update for unknown creation, dropping")
		return
	case errors.Is(err, errProjectMismatch):
		r.logger.Warn().
			Str("creation_id", creationID).
			Str("incoming_project_id", update.ProjectID).
			Msg("Update project does not match bound project, dropping")
		return
	}

	if r.notifier != nil && creationID != r.activeCreationID {
		r.notifier.Notify(creationID, update)
	}
}
