package client

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	errUnknownCreation = errors.New("unknown creation")
	errProjectMismatch = errors.New("creation bound to a different project")
)

// Mode tags which generation pipeline a creation runs through.
type Mode string

const (
	ModeHardware Mode = "hardware"
	ModeSoftware Mode = "software"
)

// GenerationStatus is the client-visible progress sub-state of a creation.
type GenerationStatus struct {
	IsGenerating     bool   `json:"isGenerating"`
	ReportsGenerated bool   `json:"reportsGenerated"`
	Error            string `json:"error,omitempty"`
}

// Creation is the local projection of one project's generation state. The
// ProjectID starts empty and is bound by the first reconciled event; once
// bound it never changes (see Reconciler).
type Creation struct {
	ID        string                     `json:"id"`
	ProjectID string                     `json:"projectId,omitempty"`
	Mode      Mode                       `json:"mode"`
	Reports   map[string]json.RawMessage `json:"reports,omitempty"`
	Models    map[string]json.RawMessage `json:"models,omitempty"`
	Status    GenerationStatus           `json:"generationStatus"`
}

// clone returns a deep-enough copy: map headers are copied, payloads are
// immutable json.RawMessage values.
func (c *Creation) clone() *Creation {
	cp := *c
	if c.Reports != nil {
		cp.Reports = make(map[string]json.RawMessage, len(c.Reports))
		for k, v := range c.Reports {
			cp.Reports[k] = v
		}
	}
	if c.Models != nil {
		cp.Models = make(map[string]json.RawMessage, len(c.Models))
		for k, v := range c.Models {
			cp.Models[k] = v
		}
	}
	return &cp
}

// CreationStore holds the client's creations. Single event loop or not, the
// SSE reader and the UI run on different goroutines in this implementation,
// so access is serialized here.
type CreationStore struct {
	mu        sync.Mutex
	creations map[string]*Creation
}

// NewCreationStore creates an empty creation store.
func NewCreationStore() *CreationStore {
	return &CreationStore{creations: make(map[string]*Creation)}
}

// Put inserts or replaces a creation.
func (s *CreationStore) Put(creation *Creation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creations[creation.ID] = creation.clone()
}

// Get returns a copy of the creation, or nil when it does not exist.
func (s *CreationStore) Get(creationID string) *Creation {
	s.mu.Lock()
	defer s.mu.Unlock()

	creation, ok := s.creations[creationID]
	if !ok {
		return nil
	}
	return creation.clone()
}

// FindByProject returns the creation bound to the given project, or nil.
func (s *CreationStore) FindByProject(projectID string) *Creation {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, creation := range s.creations {
		if creation.ProjectID == projectID {
			return creation.clone()
		}
	}
	return nil
}

// Delete removes a creation.
func (s *CreationStore) Delete(creationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creations, creationID)
}

// Reset drops all creations.
func (s *CreationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creations = make(map[string]*Creation)
}

// compareAndApply runs fn on the stored creation only when the incoming
// project agrees with the bound one. The identity check and the mutation
// share one critical section, so two concurrent updates can never both pass
// the guard and then interleave their writes.
func (s *CreationStore) compareAndApply(creationID, projectID string, fn func(*Creation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creation, ok := s.creations[creationID]
	if !ok {
		return errUnknownCreation
	}
	if creation.ProjectID != "" && projectID != "" && creation.ProjectID != projectID {
		return errProjectMismatch
	}
	fn(creation)
	return nil
}
