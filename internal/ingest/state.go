package ingest

import (
	"sync"
	"time"

	"github.com/DCspare/StreamVault/internal/model"
)

const defaultStateTTL = 10 * time.Minute

// StateStore holds the per-user, single-entry conversation state for an
// in-progress direct upload or external-URL ingest. Entries are
// process-local and garbage-collected on a TTL since a user may
// disappear mid-conversation (app closed, network drop) without ever
// sending a follow-up message.
type StateStore struct {
	ttl time.Duration

	mu       sync.Mutex
	uploads  map[int64]model.UploadState
	urls     map[int64]model.URLState
}

// NewStateStore creates a StateStore with the default 10-minute TTL.
func NewStateStore() *StateStore {
	return &StateStore{
		ttl:     defaultStateTTL,
		uploads: make(map[int64]model.UploadState),
		urls:    make(map[int64]model.URLState),
	}
}

func (s *StateStore) PutUpload(state model.UploadState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.uploads[state.UserID] = state
}

func (s *StateStore) TakeUpload(userID int64) (model.UploadState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	state, ok := s.uploads[userID]
	if ok {
		delete(s.uploads, userID)
	}
	return state, ok
}

func (s *StateStore) PutURL(state model.URLState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.urls[state.UserID] = state
}

func (s *StateStore) TakeURL(userID int64) (model.URLState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	state, ok := s.urls[userID]
	if ok {
		delete(s.urls, userID)
	}
	return state, ok
}

// sweepLocked drops entries older than the TTL. Called from every
// mutating method rather than on a background ticker, since ingest
// traffic is bursty and a dedicated goroutine would mostly idle.
func (s *StateStore) sweepLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for id, state := range s.uploads {
		if state.CreatedAt.Before(cutoff) {
			delete(s.uploads, id)
		}
	}
	for id, state := range s.urls {
		if state.CreatedAt.Before(cutoff) {
			delete(s.urls, id)
		}
	}
}
