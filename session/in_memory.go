package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/draftmesh/core"
)

// InMemoryStore is a volatile SessionRepository storing session state in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral servers. Returned states are cloned to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.SessionState
}

var _ core.SessionRepository = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.SessionState)}
}

// Create stores a draft state for cfg. It fails with core.ErrSessionExists
// when the id is taken.
func (s *InMemoryStore) Create(_ context.Context, cfg core.SessionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", core.ErrSessionExists, cfg.ID)
	}

	st := core.NewSessionState(cfg)
	s.sessions[cfg.ID] = &st

	return nil
}

// Append adds a turn to the session history.
func (s *InMemoryStore) Append(_ context.Context, sessionID string, turn core.ExchangeTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getLocked(sessionID)
	if err != nil {
		return err
	}

	st.Turns = append(st.Turns, turn.Clone())

	return nil
}

// LoadState returns a clone of the stored state.
func (s *InMemoryStore) LoadState(_ context.Context, sessionID string) (core.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.getLocked(sessionID)
	if err != nil {
		return core.SessionState{}, err
	}

	return st.Clone(), nil
}

// UpdateStatus applies a lifecycle transition.
func (s *InMemoryStore) UpdateStatus(_ context.Context, sessionID string, update core.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getLocked(sessionID)
	if err != nil {
		return err
	}

	st.Status = update.Status
	st.CurrentRound = update.CurrentRound
	st.TerminationReason = update.TerminationReason
	st.CreditsUsed = update.CreditsUsed
	st.IsRunning = update.Status == core.StatusRunning || update.Status == core.StatusPaused
	st.IsPaused = update.Status == core.StatusPaused

	return nil
}

// Reset drops the history and returns the session to draft.
func (s *InMemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.getLocked(sessionID)
	if err != nil {
		return err
	}

	*st = core.NewSessionState(st.Config)

	return nil
}

// Delete removes a session.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(sessionID); err != nil {
		return err
	}

	delete(s.sessions, sessionID)

	return nil
}

// List returns clones of all sessions owned by userID (all sessions for an
// empty userID) ordered by id.
func (s *InMemoryStore) List(_ context.Context, userID string) []core.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.SessionState, 0, len(s.sessions))

	for _, st := range s.sessions {
		if userID != "" && st.Config.UserID != userID {
			continue
		}

		out = append(out, st.Clone())
	}

	slices.SortFunc(out, func(a, b core.SessionState) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})

	return out
}

// getLocked looks a session up; caller must hold the lock.
func (s *InMemoryStore) getLocked(sessionID string) (*core.SessionState, error) {
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	return st, nil
}
