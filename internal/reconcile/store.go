package reconcile

import (
	"sync"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/metrics"
)

// Store holds one Timeline per session and tracks which session is currently
// active in the view. Each session's list reconciles independently; the store
// exists so a history fetch that resolves after the user switched sessions
// cannot overwrite the now-active session's state.
type Store struct {
	selfRole message.SenderRole
	logger   *golog.Logger

	mu        sync.Mutex
	timelines map[string]*Timeline
	active    string
}

// NewStore creates an empty timeline store.
func NewStore(selfRole message.SenderRole, logger *golog.Logger) *Store {
	return &Store{
		selfRole:  selfRole,
		logger:    logger,
		timelines: make(map[string]*Timeline),
	}
}

// Timeline returns the session's timeline, creating it on first use.
func (s *Store) Timeline(sessionID string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	tl, exists := s.timelines[sessionID]
	// No else needed: initialize if needed (lazy initialization)
	if !exists {
		tl = NewTimeline(sessionID, s.selfRole, s.logger)
		s.timelines[sessionID] = tl
	}
	return tl
}

// Has reports whether the store already tracks the session.
func (s *Store) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.timelines[sessionID]
	return exists
}

// SetActive marks the session the view is currently showing. Pass "" when no
// session is active.
func (s *Store) SetActive(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = sessionID
}

// Active returns the currently-active session id.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ApplyHistoryIfActive applies a fetched history only when the session it was
// requested for is still the active one. A late-arriving fetch for a session
// the user has switched away from is discarded, never merged.
func (s *Store) ApplyHistoryIfActive(requestedID string, history []*message.Message) bool {
	s.mu.Lock()
	stillActive := s.active == requestedID
	s.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if !stillActive {
		metrics.StaleFetchesDiscarded.Inc()
		s.logger.Info("Discarded stale history fetch",
			"requested_session", requestedID)
		return false
	}

	s.Timeline(requestedID).ApplyHistory(history)
	return true
}

// Remove drops all local state for a session, after a backend-pushed deletion.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timelines, sessionID)
	if s.active == sessionID {
		s.active = ""
	}
}
