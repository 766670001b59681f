// Package lifecycle implements the session state machine
// (open -> in_progress -> {resolved, closed}) and the post-resolution rating
// capture. Transitions are triggered by explicit actions and mirrored by push
// events so every connected view converges without polling.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/session"
)

var (
	// ErrInvalidTransition is returned for a client-initiated transition the
	// state machine does not allow
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSessionTerminal is returned when an action requires a live session
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrAlreadyRated is returned when a session already carries a rating
	ErrAlreadyRated = errors.New("session has already been rated")
	// ErrInvalidRating is returned when the rating score is out of bounds
	ErrInvalidRating = errors.New("rating score must be between 1 and 5")
)

// ValidTransition reports whether a client may request the transition.
// Status only advances: open -> in_progress -> {resolved, closed}; an open
// session may also close or resolve directly (skipping assignment still
// advances). Reopening a terminal session is explicit, never implicit.
func ValidTransition(from, to session.Status) bool {
	switch from {
	case session.StatusOpen:
		return to == session.StatusInProgress || to == session.StatusResolved || to == session.StatusClosed
	case session.StatusInProgress:
		return to == session.StatusResolved || to == session.StatusClosed
	case session.StatusResolved, session.StatusClosed:
		// Only the explicit reopen transition leaves a terminal state
		return to == session.StatusOpen
	default:
		return false
	}
}

// Controller applies lifecycle changes to the session directory and tracks
// the rating prompt, which fires exactly once per session.
type Controller struct {
	directory  *session.Directory
	isCustomer bool
	logger     *golog.Logger

	mu       sync.Mutex
	prompted map[string]struct{}

	// onRatingPrompt fires on the customer side when a session reaches a
	// terminal status for the first time
	onRatingPrompt func(sessionID string)
}

// NewController creates a lifecycle controller. isCustomer selects whether
// terminal transitions trigger the rating prompt.
func NewController(directory *session.Directory, isCustomer bool, logger *golog.Logger) *Controller {
	return &Controller{
		directory:  directory,
		isCustomer: isCustomer,
		logger:     logger.WithGroup("lifecycle"),
		prompted:   make(map[string]struct{}),
	}
}

// OnRatingPrompt registers the rating prompt callback.
func (c *Controller) OnRatingPrompt(fn func(sessionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRatingPrompt = fn
}

// GuardOutgoing rejects new outgoing messages for terminal sessions at the
// UI layer. The backend is the final authority and may still reject
// server-side.
func (c *Controller) GuardOutgoing(sessionID string) error {
	sess, err := c.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}
	// No else needed: early return pattern (guard clause)
	if sess.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionTerminal, sessionID, sess.Status)
	}
	return nil
}

// CheckTransition validates a client-initiated transition before it is sent.
func (c *Controller) CheckTransition(sessionID string, to session.Status) error {
	sess, err := c.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}
	// No else needed: early return pattern (guard clause)
	if !ValidTransition(sess.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}
	return nil
}

// ApplyRemote adopts an authoritative status change, whether it confirms this
// client's own action or mirrors another view's. The server's result is
// always adopted; a transition the local table would reject is logged, not
// refused, since the backend is the authority.
func (c *Controller) ApplyRemote(sessionID string, to session.Status, notes string) {
	sess, err := c.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		// A status event racing ahead of its session's creation confirmation
		// is an expected benign case
		c.logger.Info("Dropping status event for unknown session",
			"session_id", sessionID,
			"status", to)
		return
	}

	if !ValidTransition(sess.Status, to) && sess.Status != to {
		c.logger.Warn("Adopting unexpected authoritative transition",
			"session_id", sessionID,
			"from", sess.Status,
			"to", to)
	}

	sess.Status = to
	sess.LastActivityAt = time.Now()
	if notes != "" {
		sess.ResolutionNotes = notes
	}
	if to == session.StatusOpen {
		// Explicit reopen clears the prompt bookkeeping so a later close
		// prompts again
		c.mu.Lock()
		delete(c.prompted, sessionID)
		c.mu.Unlock()
	}
	c.directory.ApplyUpsert(sess)

	if to.IsTerminal() {
		c.maybePromptRating(sessionID, sess)
	}
}

// maybePromptRating fires the customer-side rating prompt exactly once per
// session, and never for a session that already carries a rating.
func (c *Controller) maybePromptRating(sessionID string, sess *session.ChatSession) {
	if !c.isCustomer || sess.Rating != nil {
		return
	}

	c.mu.Lock()
	// No else needed: early return pattern (guard clause)
	if _, done := c.prompted[sessionID]; done {
		c.mu.Unlock()
		return
	}
	c.prompted[sessionID] = struct{}{}
	fn := c.onRatingPrompt
	c.mu.Unlock()

	if fn != nil {
		fn(sessionID)
	}
}

// CheckRating validates a rating submission locally before it is sent.
// Rating attaches to a terminal session and does not change status further.
func (c *Controller) CheckRating(sessionID string, score int) error {
	// No else needed: early return pattern (guard clause)
	if !session.ValidRatingScore(score) {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, score)
	}

	sess, err := c.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}
	// No else needed: early return pattern (guard clause)
	if sess.Rating != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRated, sessionID)
	}
	return nil
}

// ApplyRating attaches an accepted rating to the local session state.
func (c *Controller) ApplyRating(sessionID string, rating *session.Rating) {
	sess, err := c.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		c.logger.Info("Dropping rating for unknown session", "session_id", sessionID)
		return
	}
	sess.Rating = rating
	c.directory.ApplyUpsert(sess)
}

// RatingPrompted reports whether the prompt has already fired for a session.
func (c *Controller) RatingPrompted(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, done := c.prompted[sessionID]
	return done
}
