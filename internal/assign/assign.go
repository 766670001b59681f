// Package assign claims unassigned sessions for the acting admin and keeps
// every admin roster consistent with the backend's single-assignee invariant.
// Claims are never rendered optimistically: the roster's assignee field only
// changes on server confirmation or on a session_assigned push event.
package assign

import (
	"context"
	"fmt"
	"time"

	"github.com/real-rm/golog"

	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/session"
)

// Backend is the request/response surface the router needs. ClaimSession
// returns claimed=false with the authoritative session when another admin won
// the race; that is the contested case, not a transport failure.
type Backend interface {
	ClaimSession(ctx context.Context, sessionID string) (*session.ChatSession, bool, error)
}

// Router claims sessions and applies assignment events to the directory.
type Router struct {
	backend   Backend
	directory *session.Directory
	rooms     session.RoomJoiner
	self      session.AdminRef
	logger    *golog.Logger
}

// NewRouter creates an assignment router acting as the given admin.
func NewRouter(backend Backend, directory *session.Directory, rooms session.RoomJoiner, self session.AdminRef, logger *golog.Logger) *Router {
	return &Router{
		backend:   backend,
		directory: directory,
		rooms:     rooms,
		self:      self,
		logger:    logger.WithGroup("assign"),
	}
}

// Claim requests assignment of an unassigned session to the acting admin and
// waits for the server's decision. On success the session advances to
// in_progress, the roster updates, and the session's room is joined. When the
// claim is contested the authoritative assignee is adopted and an
// already-claimed error is returned; the caller's view reconciles to the
// actual assignee, never to its own optimistic guess.
func (r *Router) Claim(ctx context.Context, sessionID string) (*session.ChatSession, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}

	// Local precheck: only an unassigned session may be claimed. The backend
	// re-checks under its own lock; this just avoids a pointless round trip.
	if cached, err := r.directory.Get(sessionID); err == nil && cached.IsAssigned() {
		// No else needed: early return pattern (guard clause)
		if cached.AssignedAdmin.ID != r.self.ID {
			return cached, chaterrors.ErrAlreadyClaimed(cached.AssignedAdmin.ID)
		}
		return cached, nil
	}

	sess, claimed, err := r.backend.ClaimSession(ctx, sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("claim session %s: %w", sessionID, err)
	}

	// The server's result is authoritative either way
	r.directory.ApplyUpsert(sess)

	// No else needed: early return pattern (guard clause)
	if !claimed {
		metrics.ClaimsLost.Inc()
		assignee := ""
		if sess.IsAssigned() {
			assignee = sess.AssignedAdmin.ID
		}
		r.logger.Info("Claim lost to another admin",
			"session_id", sessionID,
			"assignee", assignee)
		return sess, chaterrors.ErrAlreadyClaimed(assignee)
	}

	metrics.ClaimsWon.Inc()
	r.rooms.JoinRoom(sessionID)
	r.logger.Info("Session claimed",
		"session_id", sessionID,
		"admin_id", r.self.ID)
	return sess, nil
}

// ApplyAssigned adopts a session_assigned push event so every admin view's
// roster entry updates without a full reload.
func (r *Router) ApplyAssigned(sessionID string, admin session.AdminRef) {
	sess, err := r.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		r.logger.Info("Dropping assignment event for unknown session",
			"session_id", sessionID,
			"admin_id", admin.ID)
		return
	}

	sess.AssignedAdmin = &admin
	if sess.Status == session.StatusOpen {
		sess.Status = session.StatusInProgress
	}
	sess.LastActivityAt = time.Now()
	r.directory.ApplyUpsert(sess)
}

// Self returns the acting admin identity.
func (r *Router) Self() session.AdminRef {
	return r.self
}
