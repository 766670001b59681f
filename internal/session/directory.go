package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/real-rm/golog"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSessionID is returned when session ID is empty
	ErrInvalidSessionID = errors.New("session ID cannot be empty")
	// ErrInvalidCustomerID is returned when customer ID is empty
	ErrInvalidCustomerID = errors.New("customer ID cannot be empty")
)

// Backend is the request/response surface the directory needs from the
// chat service. The second return of CreateSession reports adoption: the
// server refused to create a duplicate and returned the existing open
// session instead.
type Backend interface {
	CreateSession(ctx context.Context, req CreateRequest) (*ChatSession, bool, error)
	ListSessions(ctx context.Context) ([]*ChatSession, error)
}

// RoomJoiner is the transport surface the directory needs for its room-join
// side effects on creation and claim.
type RoomJoiner interface {
	JoinRoom(sessionID string)
	LeaveRoom(sessionID string)
}

// CreateRequest carries the fields of an explicit "start chat" call.
type CreateRequest struct {
	InitialMessage string   `json:"initial_message,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
}

// Directory tracks the set of chat sessions the authenticated participant is
// a party to: one customer has many sessions over time, one admin has many
// concurrent sessions. It is refreshed by REST listing and kept current by
// push-driven upserts and removals.
type Directory struct {
	backend Backend
	rooms   RoomJoiner
	logger  *golog.Logger

	mu       sync.RWMutex
	sessions map[string]*ChatSession

	// onChange is invoked after every mutation so roster views update
	// without a full reload. Invoked outside the lock.
	changeMu sync.RWMutex
	onChange []func(*ChatSession, bool)
}

// NewDirectory creates a session directory over the given backend and transport.
func NewDirectory(backend Backend, rooms RoomJoiner, logger *golog.Logger) *Directory {
	return &Directory{
		backend:  backend,
		rooms:    rooms,
		logger:   logger.WithGroup("directory"),
		sessions: make(map[string]*ChatSession),
	}
}

// OnChange registers a callback invoked with (session, removed) after every
// directory mutation.
func (d *Directory) OnChange(fn func(sess *ChatSession, removed bool)) {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()
	d.onChange = append(d.onChange, fn)
}

func (d *Directory) notify(sess *ChatSession, removed bool) {
	d.changeMu.RLock()
	snapshot := append([]func(*ChatSession, bool){}, d.onChange...)
	d.changeMu.RUnlock()
	for _, fn := range snapshot {
		fn(sess.Clone(), removed)
	}
}

// Refresh replaces the cached set with the backend's authoritative list.
func (d *Directory) Refresh(ctx context.Context) ([]*ChatSession, error) {
	listed, err := d.backend.ListSessions(ctx)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("refresh session list: %w", err)
	}

	d.mu.Lock()
	d.sessions = make(map[string]*ChatSession, len(listed))
	for _, sess := range listed {
		d.sessions[sess.ID] = sess.Clone()
	}
	d.mu.Unlock()

	d.logger.Info("Session list refreshed", "count", len(listed))
	return cloneAll(listed), nil
}

// List returns the cached sessions ordered by last activity, newest first.
func (d *Directory) List() []*ChatSession {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*ChatSession, 0, len(d.sessions))
	for _, sess := range d.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// Get returns one cached session by id.
func (d *Directory) Get(sessionID string) (*ChatSession, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	sess, exists := d.sessions[sessionID]
	// No else needed: early return pattern (guard clause)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.Clone(), nil
}

// FindOpen returns the customer's existing non-terminal session, or nil.
func (d *Directory) FindOpen(customerID string) (*ChatSession, error) {
	if customerID == "" {
		return nil, ErrInvalidCustomerID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sess := range d.sessions {
		if sess.Customer.ID == customerID && !sess.Status.IsTerminal() {
			return sess.Clone(), nil
		}
	}
	return nil, nil
}

// Create asks the backend for a new session. The server enforces the
// one-open-session guard: when the customer already has a non-terminal
// session the returned session is the existing one, adopted rather than
// treated as an error. A successful create (or adoption) joins the
// session's room.
func (d *Directory) Create(ctx context.Context, req CreateRequest) (*ChatSession, bool, error) {
	sess, adopted, err := d.backend.CreateSession(ctx, req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	d.upsertLocked(sess)
	d.rooms.JoinRoom(sess.ID)

	if adopted {
		d.logger.Info("Adopted existing open session", "session_id", sess.ID)
	} else {
		d.logger.Info("Session created", "session_id", sess.ID)
	}

	d.notify(sess, false)
	return sess.Clone(), adopted, nil
}

// ApplyUpsert merges a pushed created/updated session into the cache.
func (d *Directory) ApplyUpsert(sess *ChatSession) {
	if sess == nil || sess.ID == "" {
		return
	}
	d.upsertLocked(sess)
	d.notify(sess, false)
}

// ApplyRemove reacts to a backend-pushed deletion by dropping local state and
// leaving the room. The client never deletes sessions on its own.
func (d *Directory) ApplyRemove(sessionID string) {
	if sessionID == "" {
		return
	}

	d.mu.Lock()
	sess, exists := d.sessions[sessionID]
	delete(d.sessions, sessionID)
	d.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if !exists {
		return
	}

	d.rooms.LeaveRoom(sessionID)
	d.logger.Info("Session removed by backend", "session_id", sessionID)
	d.notify(sess, true)
}

func (d *Directory) upsertLocked(sess *ChatSession) {
	d.mu.Lock()
	d.sessions[sess.ID] = sess.Clone()
	d.mu.Unlock()
}

func cloneAll(in []*ChatSession) []*ChatSession {
	out := make([]*ChatSession, len(in))
	for i, sess := range in {
		out[i] = sess.Clone()
	}
	return out
}
