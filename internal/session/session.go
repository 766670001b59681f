// Package session defines the canonical chat session model and the
// per-participant session directory.
package session

import (
	"time"
)

// Status is the lifecycle state of a chat session.
// Status only advances open -> in_progress -> {resolved, closed}; the
// terminal states are final except for an explicit reopen.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Priority is the triage priority of a session.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// CustomerRef identifies the customer party of a session.
type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// AdminRef identifies the assigned admin. A session has at most one assigned
// admin at a time.
type AdminRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Rating is the post-resolution feedback a customer may attach exactly once.
type Rating struct {
	Score    int       `json:"score"` // 1-5
	Feedback string    `json:"feedback,omitempty"`
	Category string    `json:"category,omitempty"`
	RatedAt  time.Time `json:"rated_at"`
}

// ChatSession is the canonical session shape used throughout the engine.
type ChatSession struct {
	ID              string      `json:"id"`
	Status          Status      `json:"status"`
	Priority        Priority    `json:"priority"`
	Category        string      `json:"category,omitempty"`
	Customer        CustomerRef `json:"customer"`
	AssignedAdmin   *AdminRef   `json:"assigned_admin,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	LastActivityAt  time.Time   `json:"last_activity_at"`
	ResolutionNotes string      `json:"resolution_notes,omitempty"`
	Rating          *Rating     `json:"rating,omitempty"`
}

// IsAssigned reports whether the session currently has an assigned admin.
func (s *ChatSession) IsAssigned() bool {
	return s.AssignedAdmin != nil && s.AssignedAdmin.ID != ""
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without aliasing directory state.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	copied := *s
	if s.AssignedAdmin != nil {
		admin := *s.AssignedAdmin
		copied.AssignedAdmin = &admin
	}
	if s.Rating != nil {
		rating := *s.Rating
		copied.Rating = &rating
	}
	return &copied
}

// ValidRatingScore reports whether a rating score is within bounds.
func ValidRatingScore(score int) bool {
	return score >= 1 && score <= 5
}
