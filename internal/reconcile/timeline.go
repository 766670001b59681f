// Package reconcile merges locally-optimistic messages, pushed real-time
// events, and fetched history into one ordered, duplicate-free message list
// per session. The merge must hold regardless of arrival order or transport
// mix: the same authoritative message may arrive via push and again via a
// later history refetch, and an echo of a just-sent message arrives before
// the placeholder knows its authoritative id.
package reconcile

import (
	"sync"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/metrics"
)

// MergeOutcome reports what Ingest did with an incoming message.
type MergeOutcome int

const (
	// OutcomeDiscarded means the authoritative id was already reconciled (idempotent no-op)
	OutcomeDiscarded MergeOutcome = iota
	// OutcomeReplaced means a pending optimistic placeholder was superseded in place
	OutcomeReplaced
	// OutcomeAppended means the message was new and appended
	OutcomeAppended
)

// Timeline is the reconciled, ordered message list for one session.
// All mutation runs on event arrival under one mutex; there is no background
// worker, matching the engine's event-driven scheduling model.
type Timeline struct {
	sessionID string
	selfRole  message.SenderRole
	recency   time.Duration
	logger    *golog.Logger
	now       func() time.Time

	mu       sync.Mutex
	messages []*message.Message
	// reconciled tracks authoritative ids already present. Temporary ids are
	// never entered here, so a placeholder can never satisfy the duplicate check.
	reconciled map[string]struct{}
}

// NewTimeline creates an empty timeline for a session. selfRole identifies
// which sender role counts as "self" when matching optimistic placeholders.
func NewTimeline(sessionID string, selfRole message.SenderRole, logger *golog.Logger) *Timeline {
	return &Timeline{
		sessionID:  sessionID,
		selfRole:   selfRole,
		recency:    constants.RecencyWindow,
		logger:     logger.WithGroup("reconcile"),
		now:        time.Now,
		reconciled: make(map[string]struct{}),
	}
}

// SetClock overrides the timeline's clock. Tests use this to pin the recency
// window; production code never calls it.
func (t *Timeline) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// AppendLocal appends an optimistic placeholder for a message the user just
// submitted: temporary id, status sending, the exact content and timestamp
// chosen locally. Returns a copy of the placeholder.
func (t *Timeline) AppendLocal(content string, attachments []string) *message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	placeholder := &message.Message{
		ID:          message.NewTempID(),
		SessionID:   t.sessionID,
		Sender:      t.selfRole,
		Content:     content,
		Attachments: attachments,
		Timestamp:   t.now(),
		Status:      message.StatusSending,
	}
	t.messages = append(t.messages, placeholder)
	return clone(placeholder)
}

// Ingest merges one authoritative message into the timeline:
//
//  1. An id already reconciled is discarded (idempotent no-op).
//  2. Otherwise a pending optimistic placeholder that plausibly corresponds
//     (self sender role, identical content, created within the recency window
//     of the incoming timestamp) is replaced in place, preserving its position
//     and adopting the authoritative id, timestamp, and status.
//  3. Otherwise the message is appended.
func (t *Timeline) Ingest(incoming *message.Message) MergeOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Rule 1: idempotent discard by authoritative id. Id-less entries (system
	// notices) never enter the reconciled set, so two of them cannot shadow
	// each other.
	if incoming.ID != "" {
		// No else needed: early return pattern (guard clause)
		if _, seen := t.reconciled[incoming.ID]; seen {
			metrics.DuplicatesDiscarded.Inc()
			t.logger.Debug("Discarded duplicate authoritative message",
				"session_id", t.sessionID,
				"message_id", incoming.ID)
			return OutcomeDiscarded
		}
	}

	// Rule 2: replace a matching pending placeholder in place
	if idx := t.findPlaceholder(incoming); idx >= 0 {
		adopted := clone(incoming)
		adopted.Status = liftStatus(incoming.Status)
		t.messages[idx] = adopted
		t.reconciled[incoming.ID] = struct{}{}
		metrics.PlaceholdersReplaced.Inc()
		metrics.MessagesReconciled.Inc()
		return OutcomeReplaced
	}

	// Rule 3: append as a new entry
	appended := clone(incoming)
	appended.Status = liftStatus(incoming.Status)
	t.messages = append(t.messages, appended)
	if incoming.ID != "" {
		t.reconciled[incoming.ID] = struct{}{}
	}
	metrics.MessagesReconciled.Inc()
	return OutcomeAppended
}

// findPlaceholder locates the oldest pending placeholder matching the incoming
// echo. Content+timestamp+role matching is required because the placeholder
// was created before the backend assigned a real id. Only status-sending
// placeholders are eligible; failed ones are skipped so a user resend cannot
// double-reconcile.
func (t *Timeline) findPlaceholder(incoming *message.Message) int {
	// A replacement must carry the authoritative id the placeholder adopts
	if incoming.ID == "" || incoming.Sender != t.selfRole {
		return -1
	}
	for i, existing := range t.messages {
		if !existing.IsPendingPlaceholder() {
			continue
		}
		if existing.Content != incoming.Content {
			continue
		}
		if absDuration(incoming.Timestamp.Sub(existing.Timestamp)) > t.recency {
			continue
		}
		return i
	}
	return -1
}

// ApplyHistory replaces the timeline wholesale with a fetched authoritative
// history, preserving currently-pending placeholders (status sending, age
// under the recency window) that the fetch does not yet represent. Those are
// re-appended after the fetched set so a message the user sent milliseconds
// before the fetch resolved is not visually lost.
func (t *Timeline) ApplyHistory(history []*message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rebuilt := make([]*message.Message, 0, len(history))
	reconciled := make(map[string]struct{}, len(history))
	for _, msg := range history {
		// A fetched duplicate collapses to one entry; id-less system notices
		// are exempt, they carry no identity to collapse on
		if msg.ID != "" {
			if _, seen := reconciled[msg.ID]; seen {
				metrics.DuplicatesDiscarded.Inc()
				continue
			}
			reconciled[msg.ID] = struct{}{}
		}
		kept := clone(msg)
		kept.Status = liftStatus(msg.Status)
		rebuilt = append(rebuilt, kept)
	}

	now := t.now()
	for _, existing := range t.messages {
		if !existing.IsPendingPlaceholder() {
			continue
		}
		if now.Sub(existing.Timestamp) >= t.recency {
			continue
		}
		if t.representedIn(rebuilt, existing) {
			continue
		}
		rebuilt = append(rebuilt, existing)
	}

	t.messages = rebuilt
	t.reconciled = reconciled
}

// representedIn reports whether a pending placeholder already has an
// authoritative counterpart in the fetched set, by the same role/content/
// recency criteria rule 2 uses.
func (t *Timeline) representedIn(fetched []*message.Message, placeholder *message.Message) bool {
	for _, msg := range fetched {
		if msg.Sender != t.selfRole {
			continue
		}
		if msg.Content != placeholder.Content {
			continue
		}
		if absDuration(msg.Timestamp.Sub(placeholder.Timestamp)) > t.recency {
			continue
		}
		return true
	}
	return false
}

// Confirm adopts the backend's acknowledgment of a locally-sent message:
// the placeholder identified by its temporary id takes the authoritative id
// and a non-sending status, in place. Returns false when the placeholder is
// gone, which means a push echo already reconciled it.
func (t *Timeline) Confirm(tempID, authoritativeID string, ts time.Time, status message.DeliveryStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The echo may have arrived first; its id is then already reconciled
	// No else needed: early return pattern (guard clause)
	if _, seen := t.reconciled[authoritativeID]; seen {
		return false
	}

	for i, existing := range t.messages {
		if existing.ID != tempID {
			continue
		}
		confirmed := clone(existing)
		confirmed.ID = authoritativeID
		if !ts.IsZero() {
			confirmed.Timestamp = ts
		}
		confirmed.Status = liftStatus(status)
		t.messages[i] = confirmed
		t.reconciled[authoritativeID] = struct{}{}
		return true
	}
	return false
}

// MarkFailed marks the placeholder with the given temporary id as failed.
// A failed placeholder stays visible, is never auto-retried, and is excluded
// from rule-2 matching.
func (t *Timeline) MarkFailed(tempID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.messages {
		if existing.ID != tempID || existing.Status != message.StatusSending {
			continue
		}
		failed := clone(existing)
		failed.Status = message.StatusFailed
		t.messages[i] = failed
		metrics.SendFailures.Inc()
		return true
	}
	return false
}

// Resend rearms a failed placeholder for a user-initiated retry: status back
// to sending with a fresh timestamp, so the new echo can match it. Returns
// a copy of the rearmed placeholder, or nil when it no longer exists.
func (t *Timeline) Resend(tempID string) *message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.messages {
		if existing.ID != tempID || existing.Status != message.StatusFailed {
			continue
		}
		rearmed := clone(existing)
		rearmed.Status = message.StatusSending
		rearmed.Timestamp = t.now()
		t.messages[i] = rearmed
		return clone(rearmed)
	}
	return nil
}

// MarkStatus applies a pushed delivery-status update (sent/delivered/read)
// to an authoritative message.
func (t *Timeline) MarkStatus(messageID string, status message.DeliveryStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if _, known := t.reconciled[messageID]; !known {
		return false
	}
	for i, existing := range t.messages {
		if existing.ID != messageID {
			continue
		}
		updated := clone(existing)
		updated.Status = status
		t.messages[i] = updated
		return true
	}
	return false
}

// Messages returns a copy of the ordered, reconciled list.
func (t *Timeline) Messages() []*message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*message.Message, len(t.messages))
	for i, msg := range t.messages {
		out[i] = clone(msg)
	}
	return out
}

// liftStatus ensures an authoritative message never re-enters the sending
// state; an echo signaled without a status is at least sent.
func liftStatus(status message.DeliveryStatus) message.DeliveryStatus {
	if status == message.StatusSending || status == "" {
		return message.StatusSent
	}
	return status
}

func clone(m *message.Message) *message.Message {
	copied := *m
	if m.Attachments != nil {
		copied.Attachments = append([]string(nil), m.Attachments...)
	}
	return &copied
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
