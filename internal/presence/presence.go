// Package presence tracks the ephemeral, session-scoped "other party is
// composing" indicator. Nothing here is persisted; entries expire on an
// explicit stop signal or on a hard timeout so a lost stop event cannot leave
// the indicator stuck.
package presence

import (
	"sync"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/constants"
)

// TypingSignal identifies one composing participant in one session.
type TypingSignal struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Emitter is the transport surface the tracker needs.
type Emitter interface {
	Emit(event string, payload map[string]interface{}) bool
}

// Tracker manages both directions of the typing indicator: debounced
// start/stop emission for local input, and an expiring typing-set for
// remote participants.
type Tracker struct {
	emitter Emitter
	self    TypingSignal
	logger  *golog.Logger

	debounce    time.Duration
	hardTimeout time.Duration

	mu sync.Mutex
	// localTimers holds the per-session debounce timer while this participant
	// is signaling "typing"
	localTimers map[string]*time.Timer
	// remote holds the typing-set per session, with the expiry timer per participant
	remote map[string]map[string]remoteEntry

	// onChange is invoked whenever a session's typing-set flips between
	// empty and non-empty
	onChange func(sessionID string, typing []TypingSignal)
}

type remoteEntry struct {
	signal TypingSignal
	timer  *time.Timer
}

// NewTracker creates a typing tracker for the given local participant identity.
func NewTracker(emitter Emitter, self TypingSignal, logger *golog.Logger) *Tracker {
	return &Tracker{
		emitter:     emitter,
		self:        self,
		logger:      logger.WithGroup("presence"),
		debounce:    constants.TypingDebounce,
		hardTimeout: constants.TypingHardTimeout,
		localTimers: make(map[string]*time.Timer),
		remote:      make(map[string]map[string]remoteEntry),
	}
}

// SetTimeouts overrides the debounce and hard-timeout durations. Tests use
// this to avoid real-time waits.
func (t *Tracker) SetTimeouts(debounce, hardTimeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debounce = debounce
	t.hardTimeout = hardTimeout
}

// OnChange registers the callback invoked with the session's current
// typing-set after every remote change.
func (t *Tracker) OnChange(fn func(sessionID string, typing []TypingSignal)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// InputChanged reports local input activity for a session. The first call
// emits a typing-start; each call re-arms the debounce timer; when input goes
// idle the timer emits the typing-stop.
func (t *Tracker) InputChanged(sessionID string) {
	if sessionID == "" {
		return
	}

	t.mu.Lock()
	timer, signaling := t.localTimers[sessionID]
	if signaling {
		timer.Reset(t.debounce)
		t.mu.Unlock()
		return
	}
	t.localTimers[sessionID] = time.AfterFunc(t.debounce, func() {
		t.StopTyping(sessionID)
	})
	t.mu.Unlock()

	t.emitSignal(constants.EmitTypingStart, sessionID)
}

// StopTyping explicitly ends the local typing signal for a session, e.g. on
// submit or blur. Safe to call when not signaling.
func (t *Tracker) StopTyping(sessionID string) {
	t.mu.Lock()
	timer, signaling := t.localTimers[sessionID]
	// No else needed: early return pattern (guard clause)
	if !signaling {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.localTimers, sessionID)
	t.mu.Unlock()

	t.emitSignal(constants.EmitTypingStop, sessionID)
}

// HandleStart records a typing-start from another participant. Signals for
// self are ignored (the backend may echo them back). The entry self-heals via
// the hard timeout if the matching stop is lost.
func (t *Tracker) HandleStart(signal TypingSignal) {
	if signal.SessionID == "" || signal.ParticipantID == "" {
		return
	}
	// No else needed: early return pattern (guard clause)
	if signal.ParticipantID == t.self.ParticipantID {
		return
	}

	t.mu.Lock()
	// No else needed: initialize if needed (lazy initialization)
	if t.remote[signal.SessionID] == nil {
		t.remote[signal.SessionID] = make(map[string]remoteEntry)
	}
	if existing, ok := t.remote[signal.SessionID][signal.ParticipantID]; ok {
		existing.timer.Stop()
	}
	timer := time.AfterFunc(t.hardTimeout, func() {
		t.expire(signal.SessionID, signal.ParticipantID)
	})
	t.remote[signal.SessionID][signal.ParticipantID] = remoteEntry{signal: signal, timer: timer}
	t.mu.Unlock()

	t.notify(signal.SessionID)
}

// HandleStop removes a participant from the session's typing-set.
func (t *Tracker) HandleStop(signal TypingSignal) {
	t.removeRemote(signal.SessionID, signal.ParticipantID)
}

// expire removes a stuck entry whose stop event never arrived.
func (t *Tracker) expire(sessionID, participantID string) {
	t.logger.Debug("Typing signal expired without stop",
		"session_id", sessionID,
		"participant_id", participantID)
	t.removeRemote(sessionID, participantID)
}

func (t *Tracker) removeRemote(sessionID, participantID string) {
	if sessionID == "" || participantID == "" {
		return
	}

	t.mu.Lock()
	entries, ok := t.remote[sessionID]
	// No else needed: early return pattern (guard clause)
	if !ok {
		t.mu.Unlock()
		return
	}
	entry, present := entries[participantID]
	if present {
		entry.timer.Stop()
		delete(entries, participantID)
		if len(entries) == 0 {
			delete(t.remote, sessionID)
		}
	}
	t.mu.Unlock()

	if present {
		t.notify(sessionID)
	}
}

// Typing returns the session's current typing-set. The rendered indicator is
// simply "typing-set non-empty".
func (t *Tracker) Typing(sessionID string) []TypingSignal {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.remote[sessionID]
	out := make([]TypingSignal, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.signal)
	}
	return out
}

// IsTyping reports whether any other participant is composing in the session.
func (t *Tracker) IsTyping(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.remote[sessionID]) > 0
}

// Reset drops all local and remote state for a session, used when leaving it.
func (t *Tracker) Reset(sessionID string) {
	t.mu.Lock()
	if timer, ok := t.localTimers[sessionID]; ok {
		timer.Stop()
		delete(t.localTimers, sessionID)
	}
	for _, entry := range t.remote[sessionID] {
		entry.timer.Stop()
	}
	delete(t.remote, sessionID)
	t.mu.Unlock()
}

func (t *Tracker) emitSignal(event, sessionID string) {
	payload := map[string]interface{}{
		"session_id":     sessionID,
		"participant_id": t.self.ParticipantID,
		"name":           t.self.Name,
		"role":           t.self.Role,
	}
	// Typing is best-effort presence; when the socket is down there is
	// nothing to fall back to and nothing to retry
	if !t.emitter.Emit(event, payload) {
		t.logger.Debug("Typing signal dropped while disconnected", "session_id", sessionID)
	}
}

func (t *Tracker) notify(sessionID string) {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(sessionID, t.Typing(sessionID))
	}
}
