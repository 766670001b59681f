// Package livechat implements the client-side synchronization engine for a
// live customer-support chat: a persistent event connection with a
// request/response fallback, an availability gate, a session directory, a
// message reconciliation engine, a typing-presence tracker, the session
// lifecycle state machine, and admin session claiming.
//
// One Engine serves one authenticated participant, customer or admin. The
// backend is the single source of truth; the engine's job is to converge the
// local view onto it regardless of connection drops, duplicate deliveries, or
// event arrival order.
package livechat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/api"
	"github.com/real-rm/livechat/internal/assign"
	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/availability"
	"github.com/real-rm/livechat/internal/config"
	"github.com/real-rm/livechat/internal/constants"
	chaterrors "github.com/real-rm/livechat/internal/errors"
	"github.com/real-rm/livechat/internal/lifecycle"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/presence"
	"github.com/real-rm/livechat/internal/reconcile"
	"github.com/real-rm/livechat/internal/session"
	"github.com/real-rm/livechat/internal/transport"
	"github.com/real-rm/livechat/internal/util"
)

// Re-exported model types so embedding applications depend on one package.
type (
	// Message is the canonical reconciled message shape.
	Message = message.Message
	// ChatSession is the canonical session shape.
	ChatSession = session.ChatSession
	// CreateRequest carries the fields of an explicit "start chat" call.
	CreateRequest = session.CreateRequest
	// Rating is the post-resolution feedback shape.
	Rating = session.Rating
	// TypingSignal identifies one composing participant in one session.
	TypingSignal = presence.TypingSignal
	// AvailabilityResult is the outcome of an availability check.
	AvailabilityResult = availability.Result
	// Schedule is the local business-hours fallback schedule.
	Schedule = availability.Schedule
)

// Engine is the synchronization engine for one authenticated participant.
// All exported methods are safe for concurrent use.
type Engine struct {
	logger     *golog.Logger
	credential *auth.Credential
	isAdmin    bool

	transport transport.Transport
	client    *api.Client
	directory *session.Directory
	store     *reconcile.Store
	tracker   *presence.Tracker
	lifecycle *lifecycle.Controller
	router    *assign.Router

	schedule Schedule

	subs []transport.Subscription

	// onMessages is invoked with the session id whose timeline changed.
	// Guarded by messagesMu: registration may race the receive goroutine.
	messagesMu sync.RWMutex
	onMessages func(sessionID string)
}

// New creates an engine from configuration. The credential's claims decide
// the participant role: a token with an admin role gets the admin surface,
// anything else is a customer.
func New(cfg *config.Config, logger *golog.Logger) (*Engine, error) {
	// No else needed: early return pattern (guard clause)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cred, err := auth.NewCredential(cfg.Backend.Token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	backoff := transport.Backoff{
		Initial:    cfg.Reconnect.InitialDelay,
		Max:        cfg.Reconnect.MaxDelay,
		Multiplier: cfg.Reconnect.Multiplier,
	}
	tr := transport.NewWebSocketTransport(cfg.SocketURL(), cfg.Backend.Token, backoff, logger)
	client := api.NewClient(cfg.APIBase(), cfg.Backend.Token, logger)

	weekly, err := cfg.Availability.WeeklyWindows()
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	schedule := Schedule{
		Enabled:        cfg.Availability.Enabled,
		OverrideOnline: cfg.Availability.OverrideOnline,
		Timezone:       cfg.Availability.Timezone,
		Weekly:         weekly,
		OfflineMessage: cfg.Availability.OfflineMessage,
		Holidays:       cfg.Availability.Holidays,
	}

	return newEngine(cred, tr, client, schedule, logger)
}

// newEngine wires the engine components over an arbitrary transport and
// client. Tests construct engines through here with fakes.
func newEngine(cred *auth.Credential, tr transport.Transport, client *api.Client, schedule Schedule, logger *golog.Logger) (*Engine, error) {
	if cred.Expired(time.Now()) {
		return nil, chaterrors.ErrExpiredToken(nil)
	}

	claims := cred.Claims()
	isAdmin := claims.IsAdmin()

	selfRole := message.SenderCustomer
	roleName := constants.RoleCustomer
	if isAdmin {
		selfRole = message.SenderAgent
		roleName = constants.RoleAgent
	}

	e := &Engine{
		logger:     logger.WithGroup("livechat"),
		credential: cred,
		isAdmin:    isAdmin,
		transport:  tr,
		client:     client,
		schedule:   schedule,
	}

	e.directory = session.NewDirectory(client, tr, logger)
	e.store = reconcile.NewStore(selfRole, logger)
	e.tracker = presence.NewTracker(tr, presence.TypingSignal{
		ParticipantID: claims.UserID,
		Name:          claims.Name,
		Role:          roleName,
	}, logger)
	e.lifecycle = lifecycle.NewController(e.directory, !isAdmin, logger)
	if isAdmin {
		e.router = assign.NewRouter(client, e.directory, tr,
			session.AdminRef{ID: claims.UserID, Name: claims.Name}, logger)
	}

	e.wireEvents()
	return e, nil
}

// Start connects the persistent connection and loads the initial session
// list. A failed dial is not fatal: the transport keeps retrying in the
// background and the engine serves over the request/response fallback
// meanwhile.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transport.Connect(); err != nil {
		e.logger.Warn("Initial socket connect failed, continuing over fallback", "error", err)
	}

	_, err := e.directory.Refresh(ctx)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	// Rejoin rooms for every known session so push events flow
	for _, sess := range e.directory.List() {
		if !sess.Status.IsTerminal() {
			e.transport.JoinRoom(sess.ID)
		}
	}
	return nil
}

// Close tears the engine down: the socket disconnects and no further events
// are dispatched. The engine cannot be restarted.
func (e *Engine) Close() error {
	for _, unsub := range e.subs {
		unsub()
	}
	e.subs = nil
	return e.transport.Disconnect()
}

// IsConnected reports whether the persistent connection is currently up.
// While false the engine is in fallback mode and callers may surface a
// reconnecting indicator.
func (e *Engine) IsConnected() bool {
	return e.transport.IsConnected()
}

// wireEvents subscribes the engine's components to the push event stream.
// Handlers run serially on the receive goroutine, preserving arrival order.
func (e *Engine) wireEvents() {
	e.subs = append(e.subs,
		e.transport.On(constants.EventNewMessage, e.handleNewMessage),
		e.transport.On(constants.EventSessionAssigned, e.handleAssigned),
		e.transport.On(constants.EventStatusUpdated, e.handleStatusUpdated),
		e.transport.On(constants.EventListChanged, e.handleListChanged),
		e.transport.On(constants.EventTypingStart, e.handleTyping(true)),
		e.transport.On(constants.EventTypingStop, e.handleTyping(false)),
		e.transport.On(constants.EventMessageStatus, e.handleMessageStatus),
		e.transport.On(constants.EventError, e.handleServerError),
		e.transport.OnConnectionChange(e.handleConnectionChange),
	)
}

// handleNewMessage normalizes and reconciles one pushed message. Events for
// sessions this participant does not know are logged and dropped, never
// crashed on: after claims and room switches a stray event is expected.
func (e *Engine) handleNewMessage(ev transport.Event) {
	msg, err := message.Normalize(ev.Payload)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		e.logger.Warn("Dropping malformed message event", "error", err)
		metrics.EventsDropped.Inc()
		return
	}

	// No else needed: early return pattern (guard clause)
	if !e.knownSession(msg.SessionID) {
		e.logger.Info("Dropping message for unknown session", "session_id", msg.SessionID)
		metrics.EventsDropped.Inc()
		return
	}

	e.store.Timeline(msg.SessionID).Ingest(msg)

	// The sender is no longer composing once their message lands
	e.tracker.HandleStop(presence.TypingSignal{
		SessionID:     msg.SessionID,
		ParticipantID: firstPayloadString(ev.Payload, "sender_id", "participant_id"),
	})

	e.touchActivity(msg.SessionID, msg.Timestamp)
	e.notifyMessages(msg.SessionID)
}

// handleAssigned applies a session_assigned push so rosters on every
// connected admin view update without a reload.
func (e *Engine) handleAssigned(ev transport.Event) {
	sessionID := firstPayloadString(ev.Payload, "session_id", "room")
	admin, ok := ev.Payload["admin"].(map[string]interface{})
	// No else needed: early return pattern (guard clause)
	if sessionID == "" || !ok {
		e.logger.Warn("Dropping malformed assignment event")
		metrics.EventsDropped.Inc()
		return
	}

	ref := session.AdminRef{
		ID:   firstPayloadString(admin, "id", "user_id"),
		Name: firstPayloadString(admin, "name"),
	}

	if e.router != nil {
		e.router.ApplyAssigned(sessionID, ref)
		return
	}

	// Customer view: the session gains its assigned admin
	sess, err := e.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		e.logger.Info("Dropping assignment event for unknown session", "session_id", sessionID)
		return
	}
	sess.AssignedAdmin = &ref
	if sess.Status == session.StatusOpen {
		sess.Status = session.StatusInProgress
	}
	e.directory.ApplyUpsert(sess)
}

func (e *Engine) handleStatusUpdated(ev transport.Event) {
	sessionID := firstPayloadString(ev.Payload, "session_id", "room")
	status := firstPayloadString(ev.Payload, "status")
	// No else needed: early return pattern (guard clause)
	if sessionID == "" || status == "" {
		e.logger.Warn("Dropping malformed status event")
		metrics.EventsDropped.Inc()
		return
	}

	notes := firstPayloadString(ev.Payload, "notes", "resolution_notes")
	e.lifecycle.ApplyRemote(sessionID, session.Status(status), notes)
}

// handleListChanged refreshes the directory off the event goroutine so a slow
// fetch cannot stall reconciliation.
func (e *Engine) handleListChanged(transport.Event) {
	util.SafeGo(e.logger, "refreshSessions", func() {
		ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
		defer cancel()
		// No else needed: error handling logs and moves on, the next push or
		// reconnect refreshes again
		if _, err := e.directory.Refresh(ctx); err != nil {
			util.LogError(e.logger, "livechat", "refresh session list", err)
		}
	})
}

func (e *Engine) handleTyping(start bool) transport.Handler {
	return func(ev transport.Event) {
		signal := presence.TypingSignal{
			SessionID:     firstPayloadString(ev.Payload, "session_id", "room"),
			ParticipantID: firstPayloadString(ev.Payload, "participant_id", "sender_id", "user_id"),
			Name:          firstPayloadString(ev.Payload, "name"),
			Role:          firstPayloadString(ev.Payload, "role"),
		}
		if start {
			e.tracker.HandleStart(signal)
			return
		}
		e.tracker.HandleStop(signal)
	}
}

func (e *Engine) handleMessageStatus(ev transport.Event) {
	sessionID := firstPayloadString(ev.Payload, "session_id", "room")
	messageID := firstPayloadString(ev.Payload, "message_id", "id")
	status := firstPayloadString(ev.Payload, "status")
	// No else needed: early return pattern (guard clause)
	if sessionID == "" || messageID == "" || status == "" {
		metrics.EventsDropped.Inc()
		return
	}

	if e.store.Timeline(sessionID).MarkStatus(messageID, message.DeliveryStatus(status)) {
		e.notifyMessages(sessionID)
	}
}

func (e *Engine) handleServerError(ev transport.Event) {
	e.logger.Warn("Server pushed an error event",
		"code", firstPayloadString(ev.Payload, "code"),
		"message", firstPayloadString(ev.Payload, "message", "error"))
}

// handleConnectionChange refreshes authoritative state after every outage:
// the session list is re-listed and the active session's history is refetched,
// because any number of events may have been missed while offline.
func (e *Engine) handleConnectionChange(connected bool) {
	// No else needed: early return pattern (guard clause)
	if !connected {
		return
	}

	util.SafeGo(e.logger, "resyncAfterReconnect", func() {
		ctx, cancel := util.NewTimeoutContext(constants.HistoryFetchTimeout)
		defer cancel()

		if _, err := e.directory.Refresh(util.NewContextWithTraceID(ctx)); err != nil {
			util.LogError(e.logger, "livechat", "refresh after reconnect", err)
		}

		active := e.store.Active()
		// No else needed: early return pattern (guard clause)
		if active == "" {
			return
		}
		e.refetchHistory(ctx, active)
	})
}

// StartChat opens a chat for the customer: the availability gate runs first,
// then the one-open-session guard reuses an existing session, otherwise the
// backend creates one (or answers the create race with the existing session,
// which is adopted). The session's room is joined and it becomes active.
func (e *Engine) StartChat(ctx context.Context, req CreateRequest) (*ChatSession, error) {
	avail, err := e.Availability(ctx)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if !avail.IsOpen {
		return nil, chaterrors.ErrUnavailable(avail.Message)
	}

	claims := e.credential.Claims()
	if existing, err := e.directory.FindOpen(claims.UserID); err == nil && existing != nil {
		e.logger.Info("Reusing existing open session", "session_id", existing.ID)
		e.ActivateSession(existing.ID)
		return existing, nil
	}

	sess, _, err := e.directory.Create(ctx, req)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	e.ActivateSession(sess.ID)
	return sess, nil
}

// Sessions returns the cached session list, newest activity first.
func (e *Engine) Sessions() []*ChatSession {
	return e.directory.List()
}

// RefreshSessions re-lists sessions from the backend.
func (e *Engine) RefreshSessions(ctx context.Context) ([]*ChatSession, error) {
	return e.directory.Refresh(ctx)
}

// Session returns one cached session.
func (e *Engine) Session(sessionID string) (*ChatSession, error) {
	return e.directory.Get(sessionID)
}

// OnSessionsChanged registers a callback invoked with (session, removed)
// after every directory change.
func (e *Engine) OnSessionsChanged(fn func(sess *ChatSession, removed bool)) {
	e.directory.OnChange(fn)
}

// ActivateSession makes the session the one the view is showing: its room is
// joined, its history is fetched in the background, and typing state for the
// previous session is dropped. The fetch is tagged with the session id so a
// slow response arriving after another switch is discarded, not merged.
func (e *Engine) ActivateSession(sessionID string) {
	previous := e.store.Active()
	if previous != "" && previous != sessionID {
		e.tracker.Reset(previous)
	}

	e.store.SetActive(sessionID)
	// No else needed: early return pattern (guard clause)
	if sessionID == "" {
		return
	}

	e.transport.JoinRoom(sessionID)

	util.SafeGo(e.logger, "fetchHistory", func() {
		ctx, cancel := util.NewTimeoutContext(constants.HistoryFetchTimeout)
		defer cancel()
		e.refetchHistory(util.NewContextWithTraceID(ctx), sessionID)
	})
}

// ActiveSession returns the currently-active session id, or empty.
func (e *Engine) ActiveSession() string {
	return e.store.Active()
}

// refetchHistory fetches and applies a session's history, honoring the
// stale-fetch guard.
func (e *Engine) refetchHistory(ctx context.Context, sessionID string) {
	history, err := e.client.FetchHistory(ctx, sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(e.logger, "livechat", "fetch history", err, "session_id", sessionID)
		return
	}
	if e.store.ApplyHistoryIfActive(sessionID, history) {
		e.notifyMessages(sessionID)
	}
}

// Messages returns the reconciled, ordered message list for a session.
func (e *Engine) Messages(sessionID string) []*Message {
	return e.store.Timeline(sessionID).Messages()
}

// OnMessagesChanged registers a callback invoked with the session id whose
// timeline changed. Views re-read Messages on it.
func (e *Engine) OnMessagesChanged(fn func(sessionID string)) {
	e.messagesMu.Lock()
	defer e.messagesMu.Unlock()
	e.onMessages = fn
}

func (e *Engine) notifyMessages(sessionID string) {
	e.messagesMu.RLock()
	fn := e.onMessages
	e.messagesMu.RUnlock()

	if fn != nil {
		fn(sessionID)
	}
}

// SendMessage sends a message with optimistic local echo. The placeholder
// renders immediately with a temporary id and status sending; the socket path
// resolves it via the pushed echo, the fallback path via the response ack.
// On failure the placeholder is marked failed and left visible for an
// explicit resend. Returns the placeholder as first rendered.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string, attachments ...string) (*Message, error) {
	// No else needed: early return pattern (guard clause)
	if err := message.ValidateOutgoing(content); err != nil {
		return nil, err
	}
	// No else needed: early return pattern (guard clause)
	if err := e.lifecycle.GuardOutgoing(sessionID); err != nil {
		return nil, err
	}

	// Sending ends the local typing signal
	e.tracker.StopTyping(sessionID)

	placeholder := e.store.Timeline(sessionID).AppendLocal(content, attachments)
	e.notifyMessages(sessionID)

	if e.transport.Emit(constants.EmitSendMessage, map[string]interface{}{
		"session_id":  sessionID,
		"content":     content,
		"attachments": attachments,
		"temp_id":     placeholder.ID,
	}) {
		// The pushed echo will reconcile the placeholder
		return placeholder, nil
	}

	// Fallback: request/response send with the ack confirming the placeholder
	metrics.RestFallbacks.Inc()
	util.SafeGo(e.logger, "sendFallback", func() {
		sendCtx, cancel := util.NewTimeoutContext(constants.SendFallbackTimeout)
		defer cancel()

		ack, err := e.client.SendMessage(util.NewContextWithTraceID(sendCtx), sessionID, content, attachments)
		if err != nil {
			util.LogError(e.logger, "livechat", "send message fallback", err,
				"session_id", sessionID, "temp_id", placeholder.ID)
			e.store.Timeline(sessionID).MarkFailed(placeholder.ID)
			e.notifyMessages(sessionID)
			return
		}
		if e.store.Timeline(sessionID).Confirm(placeholder.ID, ack.ID, ack.Timestamp, ack.Status) {
			e.notifyMessages(sessionID)
		}
	})
	return placeholder, nil
}

// ResendMessage retries a failed placeholder. The placeholder re-arms to
// status sending with a fresh timestamp and the send runs again over
// whichever path is available.
func (e *Engine) ResendMessage(ctx context.Context, sessionID, tempID string) error {
	// No else needed: early return pattern (guard clause)
	if err := e.lifecycle.GuardOutgoing(sessionID); err != nil {
		return err
	}

	rearmed := e.store.Timeline(sessionID).Resend(tempID)
	// No else needed: early return pattern (guard clause)
	if rearmed == nil {
		return fmt.Errorf("no failed message %s in session %s", tempID, sessionID)
	}
	e.notifyMessages(sessionID)

	if e.transport.Emit(constants.EmitSendMessage, map[string]interface{}{
		"session_id":  sessionID,
		"content":     rearmed.Content,
		"attachments": rearmed.Attachments,
		"temp_id":     rearmed.ID,
	}) {
		return nil
	}

	metrics.RestFallbacks.Inc()
	ack, err := e.client.SendMessage(ctx, sessionID, rearmed.Content, rearmed.Attachments)
	if err != nil {
		e.store.Timeline(sessionID).MarkFailed(rearmed.ID)
		e.notifyMessages(sessionID)
		return chaterrors.NewSendError("Resend failed", err)
	}
	if e.store.Timeline(sessionID).Confirm(rearmed.ID, ack.ID, ack.Timestamp, ack.Status) {
		e.notifyMessages(sessionID)
	}
	return nil
}

// InputChanged reports local typing activity in the active session's composer.
func (e *Engine) InputChanged(sessionID string) {
	e.tracker.InputChanged(sessionID)
}

// StopTyping explicitly ends the local typing signal, e.g. on blur.
func (e *Engine) StopTyping(sessionID string) {
	e.tracker.StopTyping(sessionID)
}

// Typing returns the set of other participants currently composing.
func (e *Engine) Typing(sessionID string) []TypingSignal {
	return e.tracker.Typing(sessionID)
}

// OnTypingChanged registers a callback invoked when a session's typing-set changes.
func (e *Engine) OnTypingChanged(fn func(sessionID string, typing []TypingSignal)) {
	e.tracker.OnChange(fn)
}

// Claim assigns an unassigned session to the acting admin, waiting for the
// server's decision. Losing the race returns an already-claimed error with
// the authoritative session adopted into the roster. Admin only.
func (e *Engine) Claim(ctx context.Context, sessionID string) (*ChatSession, error) {
	// No else needed: early return pattern (guard clause)
	if e.router == nil {
		return nil, chaterrors.NewAuthError(chaterrors.ErrCodeForbidden, "Claiming requires an admin credential", nil)
	}
	return e.router.Claim(ctx, sessionID)
}

// UpdateStatus requests a lifecycle transition. The transition is validated
// locally first, then the backend decides; the response (and the mirrored
// push event) update every view.
func (e *Engine) UpdateStatus(ctx context.Context, sessionID string, to session.Status, notes string) (*ChatSession, error) {
	// No else needed: early return pattern (guard clause)
	if err := e.lifecycle.CheckTransition(sessionID, to); err != nil {
		return nil, err
	}

	sess, err := e.client.UpdateStatus(ctx, sessionID, to, notes)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	e.lifecycle.ApplyRemote(sess.ID, sess.Status, sess.ResolutionNotes)
	return sess, nil
}

// Resolve closes a session as resolved, optionally with resolution notes.
func (e *Engine) Resolve(ctx context.Context, sessionID, notes string) (*ChatSession, error) {
	return e.UpdateStatus(ctx, sessionID, session.StatusResolved, notes)
}

// CloseSession closes a session without resolution.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	return e.UpdateStatus(ctx, sessionID, session.StatusClosed, "")
}

// Reopen explicitly reopens a terminal session.
func (e *Engine) Reopen(ctx context.Context, sessionID string) (*ChatSession, error) {
	sess, err := e.UpdateStatus(ctx, sessionID, session.StatusOpen, "")
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}
	e.transport.JoinRoom(sessionID)
	return sess, nil
}

// OnRatingPrompt registers the customer-side callback fired exactly once when
// a session first reaches a terminal status.
func (e *Engine) OnRatingPrompt(fn func(sessionID string)) {
	e.lifecycle.OnRatingPrompt(fn)
}

// SubmitRating attaches post-resolution feedback to a terminal session.
// A session accepts at most one rating; rating does not change its status.
func (e *Engine) SubmitRating(ctx context.Context, sessionID string, rating Rating) error {
	// No else needed: early return pattern (guard clause)
	if err := e.lifecycle.CheckRating(sessionID, rating.Score); err != nil {
		return err
	}

	// No else needed: early return pattern (guard clause)
	if err := e.client.SubmitRating(ctx, sessionID, &rating); err != nil {
		return err
	}

	rating.RatedAt = time.Now()
	e.lifecycle.ApplyRating(sessionID, &rating)
	return nil
}

// Availability reports whether live support is currently staffed. The backend
// endpoint is authoritative; when it is unreachable the local schedule is the
// fallback so the gate still answers deterministically.
func (e *Engine) Availability(ctx context.Context) (AvailabilityResult, error) {
	checkCtx, cancel := context.WithTimeout(ctx, constants.AvailabilityTimeout)
	defer cancel()

	result, err := e.client.CheckAvailability(checkCtx)
	if err == nil {
		return result, nil
	}

	e.logger.Warn("Availability endpoint unreachable, using local schedule", "error", err)
	return availability.Check(time.Now(), e.schedule)
}

// OnConnectionChange registers a callback for connection-state flips, used to
// drive a reconnecting indicator.
func (e *Engine) OnConnectionChange(fn func(connected bool)) {
	e.subs = append(e.subs, e.transport.OnConnectionChange(fn))
}

// IsAdmin reports whether this engine carries the admin surface.
func (e *Engine) IsAdmin() bool {
	return e.isAdmin
}

// knownSession reports whether the participant is a party to the session,
// either via the directory or an already-tracked timeline.
func (e *Engine) knownSession(sessionID string) bool {
	if e.store.Has(sessionID) {
		return true
	}
	_, err := e.directory.Get(sessionID)
	return err == nil
}

// touchActivity bumps the session's last-activity time so roster ordering
// tracks message flow.
func (e *Engine) touchActivity(sessionID string, ts time.Time) {
	sess, err := e.directory.Get(sessionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return
	}
	if ts.After(sess.LastActivityAt) {
		sess.LastActivityAt = ts
		e.directory.ApplyUpsert(sess)
	}
}

// firstPayloadString returns the first non-empty string under any of the keys.
func firstPayloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
