package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/real-rm/livechat/internal/auth"
	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/message"
	"github.com/real-rm/livechat/internal/session"
	"github.com/real-rm/livechat/internal/transport"
	"github.com/real-rm/livechat/internal/util"
)

// FakeBackend is an in-process stand-in for the chat service. It serves the
// request/response contract over gin and the persistent connection over a
// plain upgrade endpoint, so engine tests exercise real HTTP and real frames
// without the production service.
type FakeBackend struct {
	Server    *httptest.Server
	validator *auth.JWTValidator
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session.ChatSession
	messages map[string][]*message.Message
	conns    map[*websocket.Conn]struct{}
	joined   map[*websocket.Conn]map[string]struct{}

	// Available controls the /availability answer
	Available bool
	// OfflineMessage is returned when Available is false
	OfflineMessage string
	// FailSends makes every message POST answer 500, for fallback-failure tests
	FailSends bool
}

// NewFakeBackend starts a fake chat backend. Callers must Close it.
func NewFakeBackend() *FakeBackend {
	gin.SetMode(gin.TestMode)

	b := &FakeBackend{
		validator: auth.NewJWTValidator(TestJWTSecret),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions:  make(map[string]*session.ChatSession),
		messages:  make(map[string][]*message.Message),
		conns:     make(map[*websocket.Conn]struct{}),
		joined:    make(map[*websocket.Conn]map[string]struct{}),
		Available: true,
	}

	router := gin.New()
	api := router.Group(constants.DefaultAPIPrefix)
	api.Use(b.requireAuth)
	{
		api.POST("/sessions", b.createSession)
		api.GET("/sessions", b.listSessions)
		api.GET("/sessions/:id", b.getSession)
		api.GET("/sessions/:id/messages", b.listMessages)
		api.POST("/sessions/:id/messages", b.postMessage)
		api.POST("/sessions/:id/claim", b.claimSession)
		api.PATCH("/sessions/:id/status", b.updateStatus)
		api.POST("/sessions/:id/rating", b.submitRating)
		api.GET("/availability", b.availability)
	}
	router.GET(constants.DefaultSocketPath, b.serveSocket)

	b.Server = httptest.NewServer(router)
	return b
}

// Close shuts the backend down and drops all live connections.
func (b *FakeBackend) Close() {
	b.mu.Lock()
	for conn := range b.conns {
		conn.Close()
	}
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()
	b.Server.Close()
}

// URL returns the backend's base URL.
func (b *FakeBackend) URL() string {
	return b.Server.URL
}

// APIBase returns the request/response base URL including the prefix.
func (b *FakeBackend) APIBase() string {
	return b.Server.URL + constants.DefaultAPIPrefix
}

// SocketURL returns the ws:// URL of the persistent connection endpoint.
func (b *FakeBackend) SocketURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http") + constants.DefaultSocketPath
}

// Seed installs a session directly into the store.
func (b *FakeBackend) Seed(sess *session.ChatSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sess.ID] = sess.Clone()
}

// SeedMessage installs a message into a session's history.
func (b *FakeBackend) SeedMessage(msg *message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[msg.SessionID] = append(b.messages[msg.SessionID], msg)
}

// Session returns a clone of a stored session, or nil.
func (b *FakeBackend) Session(sessionID string) *session.ChatSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[sessionID].Clone()
}

// PushToRoom broadcasts an event to every connection joined to the session's room.
func (b *FakeBackend) PushToRoom(sessionID, event string, payload map[string]interface{}) {
	b.push(event, payload, func(conn *websocket.Conn) bool {
		_, in := b.joined[conn][sessionID]
		return in
	})
}

// PushToAll broadcasts an event to every live connection.
func (b *FakeBackend) PushToAll(event string, payload map[string]interface{}) {
	b.push(event, payload, func(*websocket.Conn) bool { return true })
}

// JoinedRooms reports how many live connections have joined the room.
func (b *FakeBackend) JoinedRooms(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, rooms := range b.joined {
		if _, in := rooms[sessionID]; in {
			count++
		}
	}
	return count
}

// DropConnections force-closes every live socket, simulating an outage while
// the server itself stays up.
func (b *FakeBackend) DropConnections() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (b *FakeBackend) push(event string, payload map[string]interface{}, want func(*websocket.Conn) bool) {
	b.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		if want(conn) {
			targets = append(targets, conn)
		}
	}
	b.mu.Unlock()

	ev := transport.Event{Name: event, Payload: payload}
	for _, conn := range targets {
		conn.WriteJSON(ev)
	}
}

func (b *FakeBackend) requireAuth(c *gin.Context) {
	header := c.GetHeader(constants.HeaderAuthorization)
	// No else needed: early return pattern (guard clause)
	if !strings.HasPrefix(header, constants.BearerPrefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	claims, err := b.validator.ValidateToken(header[constants.BearerPrefixLength:])
	// No else needed: early return pattern (guard clause)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.Set("claims", claims)
	c.Next()
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, _ := c.Get("claims")
	claims, _ := v.(*auth.Claims)
	return claims
}

func (b *FakeBackend) createSession(c *gin.Context) {
	claims := claimsFrom(c)

	var req session.CreateRequest
	// Body is optional; an empty create is a valid "start chat"
	_ = c.ShouldBindJSON(&req)

	b.mu.Lock()
	defer b.mu.Unlock()

	// One open session per customer: answer the conflict with the existing one
	for _, sess := range b.sessions {
		if sess.Customer.ID == claims.UserID && !sess.Status.IsTerminal() {
			c.JSON(http.StatusConflict, sess)
			return
		}
	}

	now := time.Now()
	sess := &session.ChatSession{
		ID:             uuid.New().String(),
		Status:         session.StatusOpen,
		Priority:       req.Priority,
		Category:       req.Category,
		Customer:       session.CustomerRef{ID: claims.UserID, Name: claims.Name},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if sess.Priority == "" {
		sess.Priority = session.PriorityMedium
	}
	b.sessions[sess.ID] = sess

	if req.InitialMessage != "" {
		b.messages[sess.ID] = append(b.messages[sess.ID], &message.Message{
			ID:        uuid.New().String(),
			SessionID: sess.ID,
			Content:   req.InitialMessage,
			Sender:    message.SenderCustomer,
			Status:    message.StatusSent,
			Timestamp: now,
		})
	}

	c.JSON(http.StatusCreated, sess)
}

func (b *FakeBackend) listSessions(c *gin.Context) {
	claims := claimsFrom(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	out := []*session.ChatSession{}
	for _, sess := range b.sessions {
		if claims.IsAdmin() || sess.Customer.ID == claims.UserID {
			out = append(out, sess)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (b *FakeBackend) getSession(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[c.Param("id")]
	// No else needed: early return pattern (guard clause)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (b *FakeBackend) listMessages(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if _, ok := b.sessions[c.Param("id")]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	history := b.messages[c.Param("id")]
	if history == nil {
		history = []*message.Message{}
	}
	c.JSON(http.StatusOK, history)
}

func (b *FakeBackend) postMessage(c *gin.Context) {
	claims := claimsFrom(c)

	// No else needed: early return pattern (guard clause)
	if b.FailSends {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send disabled"})
		return
	}

	var req struct {
		Content     string   `json:"content"`
		Attachments []string `json:"attachments"`
	}
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	b.mu.Lock()
	sess, ok := b.sessions[c.Param("id")]
	// No else needed: early return pattern (guard clause)
	if !ok {
		b.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	// No else needed: early return pattern (guard clause)
	if sess.Status.IsTerminal() {
		b.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "session is closed"})
		return
	}

	sender := message.SenderCustomer
	if claims.IsAdmin() {
		sender = message.SenderAgent
	}
	msg := &message.Message{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		Content:     req.Content,
		Attachments: req.Attachments,
		Sender:      sender,
		Status:      message.StatusSent,
		Timestamp:   time.Now(),
	}
	b.messages[sess.ID] = append(b.messages[sess.ID], msg)
	sess.LastActivityAt = msg.Timestamp
	b.mu.Unlock()

	payload, _ := util.ToPayload(msg)
	b.PushToRoom(sess.ID, constants.EventNewMessage, payload)

	c.JSON(http.StatusCreated, msg)
}

func (b *FakeBackend) claimSession(c *gin.Context) {
	claims := claimsFrom(c)

	b.mu.Lock()
	sess, ok := b.sessions[c.Param("id")]
	// No else needed: early return pattern (guard clause)
	if !ok {
		b.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	// First claim wins; later claims get the authoritative assignee back
	if sess.IsAssigned() && sess.AssignedAdmin.ID != claims.UserID {
		b.mu.Unlock()
		c.JSON(http.StatusConflict, sess)
		return
	}
	sess.AssignedAdmin = &session.AdminRef{ID: claims.UserID, Name: claims.Name}
	if sess.Status == session.StatusOpen {
		sess.Status = session.StatusInProgress
	}
	sess.LastActivityAt = time.Now()
	b.mu.Unlock()

	b.PushToRoom(sess.ID, constants.EventSessionAssigned, map[string]interface{}{
		"session_id": sess.ID,
		"admin":      sess.AssignedAdmin,
	})

	c.JSON(http.StatusOK, sess)
}

func (b *FakeBackend) updateStatus(c *gin.Context) {
	var req struct {
		Status          session.Status `json:"status"`
		ResolutionNotes string         `json:"resolution_notes"`
	}
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}

	b.mu.Lock()
	sess, ok := b.sessions[c.Param("id")]
	// No else needed: early return pattern (guard clause)
	if !ok {
		b.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	sess.Status = req.Status
	if req.ResolutionNotes != "" {
		sess.ResolutionNotes = req.ResolutionNotes
	}
	sess.LastActivityAt = time.Now()
	b.mu.Unlock()

	b.PushToRoom(sess.ID, constants.EventStatusUpdated, map[string]interface{}{
		"session_id": sess.ID,
		"status":     string(req.Status),
		"notes":      req.ResolutionNotes,
	})

	c.JSON(http.StatusOK, sess)
}

func (b *FakeBackend) submitRating(c *gin.Context) {
	var rating session.Rating
	// No else needed: early return pattern (guard clause)
	if err := c.ShouldBindJSON(&rating); err != nil || !session.ValidRatingScore(rating.Score) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score must be between 1 and 5"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[c.Param("id")]
	// No else needed: early return pattern (guard clause)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	// No else needed: early return pattern (guard clause)
	if sess.Rating != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "session already rated"})
		return
	}
	rating.RatedAt = time.Now()
	sess.Rating = &rating
	c.JSON(http.StatusCreated, sess)
}

func (b *FakeBackend) availability(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"is_open": b.Available,
		"message": b.OfflineMessage,
	})
}

// serveSocket upgrades the connection and consumes the engine's emitted
// events, honoring room membership so pushes reach the right connections.
func (b *FakeBackend) serveSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader(constants.HeaderAuthorization)
		if strings.HasPrefix(header, constants.BearerPrefix) {
			token = header[constants.BearerPrefixLength:]
		}
	}
	claims, err := b.validator.ValidateToken(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.joined[conn] = make(map[string]struct{})
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		delete(b.joined, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		var ev transport.Event
		// No else needed: early return pattern (guard clause)
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}

		sessionID, _ := ev.Payload["session_id"].(string)
		switch ev.Name {
		case constants.EmitJoinRoom:
			b.mu.Lock()
			b.joined[conn][sessionID] = struct{}{}
			b.mu.Unlock()
		case constants.EmitLeaveRoom:
			b.mu.Lock()
			delete(b.joined[conn], sessionID)
			b.mu.Unlock()
		case constants.EmitSendMessage:
			b.acceptSocketSend(claims, ev.Payload)
		case constants.EmitTypingStart:
			b.relay(conn, sessionID, constants.EventTypingStart, ev.Payload)
		case constants.EmitTypingStop:
			b.relay(conn, sessionID, constants.EventTypingStop, ev.Payload)
		}
	}
}

// acceptSocketSend stores a message sent over the socket and pushes the
// authoritative echo to the whole room, sender included. The sender's engine
// reconciles its optimistic placeholder against that echo.
func (b *FakeBackend) acceptSocketSend(claims *auth.Claims, payload map[string]interface{}) {
	sessionID, _ := payload["session_id"].(string)
	content, _ := payload["content"].(string)
	// No else needed: early return pattern (guard clause)
	if sessionID == "" || content == "" {
		return
	}

	b.mu.Lock()
	sess, ok := b.sessions[sessionID]
	// No else needed: early return pattern (guard clause)
	if !ok || sess.Status.IsTerminal() || b.FailSends {
		b.mu.Unlock()
		return
	}

	sender := message.SenderCustomer
	if claims.IsAdmin() {
		sender = message.SenderAgent
	}
	var attachments []string
	if raw, isList := payload["attachments"].([]interface{}); isList {
		for _, item := range raw {
			if s, isString := item.(string); isString {
				attachments = append(attachments, s)
			}
		}
	}
	msg := &message.Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Content:     content,
		Attachments: attachments,
		Sender:      sender,
		Status:      message.StatusSent,
		Timestamp:   time.Now(),
	}
	b.messages[sessionID] = append(b.messages[sessionID], msg)
	sess.LastActivityAt = msg.Timestamp
	b.mu.Unlock()

	out, _ := util.ToPayload(msg)
	b.PushToRoom(sessionID, constants.EventNewMessage, out)
}

// relay forwards a typing signal to every other connection in the room.
func (b *FakeBackend) relay(from *websocket.Conn, sessionID, event string, payload map[string]interface{}) {
	b.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		if conn == from {
			continue
		}
		if _, in := b.joined[conn][sessionID]; in {
			targets = append(targets, conn)
		}
	}
	b.mu.Unlock()

	ev := transport.Event{Name: event, Payload: payload}
	for _, conn := range targets {
		conn.WriteJSON(ev)
	}
}
