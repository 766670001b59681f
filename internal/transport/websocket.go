package transport

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"

	"github.com/real-rm/livechat/internal/constants"
	"github.com/real-rm/livechat/internal/metrics"
	"github.com/real-rm/livechat/internal/util"
)

// ErrAlreadyClosed is returned when Disconnect is called twice.
var ErrAlreadyClosed = errors.New("transport already closed")

// Backoff tunes the reconnect delay curve: the delay starts at Initial and
// multiplies by Multiplier after every failed dial, capped at Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the standard reconnect curve.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    constants.InitialRetryDelay,
		Max:        constants.MaxRetryDelay,
		Multiplier: constants.RetryMultiplier,
	}
}

// normalize fills unset fields so a zero-value Backoff still reconnects.
func (b Backoff) normalize() Backoff {
	if b.Initial <= 0 {
		b.Initial = constants.InitialRetryDelay
	}
	if b.Max < b.Initial {
		b.Max = constants.MaxRetryDelay
	}
	if b.Multiplier <= 1 {
		b.Multiplier = constants.RetryMultiplier
	}
	return b
}

// WebSocketTransport is the production Transport over a gorilla/websocket
// client connection. One instance serves one authenticated participant.
type WebSocketTransport struct {
	url     string
	token   string
	backoff Backoff
	logger  *golog.Logger

	registry *handlerRegistry

	// desired is the set of rooms this participant should be in; joined is
	// what the current connection has actually joined. They are reconciled
	// on every connect.
	roomMu  sync.Mutex
	desired map[string]struct{}
	joined  map[string]struct{}

	connMu    sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	connected atomic.Bool
	closed    atomic.Bool

	// generation invalidates pumps of a superseded connection
	generation atomic.Int64

	reconnectOnce sync.Once
	wake          chan struct{}
}

// NewWebSocketTransport creates a transport dialing the given socket URL with
// the given bearer token and reconnect curve. Connect must be called before
// events flow.
func NewWebSocketTransport(url, token string, backoff Backoff, logger *golog.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		url:      url,
		token:    token,
		backoff:  backoff.normalize(),
		logger:   logger.WithGroup("transport"),
		registry: newHandlerRegistry(),
		desired:  make(map[string]struct{}),
		joined:   make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// Connect dials the socket. On dial failure the transport stays in the
// disconnected state and retries in the background with exponential backoff;
// the caller proceeds over the REST fallback until IsConnected flips.
func (t *WebSocketTransport) Connect() error {
	// No else needed: early return pattern (guard clause)
	if t.closed.Load() {
		return ErrAlreadyClosed
	}

	err := t.dial()
	// Reconnect loop runs for the lifetime of the transport regardless of
	// whether the first dial succeeded.
	t.reconnectOnce.Do(func() {
		util.SafeGo(t.logger, "reconnect", t.reconnectLoop)
	})
	return err
}

// Disconnect closes the connection and stops the reconnect loop.
func (t *WebSocketTransport) Disconnect() error {
	// No else needed: early return pattern (guard clause)
	if !t.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	t.dropConnection()

	// Wake the reconnect loop so it observes the closed flag and exits
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsConnected reports the current connection state.
func (t *WebSocketTransport) IsConnected() bool {
	return t.connected.Load()
}

// JoinRoom records the room as desired and joins it on the live connection.
func (t *WebSocketTransport) JoinRoom(sessionID string) {
	if sessionID == "" {
		return
	}

	t.roomMu.Lock()
	t.desired[sessionID] = struct{}{}
	_, already := t.joined[sessionID]
	t.roomMu.Unlock()

	// No else needed: nothing to send when already joined or offline
	if !already && t.emitRoom(constants.EmitJoinRoom, sessionID) {
		t.roomMu.Lock()
		t.joined[sessionID] = struct{}{}
		t.roomMu.Unlock()
	}
}

// LeaveRoom removes the room from the desired set and leaves it on the live
// connection. After this call no further events for the session are expected.
func (t *WebSocketTransport) LeaveRoom(sessionID string) {
	if sessionID == "" {
		return
	}

	t.roomMu.Lock()
	delete(t.desired, sessionID)
	_, wasJoined := t.joined[sessionID]
	delete(t.joined, sessionID)
	t.roomMu.Unlock()

	if wasJoined {
		t.emitRoom(constants.EmitLeaveRoom, sessionID)
	}
}

// Emit sends a typed event on the live connection. Returns false when
// disconnected or the outbound buffer is full; callers fall back to REST.
func (t *WebSocketTransport) Emit(event string, payload map[string]interface{}) bool {
	// No else needed: early return pattern (guard clause)
	if !t.connected.Load() {
		return false
	}

	data, err := util.MarshalJSON(Event{Name: event, Payload: payload})
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(t.logger, "transport", "marshal outbound event", err, "event", event)
		return false
	}

	t.connMu.Lock()
	send := t.send
	t.connMu.Unlock()
	// No else needed: early return pattern (guard clause)
	if send == nil {
		return false
	}

	select {
	case send <- data:
		return true
	default:
		t.logger.Warn("Outbound buffer full, dropping emit", "event", event)
		return false
	}
}

// On registers a handler for an event name.
func (t *WebSocketTransport) On(event string, h Handler) Subscription {
	return t.registry.on(event, h)
}

// OnConnectionChange registers a connection-state handler.
func (t *WebSocketTransport) OnConnectionChange(fn func(bool)) Subscription {
	return t.registry.onConnChange(fn)
}

// dial establishes one connection attempt and, on success, starts the pumps
// and replays the desired room set.
func (t *WebSocketTransport) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: constants.HandshakeTimeout}
	header := http.Header{}
	if t.token != "" {
		header.Set(constants.HeaderAuthorization, constants.BearerPrefix+t.token)
	}

	conn, _, err := dialer.Dial(t.url, header)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(t.logger, "transport", "dial socket", err, "url", t.url)
		return err
	}

	conn.SetReadLimit(constants.DefaultMaxMessageSize)

	gen := t.generation.Add(1)

	t.connMu.Lock()
	t.conn = conn
	t.send = make(chan []byte, constants.SendBufferSize)
	t.connMu.Unlock()

	t.connected.Store(true)
	metrics.SocketConnected.Set(1)
	metrics.Reconnects.Inc()

	util.SafeGo(t.logger, "readPump", func() { t.readPump(conn, gen) })
	util.SafeGo(t.logger, "writePump", func() { t.writePump(conn, gen) })

	t.replayJoins()
	t.registry.notifyConnChange(true)

	t.logger.Info("Socket connected", "url", t.url)
	return nil
}

// replayJoins reconciles the desired room set onto a fresh connection.
// This runs on every connect: a participant must re-issue joins after every
// reconnect before session-scoped push events resume.
func (t *WebSocketTransport) replayJoins() {
	t.roomMu.Lock()
	t.joined = make(map[string]struct{})
	rooms := make([]string, 0, len(t.desired))
	for room := range t.desired {
		rooms = append(rooms, room)
	}
	t.roomMu.Unlock()

	for _, room := range rooms {
		if t.emitRoom(constants.EmitJoinRoom, room) {
			t.roomMu.Lock()
			t.joined[room] = struct{}{}
			t.roomMu.Unlock()
			metrics.RoomsRejoined.Inc()
		}
	}

	if len(rooms) > 0 {
		t.logger.Info("Replayed room joins after connect", "rooms", len(rooms))
	}
}

// emitRoom sends a join/leave event for one room.
func (t *WebSocketTransport) emitRoom(event, sessionID string) bool {
	return t.Emit(event, map[string]interface{}{"session_id": sessionID})
}

// markDisconnected flips the connection state once per outage and wakes the
// reconnect loop.
func (t *WebSocketTransport) markDisconnected(gen int64) {
	// A stale pump from a superseded connection must not flip state
	// No else needed: early return pattern (guard clause)
	if t.generation.Load() != gen {
		return
	}
	// No else needed: early return pattern (guard clause)
	if !t.connected.CompareAndSwap(true, false) {
		return
	}

	metrics.SocketConnected.Set(0)
	t.registry.notifyConnChange(false)
	t.logger.Warn("Socket disconnected")

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// dropConnection closes the current connection without waking the reconnect loop.
func (t *WebSocketTransport) dropConnection() {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"))
		conn.Close()
	}

	if t.connected.CompareAndSwap(true, false) {
		metrics.SocketConnected.Set(0)
		t.registry.notifyConnChange(false)
	}
}

// reconnectLoop re-dials with exponential backoff whenever the connection
// drops, until the transport is closed.
func (t *WebSocketTransport) reconnectLoop() {
	delay := t.backoff.Initial
	for {
		// No else needed: early return pattern (guard clause)
		if t.closed.Load() {
			return
		}

		if t.connected.Load() {
			// Healthy; wait for the next outage
			<-t.wake
			delay = t.backoff.Initial
			continue
		}

		time.Sleep(delay)
		// No else needed: early return pattern (guard clause)
		if t.closed.Load() {
			return
		}
		if err := t.dial(); err != nil {
			delay = time.Duration(float64(delay) * t.backoff.Multiplier)
			if delay > t.backoff.Max {
				delay = t.backoff.Max
			}
			continue
		}
		delay = t.backoff.Initial
	}
}

// readPump reads frames, decodes the typed event envelope, and dispatches
// handlers serially so within-session arrival order is preserved.
func (t *WebSocketTransport) readPump(conn *websocket.Conn, gen int64) {
	defer func() {
		conn.Close()
		t.markDisconnected(gen)
	}()

	conn.SetReadDeadline(time.Now().Add(constants.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(constants.PongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogError(t.logger, "transport", "read frame", err)
			}
			break
		}

		var ev Event
		// No else needed: error handling with continue (skips to next iteration)
		if err := util.UnmarshalJSON(raw, &ev); err != nil {
			t.logger.Warn("Dropping malformed frame", "error", err)
			metrics.EventsDropped.Inc()
			continue
		}

		t.registry.dispatch(ev)
	}
}

// writePump writes outbound frames and heartbeat pings.
func (t *WebSocketTransport) writePump(conn *websocket.Conn, gen int64) {
	t.connMu.Lock()
	send := t.send
	t.connMu.Unlock()

	ticker := time.NewTicker(constants.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		t.markDisconnected(gen)
	}()

	for {
		select {
		case data, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// No else needed: error handling with return (exits function)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(constants.WriteWait))
			// No else needed: error handling with return (exits function)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
