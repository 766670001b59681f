// Package transport manages the persistent bidirectional event connection for
// one authenticated participant, with a typed event protocol, room-scoped
// subscriptions, and automatic reconnect that replays room joins.
//
// Room membership is modeled explicitly as a desired set reconciled against
// the joined set on every connect, rather than relying on callers to rejoin.
package transport

import (
	"sync"
)

// Event is one typed event on the wire. Payloads are loosely typed; the
// message package normalizes them before they reach reconciliation.
type Event struct {
	Name    string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
}

// Handler processes a received event. Handlers run serially on the receive
// goroutine; reconciliation depends on arrival-order processing.
type Handler func(Event)

// Subscription removes a handler when called. Calling it twice is a no-op.
type Subscription func()

// Transport is the persistent connection contract the engine components
// depend on. Implementations never return an error from Emit: when the
// connection is down Emit reports false and callers fall back to
// request/response calls.
type Transport interface {
	// Connect establishes the connection. On failure the transport keeps
	// retrying in the background; IsConnected reflects the current state.
	Connect() error

	// Disconnect tears the connection down and stops reconnecting.
	Disconnect() error

	// JoinRoom adds the session to the desired room set and joins it if
	// connected. Joins are replayed automatically after every reconnect.
	JoinRoom(sessionID string)

	// LeaveRoom removes the session from the desired room set and leaves it
	// if connected. Leaving is mandatory before dropping a session's handlers.
	LeaveRoom(sessionID string)

	// Emit sends a typed event. Returns false when disconnected or the
	// outbound buffer is full; it never blocks and never returns an error.
	Emit(event string, payload map[string]interface{}) bool

	// On registers a handler for an event name.
	On(event string, h Handler) Subscription

	// IsConnected reports the current connection state.
	IsConnected() bool

	// OnConnectionChange registers a handler invoked whenever the connection
	// state flips. Upstream components use this to drive the reconnecting
	// indicator and to refresh state after an outage.
	OnConnectionChange(fn func(connected bool)) Subscription
}

// handlerRegistry is the shared On/Off bookkeeping used by implementations.
type handlerRegistry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	connSubs map[int]func(bool)
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		handlers: make(map[string]map[int]Handler),
		connSubs: make(map[int]func(bool)),
	}
}

// on registers a handler and returns its removal closure.
func (r *handlerRegistry) on(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	// No else needed: initialize if needed (lazy initialization)
	if r.handlers[event] == nil {
		r.handlers[event] = make(map[int]Handler)
	}
	r.handlers[event][id] = h

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[event], id)
	}
}

// onConnChange registers a connection-state handler and returns its removal closure.
func (r *handlerRegistry) onConnChange(fn func(bool)) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.connSubs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.connSubs, id)
	}
}

// dispatch invokes every handler registered for the event, serially.
func (r *handlerRegistry) dispatch(ev Event) {
	r.mu.RLock()
	snapshot := make([]Handler, 0, len(r.handlers[ev.Name]))
	for _, h := range r.handlers[ev.Name] {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	for _, h := range snapshot {
		h(ev)
	}
}

// notifyConnChange invokes every connection-state subscriber.
func (r *handlerRegistry) notifyConnChange(connected bool) {
	r.mu.RLock()
	snapshot := make([]func(bool), 0, len(r.connSubs))
	for _, fn := range r.connSubs {
		snapshot = append(snapshot, fn)
	}
	r.mu.RUnlock()

	for _, fn := range snapshot {
		fn(connected)
	}
}
