package testutil

import (
	"sync"

	"github.com/real-rm/livechat/internal/transport"
)

// EmittedEvent records one Emit call made against the fake transport.
type EmittedEvent struct {
	Name    string
	Payload map[string]interface{}
}

// FakeTransport is an in-memory transport.Transport for unit tests. Tests
// flip the connection state with SetConnected and inject push events with
// Push; handlers run synchronously on the caller's goroutine, matching the
// serial dispatch of the real transport.
type FakeTransport struct {
	mu        sync.Mutex
	connected bool
	rooms     map[string]struct{}
	emitted   []EmittedEvent

	handlers map[string][]transport.Handler
	connSubs []func(bool)
}

// NewFakeTransport creates a fake transport in the disconnected state.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		rooms:    make(map[string]struct{}),
		handlers: make(map[string][]transport.Handler),
	}
}

// Connect marks the transport connected and notifies subscribers.
func (f *FakeTransport) Connect() error {
	f.SetConnected(true)
	return nil
}

// Disconnect marks the transport disconnected and notifies subscribers.
func (f *FakeTransport) Disconnect() error {
	f.SetConnected(false)
	return nil
}

// SetConnected flips the connection state and fires the change handlers.
func (f *FakeTransport) SetConnected(connected bool) {
	f.mu.Lock()
	changed := f.connected != connected
	f.connected = connected
	subs := append([]func(bool){}, f.connSubs...)
	f.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if !changed {
		return
	}
	for _, fn := range subs {
		fn(connected)
	}
}

// JoinRoom records the room as joined.
func (f *FakeTransport) JoinRoom(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[sessionID] = struct{}{}
}

// LeaveRoom removes the room.
func (f *FakeTransport) LeaveRoom(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, sessionID)
}

// InRoom reports whether the room has been joined.
func (f *FakeTransport) InRoom(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[sessionID]
	return ok
}

// Emit records the event when connected; when disconnected it reports false
// like the real transport.
func (f *FakeTransport) Emit(event string, payload map[string]interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	// No else needed: early return pattern (guard clause)
	if !f.connected {
		return false
	}
	f.emitted = append(f.emitted, EmittedEvent{Name: event, Payload: payload})
	return true
}

// Emitted returns a snapshot of all recorded Emit calls.
func (f *FakeTransport) Emitted() []EmittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EmittedEvent(nil), f.emitted...)
}

// EmittedNamed returns the recorded Emit calls for one event name.
func (f *FakeTransport) EmittedNamed(name string) []EmittedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []EmittedEvent{}
	for _, ev := range f.emitted {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// On registers a handler for an event name.
func (f *FakeTransport) On(event string, h transport.Handler) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[event] = append(f.handlers[event], h)
	idx := len(f.handlers[event]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if idx < len(f.handlers[event]) {
			f.handlers[event][idx] = func(transport.Event) {}
		}
	}
}

// IsConnected reports the fake's connection state.
func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// OnConnectionChange registers a connection-state handler.
func (f *FakeTransport) OnConnectionChange(fn func(connected bool)) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connSubs = append(f.connSubs, fn)
	idx := len(f.connSubs) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if idx < len(f.connSubs) {
			f.connSubs[idx] = func(bool) {}
		}
	}
}

// Push delivers a push event to every registered handler, synchronously.
func (f *FakeTransport) Push(event string, payload map[string]interface{}) {
	f.mu.Lock()
	snapshot := append([]transport.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()

	ev := transport.Event{Name: event, Payload: payload}
	for _, h := range snapshot {
		h(ev)
	}
}
