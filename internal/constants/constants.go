// Package constants provides centralized constant definitions for the livechat engine.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// Reconciliation timing
const (
	// RecencyWindow bounds the interval used to match a pushed echo to its
	// optimistic placeholder. A placeholder older than this is never a
	// replace candidate and a history refetch may drop it.
	RecencyWindow = 5 * time.Second
)

// Typing indicator timing
const (
	TypingDebounce    = 1 * time.Second // idle time before a local "typing stop" is emitted
	TypingHardTimeout = 6 * time.Second // remote typing entries expire even if the stop event is lost
)

// Transport timing
const (
	PongWait          = 60 * time.Second // time allowed to read the next pong from the peer
	PingPeriod        = (PongWait * 9) / 10
	WriteWait         = 10 * time.Second // time allowed to write a frame to the peer
	HandshakeTimeout  = 10 * time.Second
	InitialRetryDelay = 100 * time.Millisecond
	MaxRetryDelay     = 30 * time.Second
	RetryMultiplier   = 2.0
)

// Timeouts for REST operations
const (
	DefaultContextTimeout = 10 * time.Second // standard request/response calls
	HistoryFetchTimeout   = 15 * time.Second // full message history fetch
	SendFallbackTimeout   = 5 * time.Second  // REST send when the socket is down
	AvailabilityTimeout   = 5 * time.Second  // availability check
	ShortTimeout          = 2 * time.Second  // quick operations like health checks
)

// Sizes and Limits
const (
	DefaultMaxMessageSize = 1048576 // 1MB in bytes for socket frames
	MaxContentLength      = 10000   // maximum message content length accepted pre-submit
	DefaultSessionLimit   = 100     // default number of sessions to return in a list
	MaxSessionLimit       = 1000    // maximum sessions per list query
	SendBufferSize        = 256     // outbound frame channel depth
)

// Participant roles
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

// Push event names received over the persistent connection
const (
	EventNewMessage      = "new_message"
	EventSessionAssigned = "session_assigned"
	EventStatusUpdated   = "session_status_updated"
	EventListChanged     = "session_list_changed"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventMessageStatus   = "message_status"
	EventError           = "error"
)

// Emitted event names sent over the persistent connection
const (
	EmitJoinRoom     = "join_room"
	EmitLeaveRoom    = "leave_room"
	EmitSendMessage  = "send_message"
	EmitClaimSession = "claim_session"
	EmitUpdateStatus = "update_status"
	EmitTypingStart  = "typing_start"
	EmitTypingStop   = "typing_stop"
)

// Default Configuration Values
const (
	DefaultBackendURL = "http://localhost:8080"
	DefaultSocketPath = "/livechat/ws"
	DefaultAPIPrefix  = "/livechat/api"
	DefaultLogLevel   = "info"
	DefaultLogDir     = "logs"
	DefaultTimezone   = "UTC"
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderTraceID       = "X-Trace-Id"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// Rating bounds for post-resolution feedback
const (
	MinRatingScore = 1
	MaxRatingScore = 5
)

// HolidayDateLayout is the date-only layout for holiday exception entries.
const HolidayDateLayout = "2006-01-02"
