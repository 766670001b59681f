// Package errors provides error handling functionality for the livechat engine.
// It defines error categories, error codes, and constructors for the failure
// modes the engine distinguishes when reconciling with the backend.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryTransport represents connection-down failures, recovered by the
	// REST fallback and automatic room rejoin on reconnect
	CategoryTransport ErrorCategory = "transport"
	// CategoryContested represents duplicate/contested actions (claiming an
	// already-claimed session, creating a session that already exists),
	// recovered by adopting the server's authoritative result
	CategoryContested ErrorCategory = "contested"
	// CategorySend represents send failures localized to one placeholder message
	CategorySend ErrorCategory = "send"
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents local pre-submit validation errors
	CategoryValidation ErrorCategory = "validation"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Transport errors
	ErrCodeDisconnected  ErrorCode = "TRANSPORT_DISCONNECTED"
	ErrCodeConnectFailed ErrorCode = "CONNECT_FAILED"

	// Contested-action errors
	ErrCodeSessionExists  ErrorCode = "SESSION_ALREADY_EXISTS"
	ErrCodeAlreadyClaimed ErrorCode = "SESSION_ALREADY_CLAIMED"

	// Send errors
	ErrCodeSendFailed ErrorCode = "SEND_FAILED"

	// Auth errors
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation errors
	ErrCodeInvalidFormat   ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField    ErrorCode = "MISSING_FIELD"
	ErrCodeSessionTerminal ErrorCode = "SESSION_TERMINAL"
	ErrCodeUnavailable     ErrorCode = "SUPPORT_UNAVAILABLE"
)

// ChatError represents an engine error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal for the current view.
// Only auth failures are fatal; everything else the engine reconciles around.
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// NewTransportError creates a transport error (recoverable via REST fallback)
func NewTransportError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryTransport,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewContestedError creates a contested-action error (recoverable by adopting
// the server's authoritative result)
func NewContestedError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryContested,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewSendError creates a send error (recoverable by user-initiated resend)
func NewSendError(message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategorySend,
		Code:        ErrCodeSendFailed,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewAuthError creates an authentication error (fatal for the current view)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewValidationError creates a local pre-submit validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrDisconnected creates a transport-unavailable error
func ErrDisconnected() *ChatError {
	return NewTransportError(ErrCodeDisconnected, "Connection is down, falling back to request/response", nil)
}

// ErrSessionExists creates a session-already-exists error carrying no session;
// callers adopt the session the server returned alongside the conflict.
func ErrSessionExists(cause error) *ChatError {
	return NewContestedError(ErrCodeSessionExists, "Customer already has an open session", cause)
}

// ErrAlreadyClaimed creates an already-claimed error
func ErrAlreadyClaimed(assigneeID string) *ChatError {
	return NewContestedError(ErrCodeAlreadyClaimed,
		fmt.Sprintf("Session is already assigned to %s", assigneeID), nil)
}

// ErrExpiredToken creates an expired credential error
func ErrExpiredToken(cause error) *ChatError {
	return NewAuthError(ErrCodeExpiredToken, "Credential has expired, re-authentication required", cause)
}

// ErrInvalidToken creates an invalid credential error
func ErrInvalidToken(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid credential", cause)
}

// ErrSessionTerminal creates a terminal-session rejection error
func ErrSessionTerminal(sessionID string) *ChatError {
	return NewValidationError(ErrCodeSessionTerminal,
		fmt.Sprintf("Session %s is closed and rejects new messages", sessionID), nil)
}

// ErrMissingField creates a missing required field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrUnavailable creates a support-closed error
func ErrUnavailable(message string) *ChatError {
	return NewValidationError(ErrCodeUnavailable, message, nil)
}
