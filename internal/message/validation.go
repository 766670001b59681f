package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/real-rm/livechat/internal/constants"
)

var (
	// ErrEmptyContent is returned when an outgoing message has no content
	ErrEmptyContent = errors.New("message content cannot be empty")
	// ErrContentTooLong is returned when an outgoing message exceeds the length cap
	ErrContentTooLong = errors.New("message content too long")
)

// ValidateOutgoing checks an outgoing message before it reaches the transport.
// Validation failures are local and pre-submit; they never produce a network call.
func ValidateOutgoing(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	// No else needed: early return pattern (guard clause)
	if len(content) > constants.MaxContentLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrContentTooLong, len(content), constants.MaxContentLength)
	}
	return nil
}
