package message

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingSessionID is returned when a payload carries no session reference
	ErrMissingSessionID = errors.New("payload has no session id")
	// ErrMissingContent is returned when a non-system payload carries no content
	ErrMissingContent = errors.New("payload has no content")
	// ErrMissingMessageID is returned when a non-system payload carries no
	// authoritative id; without one the idempotent-discard rule cannot work
	ErrMissingMessageID = errors.New("payload has no message id")
)

// Field aliases tolerated at the transport boundary. The same logical message
// arrives with different shapes depending on whether it came from a history
// fetch, a push event, or a local echo.
var (
	idFields        = []string{"id", "_id", "message_id", "messageId"}
	sessionFields   = []string{"session_id", "sessionId", "room", "chat_id", "chatId"}
	contentFields   = []string{"content", "message", "text", "body"}
	senderFields    = []string{"sender", "sender_type", "senderType", "role", "from"}
	timestampFields = []string{"timestamp", "created_at", "createdAt", "ts", "time"}
	statusFields    = []string{"status", "delivery_status", "deliveryStatus"}
	systemFields    = []string{"system", "is_system", "isSystem"}
)

// Normalize converts a loosely-typed payload into the canonical Message.
// It tolerates the field-name variants above and both RFC3339 and unix
// timestamps. Sender values "admin" and "ai" map to the agent role; anything
// else, including absence, maps to the customer role.
func Normalize(payload map[string]interface{}) (*Message, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMissingSessionID)
	}

	msg := &Message{
		ID:        firstString(payload, idFields),
		SessionID: firstString(payload, sessionFields),
		Content:   firstString(payload, contentFields),
		System:    firstBool(payload, systemFields),
	}

	// No else needed: early return pattern (guard clause)
	if msg.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	// No else needed: early return pattern (guard clause)
	if msg.Content == "" && !msg.System {
		return nil, ErrMissingContent
	}
	// No else needed: early return pattern (guard clause)
	if msg.ID == "" && !msg.System {
		return nil, ErrMissingMessageID
	}

	msg.Sender = normalizeSender(firstString(payload, senderFields))
	msg.Timestamp = normalizeTimestamp(payload)
	msg.Status = normalizeStatus(firstString(payload, statusFields))

	if atts, ok := payload["attachments"].([]interface{}); ok {
		for _, a := range atts {
			if s, ok := a.(string); ok && s != "" {
				msg.Attachments = append(msg.Attachments, s)
			}
		}
	}

	return msg, nil
}

// normalizeSender maps the sender value variants onto the canonical roles.
func normalizeSender(raw string) SenderRole {
	switch raw {
	case "agent", "admin", "ai", "staff", "operator":
		return SenderAgent
	default:
		return SenderCustomer
	}
}

// normalizeStatus maps delivery-status variants onto the canonical tagged union.
// An authoritative message without a status is at least sent.
func normalizeStatus(raw string) DeliveryStatus {
	switch DeliveryStatus(raw) {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return DeliveryStatus(raw)
	default:
		return StatusSent
	}
}

// normalizeTimestamp extracts a timestamp from any tolerated field, accepting
// RFC3339 strings, unix seconds, and unix milliseconds. Falls back to now so
// a shape the backend forgot to stamp still enters the recency window.
func normalizeTimestamp(payload map[string]interface{}) time.Time {
	for _, field := range timestampFields {
		raw, ok := payload[field]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		case float64:
			return unixToTime(int64(v))
		case int64:
			return unixToTime(v)
		case time.Time:
			return v
		}
	}
	return time.Now()
}

// unixToTime interprets values above 1e12 as milliseconds, otherwise seconds.
func unixToTime(v int64) time.Time {
	if v > 1_000_000_000_000 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}

func firstString(payload map[string]interface{}, fields []string) string {
	for _, field := range fields {
		if v, ok := payload[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstBool(payload map[string]interface{}, fields []string) bool {
	for _, field := range fields {
		if v, ok := payload[field].(bool); ok {
			return v
		}
	}
	return false
}
