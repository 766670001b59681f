// Package message defines the canonical chat message model and the
// normalization boundary that converts loosely-typed transport payloads
// into it. Downstream reconciliation never branches on raw event shape.
package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/real-rm/gohelper"
)

// SenderRole identifies which party authored a message.
type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderAgent    SenderRole = "agent"
)

// DeliveryStatus is the tagged delivery state of a message. A placeholder is
// a replace candidate for reconciliation only while its status is StatusSending.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// TempIDPrefix marks locally-generated message identities. A temporary id is
// never a match candidate for the authoritative-duplicate check.
const TempIDPrefix = "tmp-"

// Message is the canonical message shape used throughout the engine.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Sender      SenderRole     `json:"sender"`
	Content     string         `json:"content"`
	Attachments []string       `json:"attachments,omitempty"`
	System      bool           `json:"system,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      DeliveryStatus `json:"status"`
}

// NewTempID generates a temporary local message identity.
func NewTempID() string {
	id, err := gohelper.GenUUID(16)
	// No else needed: fallback logic for rare error case
	if err != nil {
		return TempIDPrefix + time.Now().Format("20060102150405.000000000")
	}
	return TempIDPrefix + id
}

// IsTemp reports whether the message still carries a temporary local identity.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// IsPendingPlaceholder reports whether the message is an optimistic
// placeholder still eligible for replacement by its authoritative echo.
// Failed placeholders are deliberately excluded so a user resend cannot
// double-reconcile.
func (m *Message) IsPendingPlaceholder() bool {
	return m.IsTemp() && m.Status == StatusSending
}

// MarshalJSON implements custom JSON marshaling with RFC3339 timestamps.
func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON implements custom JSON unmarshaling accepting RFC3339 timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
		if err != nil {
			return err
		}
		m.Timestamp = t
	}

	return nil
}
