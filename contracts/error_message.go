package contracts

import (
	"encoding/json"
	"time"
)

// ErrorMessageType is the type name carried by every ErrorMessage
const ErrorMessageType = "ErrorMessage"

// ErrorMessage reports a captured failure over a channel. It is immutable
// once created.
type ErrorMessage struct {
	base     BaseMessage
	err      error
	original Message
}

// NewErrorMessage wraps err. When err carries a failed message, that message
// becomes the original message and its correlation ID is propagated.
func NewErrorMessage(err error) *ErrorMessage {
	m := &ErrorMessage{
		base: NewBaseMessage(ErrorMessageType),
		err:  err,
	}
	if original, ok := FailedMessageOf(err); ok {
		m.original = original
		m.base.CorrelationID = original.GetCorrelationID()
	}
	return m
}

// GetID returns the message ID
func (m *ErrorMessage) GetID() string {
	return m.base.ID
}

// GetTimestamp returns the message timestamp
func (m *ErrorMessage) GetTimestamp() time.Time {
	return m.base.Timestamp
}

// GetType returns ErrorMessageType
func (m *ErrorMessage) GetType() string {
	return m.base.Type
}

// GetCorrelationID returns the correlation ID of the original message, if any
func (m *ErrorMessage) GetCorrelationID() string {
	return m.base.CorrelationID
}

// GetPayload returns the wrapped failure
func (m *ErrorMessage) GetPayload() any {
	return m.err
}

// Err returns the wrapped failure
func (m *ErrorMessage) Err() error {
	return m.err
}

// OriginalMessage returns the message that caused the failure, or nil
func (m *ErrorMessage) OriginalMessage() Message {
	return m.original
}

type errorMessageJSON struct {
	BaseMessage
	Error               string `json:"error"`
	OriginalMessageID   string `json:"originalMessageId,omitempty"`
	OriginalMessageType string `json:"originalMessageType,omitempty"`
}

// MarshalJSON renders the failure as text so the message can cross a transport
func (m *ErrorMessage) MarshalJSON() ([]byte, error) {
	out := errorMessageJSON{BaseMessage: m.base}
	if m.err != nil {
		out.Error = m.err.Error()
	}
	if m.original != nil {
		out.OriginalMessageID = m.original.GetID()
		out.OriginalMessageType = m.original.GetType()
	}
	return json.Marshal(out)
}
