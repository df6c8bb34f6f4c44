package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps messages for transport
type Envelope struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Timestamp     string                 `json:"timestamp"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	ReplyTo       string                 `json:"replyTo,omitempty"`
	Headers       map[string]interface{} `json:"headers,omitempty"`
	Body          json.RawMessage        `json:"body"`
}

// NewEnvelope serializes msg into a transport envelope
func NewEnvelope(msg Message) (*Envelope, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot create envelope for nil message")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message %s: %w", msg.GetID(), err)
	}

	return &Envelope{
		ID:            msg.GetID(),
		Type:          msg.GetType(),
		Timestamp:     msg.GetTimestamp().Format(time.RFC3339Nano),
		CorrelationID: msg.GetCorrelationID(),
		Body:          body,
	}, nil
}
