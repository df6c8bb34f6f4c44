package contracts

import (
	"time"
)

// Message is the base interface for everything that travels over a channel
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() string
}

// PayloadMessage is a message that exposes its body
type PayloadMessage interface {
	Message
	GetPayload() any
}
