package contracts

import (
	"errors"
	"fmt"
)

// FailedMessageCarrier is implemented by failures that know which message
// was being processed when they occurred
type FailedMessageCarrier interface {
	FailedMessage() Message
}

// MessagingError is a failure raised while processing a specific message
type MessagingError struct {
	Description string
	Msg         Message
	Err         error
}

// NewMessagingError wraps err with the message whose processing failed
func NewMessagingError(msg Message, err error) *MessagingError {
	return &MessagingError{Msg: msg, Err: err}
}

func (e *MessagingError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "failed to handle message"
	}
	if e.Msg != nil {
		desc = fmt.Sprintf("%s %s (type %s)", desc, e.Msg.GetID(), e.Msg.GetType())
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", desc, e.Err)
	}
	return desc
}

func (e *MessagingError) Unwrap() error {
	return e.Err
}

// FailedMessage returns the message being processed when the failure occurred
func (e *MessagingError) FailedMessage() Message {
	return e.Msg
}

// FailedMessageOf extracts the failed message from anywhere in err's chain
func FailedMessageOf(err error) (Message, bool) {
	var carrier FailedMessageCarrier
	if !errors.As(err, &carrier) {
		return nil, false
	}
	msg := carrier.FailedMessage()
	return msg, msg != nil
}
