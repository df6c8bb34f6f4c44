// Package contracts provides the message types that flow over channels.
//
// This package defines:
//   - Message: Base interface for all messages
//   - GenericMessage: A message carrying an arbitrary payload
//   - ErrorMessage: A message reporting a captured failure, optionally with the
//     message whose processing failed
//   - MessagingError: A failure that remembers the message being processed
//   - Envelope: JSON transport wrapper used by broker-backed channels
package contracts
