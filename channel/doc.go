// Package channel provides the channel abstraction the rest of the module
// builds on.
//
// A Channel is a named endpoint with a Send operation. Optional capabilities
// are expressed as separate interfaces checked at runtime:
//   - BoundedSender: sends that give up after a timeout
//   - PollableChannel: buffered channels consumers pull from
//
// Two in-memory implementations are provided: QueueChannel (buffered,
// bounded, pollable) and DirectChannel (synchronous hand-off to subscribers).
//
// Registry stores channels by name and runs PostProcessor hooks once per
// registration, letting a hook such as the security gatekeeper replace a
// channel with a wrapper for all later lookups:
//
//	registry := channel.NewRegistry(channel.WithPostProcessors(gatekeeper))
//	ch, err := registry.RegisterChannel(ctx, channel.NewQueueChannel("admin.orders"))
package channel
