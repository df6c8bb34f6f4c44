// Package messaging turns unhandled failures into messages and runs message
// handling work.
//
// PublishingErrorHandler is the failure-to-message bridge. Each failure is
// logged once; when an error channel is set it is also wrapped in a
// contracts.ErrorMessage and sent on that channel. The send is a single
// attempt bounded by the send timeout (one second by default) and any
// failure during it, including a panic from the channel, is swallowed.
//
// TaskExecutor runs tasks on an ants goroutine pool and reports task errors
// and panics to an ErrorHandler. Poller drains a channel.PollableChannel into
// a channel.Handler through the executor.
//
// Example usage:
//
//	errors := channel.NewQueueChannel("errors")
//	handler := messaging.NewPublishingErrorHandler(
//		messaging.WithErrorChannel(errors),
//		messaging.WithLogger(logger),
//	)
//	executor, _ := messaging.NewTaskExecutor(messaging.WithExecutorErrorHandler(handler))
//	poller := messaging.NewPoller(orders, orderHandler, executor)
//	_ = poller.Start(ctx)
package messaging
