// Package interceptors provides interception of channel operations.
//
// A ProxyChannel decorates a channel so that every Send, SendTimeout,
// Receive and ReceiveTimeout call is described as an Invocation and run
// through an InterceptorChain before reaching the wrapped channel. An
// interceptor can observe the operation, alter its context, or reject it by
// returning an error without calling next.
//
// Built-in interceptors:
//   - LoggingInterceptor: Logs operations with timing information
//   - TracingInterceptor: Opens an OpenTelemetry span per operation
//   - MetricsInterceptor: Feeds a MetricsCollector (ChannelMetrics for prometheus)
//   - ConditionalInterceptor: Applies another interceptor only when a filter matches
//
// Example usage:
//
//	secured := interceptors.Wrap(queue,
//		interceptors.NewLoggingInterceptor(logger),
//		securityInterceptor,
//	)
//	err := secured.Send(ctx, msg)
//
// Interceptors run in the order given, with the wrapped channel called last.
package interceptors
