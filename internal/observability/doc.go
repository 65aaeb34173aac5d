// Package observability provides structured logging and metrics for the chat relay.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - Request-scoped loggers carrying the chi request ID
//   - Prometheus metrics on a private registry, exposed on /metrics
//
// Every pipeline stage (embedding, search, completion) is timed.
package observability
