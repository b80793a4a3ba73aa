// Package httpclient provides a unified HTTP client factory with consistent
// timeout, retry, and observability behavior for the enrich runner.
//
// The package creates HTTP clients with sensible, secure defaults:
//   - Automatic retry with exponential backoff and jitter
//   - Request logging with sanitized URLs (sensitive parameters redacted)
//   - User-Agent header injection
//   - Correlation ID propagation across internal services
//   - TLS 1.2 minimum (TLS 1.3 preferred)
//   - Connection pooling
//
// Only idempotent methods (GET, HEAD, OPTIONS) are retried by default. The
// runner's internal-API and operations-service writes are POSTs and must not
// be replayed at the transport layer; retries of those belong to the durable
// task runtime and the operations service.
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "enrich-engine/1.0"
//	client, err := httpclient.New(cfg)
package httpclient
