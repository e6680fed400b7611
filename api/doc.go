// Package api defines the request and response types of the qaflow HTTP API.
//
// # API Overview
//
// qaflow exposes a small RESTful API in front of the resolution pipeline:
//   - POST /v1/resolve resolves one key through cache, store and upstream client
//   - GET /v1/stats reports cache, credential pool and pipeline counters
//   - GET /health, /ready and /version for probes
//   - /metrics on the separate metrics port
//
// # Authentication
//
// When API keys are configured, requests to /v1 must carry one of them:
//
//	X-API-Key: your-api-key
//
// When JWT is enabled, a bearer token signed with the configured HMAC secret
// is accepted instead:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Responses
//
// Successful responses are wrapped as {"success": true, "data": ...}; errors as
// {"success": false, "error": {"code", "message", "retryable"}} with the HTTP
// status taken from the error.
package api
