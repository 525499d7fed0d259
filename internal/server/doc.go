// Package server hosts the relay control plane from a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, security headers, CORS, rate limiting, and token auth so every
// route shares the same protections and instrumentation.
//
// It exposes health and metrics probes, the sessions API, and the WebSocket
// relay endpoint behind one multiplexer.
package server
