// Package transport defines the invocation contract between the HTTP
// surface and the dispatcher, and the middleware chain wrapped around it.
//
// # Invoker
//
// Invoker runs one handler and always yields a result envelope. The
// dispatcher implements it; HTTP routes, the Slack event router and the
// MCP tools all call it.
//
// # Middleware
//
// Middleware wraps an Invoker with cross-cutting behavior. Built-in
// middleware provides panic recovery, invocation ID assignment
// (X-Request-ID), structured logging via log/slog, and in-flight
// tracking so shutdown can report invocations still running.
package transport
