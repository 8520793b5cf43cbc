// ABOUTME: Package documentation for the completion package
// ABOUTME: Describes the streaming client, retry policy, and delta semantics

// Package completion streams chat completions from an OpenAI-compatible API.
//
// # Overview
//
// Client.Complete turns a resolved conversation chain into a completion
// request: a system instruction (with the current time substituted per call)
// followed by strictly alternating user/assistant turns, first and last
// always user. The response arrives as Server-Sent Events and is exposed as
// a Stream - a lazy, finite, single-consumer sequence of text deltas pulled
// with Recv until io.EOF.
//
// # Terminal Handling
//
// A chunk carrying a finish reason ends the stream. A "length" finish reason
// emits one final TruncationNotice delta first, so the user sees that the
// answer was cut off. A chunk asserting any role other than assistant fails
// with ErrUnexpectedRole.
//
// # Retry Policy
//
// Server-side rejections (HTTP 5xx) at call time are retried up to 2 more
// times inside Complete. Client-side rejections and mid-stream failures
// propagate immediately; the caller decides how to surface them.
package completion
