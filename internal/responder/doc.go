// ABOUTME: Package documentation for the responder package
// ABOUTME: Describes the edit cadence and transport retry behavior

// Package responder streams completion output back to the chat platform.
//
// Chat transports cannot be edited token-by-token without tripping rate
// limits, so the Responder accumulates deltas and edits the outbound message
// on a time-based cadence (default every 4 seconds), suffixed with an
// in-progress marker while generation is running. When the stream ends, one
// final markerless edit always goes out regardless of timing, so the user
// ends up with exactly the complete response.
//
// Every send/edit is wrapped in a fixed-backoff retry (default 30 attempts,
// 10 seconds apart) that fires only for errors the transport classifies as
// transient. Fatal transport errors and retry exhaustion propagate to the
// caller.
package responder
