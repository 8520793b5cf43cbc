// ABOUTME: Package documentation for the bot package
// ABOUTME: Describes the Matrix relay loop and message pipeline

// Package bot runs the Matrix side of coven-relay.
//
// The bot syncs against a Matrix homeserver, classifies each incoming text
// message (new thread prefix, reply to one of its own messages, or neither),
// and for addressed messages runs the full relay pipeline: persist the
// inbound record, resolve the reply chain into an alternating history,
// stream a completion, and surface it as a throttled series of message
// edits. Handling is serialized per room so concurrent messages cannot
// interleave writes to one conversation's chain.
//
// Commands (!ping, !whitelist) are dispatched before the whitelist guard so
// the admin can manage access from any room.
package bot
