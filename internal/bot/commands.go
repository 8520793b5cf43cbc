// ABOUTME: Chat command dispatch for the relay bot
// ABOUTME: Implements ping and whitelist management commands

package bot

import (
	"context"
	"fmt"
	"strings"
)

// handleCommand dispatches "!" commands. It returns true when the message
// was a command (even a denied one) so the caller skips conversation
// handling.
func (b *Bot) handleCommand(ctx context.Context, msg *inbound) bool {
	if !strings.HasPrefix(msg.Body, "!") {
		return false
	}

	fields := strings.Fields(msg.Body)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "!ping":
		b.cmdPing(ctx, msg)
	case "!whitelist":
		sub := ""
		if len(fields) > 1 {
			sub = fields[1]
		}
		b.cmdWhitelist(ctx, msg, sub)
	default:
		return false
	}
	return true
}

// cmdPing reports the conversation's identity and whitelist status. It is
// deliberately unguarded so users can probe why the bot ignores them.
func (b *Bot) cmdPing(ctx context.Context, msg *inbound) {
	whitelisted, err := b.store.IsWhitelisted(ctx, msg.RoomID.String())
	if err != nil {
		b.logger.Error("whitelist lookup failed", "error", err, "conversation_id", msg.RoomID)
		b.sendNotice(ctx, msg, "[!] Error: whitelist lookup failed")
		return
	}

	b.sendNotice(ctx, msg, fmt.Sprintf("pong!\nconversation: %s\nsender: %s\nwhitelisted: %t",
		msg.RoomID, msg.Sender, whitelisted))
}

// cmdWhitelist handles the admin-only whitelist subcommands.
func (b *Bot) cmdWhitelist(ctx context.Context, msg *inbound, sub string) {
	if !b.runGuards(ctx, msg, b.adminOnly()) {
		return
	}

	switch sub {
	case "add":
		ok, err := b.store.IsWhitelisted(ctx, msg.RoomID.String())
		if err == nil && ok {
			b.sendNotice(ctx, msg, "Already in whitelist")
			return
		}
		if err == nil {
			err = b.store.AddWhitelist(ctx, msg.RoomID.String())
		}
		if err != nil {
			b.logger.Error("whitelist add failed", "error", err, "conversation_id", msg.RoomID)
			b.sendNotice(ctx, msg, "[!] Error: whitelist update failed")
			return
		}
		b.sendNotice(ctx, msg, "Whitelist added")

	case "del":
		ok, err := b.store.IsWhitelisted(ctx, msg.RoomID.String())
		if err == nil && !ok {
			b.sendNotice(ctx, msg, "Not in whitelist")
			return
		}
		if err == nil {
			err = b.store.RemoveWhitelist(ctx, msg.RoomID.String())
		}
		if err != nil {
			b.logger.Error("whitelist del failed", "error", err, "conversation_id", msg.RoomID)
			b.sendNotice(ctx, msg, "[!] Error: whitelist update failed")
			return
		}
		b.sendNotice(ctx, msg, "Whitelist deleted")

	case "list":
		if !b.runGuards(ctx, msg, b.privateOnly()) {
			return
		}
		entries, err := b.store.ListWhitelist(ctx)
		if err != nil {
			b.logger.Error("whitelist list failed", "error", err)
			b.sendNotice(ctx, msg, "[!] Error: whitelist lookup failed")
			return
		}
		if len(entries) == 0 {
			b.sendNotice(ctx, msg, "Whitelist is empty")
			return
		}
		b.sendNotice(ctx, msg, "Whitelist:\n"+strings.Join(entries, "\n"))

	default:
		b.sendNotice(ctx, msg, "Usage: !whitelist add|del|list")
	}
}
