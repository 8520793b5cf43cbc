// ABOUTME: Access guards for commands and conversation handling
// ABOUTME: Admin, private-room, and whitelist predicates with optional denial notices

package bot

import (
	"context"

	"maunium.net/go/mautrix/id"
)

// guard checks whether a message may proceed. It returns false to block,
// along with an optional notice to send to the user. An empty notice blocks
// silently.
type guard func(ctx context.Context, msg *inbound) (bool, string)

// runGuards evaluates guards in order and sends the first denial notice.
// It returns true when every guard passes.
func (b *Bot) runGuards(ctx context.Context, msg *inbound, guards ...guard) bool {
	for _, g := range guards {
		ok, notice := g(ctx, msg)
		if ok {
			continue
		}
		if notice != "" {
			b.sendNotice(ctx, msg, notice)
		}
		b.logger.Info("message blocked by guard",
			"conversation_id", msg.RoomID,
			"sender_id", msg.Sender)
		return false
	}
	return true
}

// adminOnly blocks everyone except the configured admin user.
func (b *Bot) adminOnly() guard {
	return func(ctx context.Context, msg *inbound) (bool, string) {
		if msg.Sender == id.UserID(b.cfg.Bot.AdminUserID) {
			return true, ""
		}
		return false, "Only admin can do this"
	}
}

// privateOnly blocks messages outside two-member rooms.
func (b *Bot) privateOnly() guard {
	return func(ctx context.Context, msg *inbound) (bool, string) {
		if b.isPrivate(ctx, msg.RoomID) {
			return true, ""
		}
		return false, "This command only works in private chat"
	}
}

// whitelistOnly blocks conversations that are not whitelisted. The admin's
// private chat is always allowed. The denial notice is only sent in private
// rooms so the bot stays quiet in group rooms it was dragged into.
func (b *Bot) whitelistOnly() guard {
	return func(ctx context.Context, msg *inbound) (bool, string) {
		private := b.isPrivate(ctx, msg.RoomID)
		if private && msg.Sender == id.UserID(b.cfg.Bot.AdminUserID) {
			return true, ""
		}

		ok, err := b.store.IsWhitelisted(ctx, msg.RoomID.String())
		if err != nil {
			b.logger.Error("whitelist lookup failed", "error", err, "conversation_id", msg.RoomID)
			return false, ""
		}
		if ok {
			return true, ""
		}

		if private {
			return false, "This chat is not in whitelist"
		}
		return false, ""
	}
}
