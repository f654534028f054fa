package handlers

import (
	"context"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Moderators are granted privilege in every scope the bot serves, on top of
// the chat administrators of each scope.

func (a *Admin) promote(ctx context.Context, msg *api.Message, _ *api.Chat, _ *api.User) error {
	return a.setModerator(ctx, msg, true)
}

func (a *Admin) demote(ctx context.Context, msg *api.Message, _ *api.Chat, _ *api.User) error {
	return a.setModerator(ctx, msg, false)
}

func (a *Admin) setModerator(ctx context.Context, msg *api.Message, enabled bool) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	accountID, name, err := a.commandTarget(ctx, msg, arg)
	if err != nil {
		return err
	}
	switch {
	case accountID == 0 && arg != "":
		a.reply(ctx, msg, a.trf("Unknown account: %s", arg))
		return nil
	case accountID == 0:
		a.reply(ctx, msg, a.tr("Usage: /promote or /demote <id|@username>, or reply to a message"))
		return nil
	}
	if err := a.store.SetAdmin(ctx, accountID, enabled); err != nil {
		return errors.Wrap(err, "set moderator flag")
	}
	if enabled {
		a.reply(ctx, msg, a.trf("%s is now a moderator", name))
	} else {
		a.reply(ctx, msg, a.trf("%s is no longer a moderator", name))
	}
	return nil
}

func (a *Admin) moderators(ctx context.Context, msg *api.Message, _ *api.Chat, _ *api.User) error {
	ids, err := a.store.ListAdminIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "list moderators")
	}
	if len(ids) == 0 {
		a.reply(ctx, msg, a.tr("No moderators yet"))
		return nil
	}
	lines := lo.Map(ids, func(id int64, _ int) string {
		return "• " + strconv.FormatInt(id, 10)
	})
	a.reply(ctx, msg, a.tr("Moderators:")+"\n"+strings.Join(lines, "\n"))
	return nil
}

// commandTarget takes the account from the command argument, falling back to
// the author of the replied message.
func (a *Admin) commandTarget(ctx context.Context, msg *api.Message, arg string) (int64, string, error) {
	if arg != "" {
		return a.resolveAccount(ctx, arg)
	}
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil && !reply.From.IsBot {
		return reply.From.ID, displayName(reply.From), nil
	}
	return 0, "", nil
}
