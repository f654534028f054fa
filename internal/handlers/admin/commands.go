package handlers

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
)

const (
	searchLimit    = 10
	maxReplyLength = 4000
	maxPendingList = 20
)

type access int

const (
	accessOpen access = iota
	accessPrivileged
	accessSuperAdmin
)

type command struct {
	access access
	run    func(a *Admin, ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error
}

var commands = map[string]command{
	"addword":     {access: accessPrivileged, run: (*Admin).addWord},
	"addchatword": {access: accessPrivileged, run: (*Admin).addChatWord},
	"words":       {access: accessPrivileged, run: (*Admin).words},
	"threshold":   {access: accessPrivileged, run: (*Admin).threshold},
	"check":       {access: accessPrivileged, run: (*Admin).check},
	"autoclean":   {access: accessPrivileged, run: (*Admin).autoClean},
	"ban":         {access: accessPrivileged, run: (*Admin).manualBan},
	"pending":     {access: accessPrivileged, run: (*Admin).pending},
	"stats":       {access: accessPrivileged, run: (*Admin).stats},
	"search":      {access: accessPrivileged, run: (*Admin).search},
	"promote":     {access: accessSuperAdmin, run: (*Admin).promote},
	"demote":      {access: accessSuperAdmin, run: (*Admin).demote},
	"moderators":  {access: accessSuperAdmin, run: (*Admin).moderators},
	"genregex":    {access: accessOpen, run: (*Admin).genRegex},
	"invert":      {access: accessOpen, run: (*Admin).invert},
}

func (a *Admin) addWord(ctx context.Context, msg *api.Message, _ *api.Chat, user *api.User) error {
	return a.addTerm(ctx, msg, nil, user)
}

func (a *Admin) addChatWord(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) error {
	if strings.TrimSpace(msg.CommandArguments()) != "" {
		return a.addTerm(ctx, msg, termScope(chat), user)
	}
	if err := a.store.SetKV(ctx, moderation.TermDialogKey(chat.ID, user.ID), "open"); err != nil {
		return errors.Wrap(err, "open term dialog")
	}
	a.reply(ctx, msg, a.tr("Send the term as your next message"))
	return nil
}

func (a *Admin) addTerm(ctx context.Context, msg *api.Message, scope *int64, user *api.User) error {
	term, created, err := a.terms.AddTerm(ctx, scope, msg.CommandArguments(), user.ID)
	switch {
	case errors.Is(err, badwords.ErrEmptyTerm):
		a.reply(ctx, msg, a.tr("The term is empty, nothing was added"))
	case err != nil:
		return errors.Wrap(err, "add term")
	case created:
		a.reply(ctx, msg, a.trf("Added the term: %s", term.Source))
	default:
		a.reply(ctx, msg, a.trf("The term is already on the list: %s", term.Source))
	}
	return nil
}

func (a *Admin) words(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	page := 0
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			a.reply(ctx, msg, a.tr("Page must be a positive number"))
			return nil
		}
		page = n - 1
	}

	text, buttons, err := a.renderWords(ctx, termScope(chat), page)
	if err != nil {
		return err
	}
	if _, err := a.platform.SendText(ctx, replyWithButtons(msg, text, buttons)); err != nil {
		return errors.Wrap(err, "send term list")
	}
	return nil
}

func (a *Admin) threshold(ctx context.Context, msg *api.Message, _ *api.Chat, _ *api.User) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		a.reply(ctx, msg, a.trf("Current threshold: %.2f", a.settings.Current().Threshold))
		return nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(arg, ",", "."), 64)
	if err != nil {
		a.reply(ctx, msg, a.tr("Threshold must be a positive number"))
		return nil
	}
	if err := a.settings.SetThreshold(value); err != nil {
		if errors.Is(err, config.ErrInvalidThreshold) {
			a.reply(ctx, msg, a.tr("Threshold must be a positive number"))
			return nil
		}
		return errors.Wrap(err, "set threshold")
	}
	a.reply(ctx, msg, a.trf("Threshold set to %.2f", value))
	return nil
}

func (a *Admin) check(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		a.reply(ctx, msg, a.tr("Usage: /check <id|@username>"))
		return nil
	}

	accountID, name, err := a.resolveAccount(ctx, arg)
	if err != nil {
		return err
	}
	if accountID == 0 {
		a.reply(ctx, msg, a.trf("Unknown account: %s", arg))
		return nil
	}

	state, err := a.escalator.State(ctx, accountID)
	if err != nil {
		return errors.Wrap(err, "get escalation state")
	}
	if state.State == moderation.StateBanPending {
		_, err := a.actions.Prompt(ctx, moderation.PromptRequest{
			ScopeID:          chat.ID,
			ThreadID:         msg.MessageThreadID,
			TargetID:         accountID,
			TargetName:       name,
			SubjectMessageID: msg.MessageID,
			Kind:             db.PromptKindPendingBan,
			Violations:       state.Violations,
		})
		return errors.WithMessage(err, "prompt pending ban")
	}

	verified, ok := a.reputation.VerifyAccount(ctx, accountID)
	vars := map[string]any{
		"name":       name,
		"state":      string(state.State),
		"violations": state.Violations,
		"verified":   ok,
	}
	if ok {
		vars["first"] = verified.FirstMsgDate.Format("2006-01-02")
		vars["messages"] = verified.MessagesCount
		vars["chats"] = verified.ChatsCount
	}
	a.reply(ctx, msg, tool.ExecTemplate(checkReport, vars))
	return nil
}

const checkReport = `{{ .name }}: {{ .state }}, warnings: {{ .violations }}
{{ if .verified }}Verified: first message {{ .first }}, {{ .messages }} messages in {{ .chats }} chats{{ else }}Not verified{{ end }}`

// resolveAccount accepts a numeric id or a @handle of a known account. A zero
// id means the handle is unknown.
func (a *Admin) resolveAccount(ctx context.Context, arg string) (int64, string, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, arg, nil
	}
	account, err := a.store.FindAccountByUsername(ctx, strings.TrimPrefix(arg, "@"))
	if err != nil {
		return 0, "", errors.Wrap(err, "find account")
	}
	if account == nil {
		return 0, "", nil
	}
	return account.ID, "@" + account.Username, nil
}

func (a *Admin) autoClean(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	switch strings.ToLower(strings.TrimSpace(msg.CommandArguments())) {
	case "on":
		return a.setAutoClean(ctx, msg, chat.ID, true)
	case "off":
		return a.setAutoClean(ctx, msg, chat.ID, false)
	case "list":
		ids, err := a.store.ListAutoClean(ctx)
		if err != nil {
			return errors.Wrap(err, "list autoclean")
		}
		if len(ids) == 0 {
			a.reply(ctx, msg, a.tr("No chats have auto-clean enabled"))
			return nil
		}
		lines := lo.Map(ids, func(id int64, _ int) string { return strconv.FormatInt(id, 10) })
		a.reply(ctx, msg, a.tr("Auto-clean is enabled in:")+"\n"+strings.Join(lines, "\n"))
		return nil
	default:
		a.reply(ctx, msg, a.tr("Usage: /autoclean on|off|list"))
		return nil
	}
}

func (a *Admin) setAutoClean(ctx context.Context, msg *api.Message, scopeID int64, enabled bool) error {
	changed, err := a.store.SetAutoClean(ctx, scopeID, enabled)
	if err != nil {
		return errors.Wrap(err, "set autoclean")
	}
	switch {
	case !changed:
		a.reply(ctx, msg, a.tr("Nothing changed"))
	case enabled:
		a.reply(ctx, msg, a.tr("Auto-clean enabled"))
	default:
		a.reply(ctx, msg, a.tr("Auto-clean disabled"))
	}
	return nil
}

func (a *Admin) manualBan(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	subject := msg.ReplyToMessage
	if subject == nil || subject.From == nil {
		a.reply(ctx, msg, a.tr("Reply to a message to use this command"))
		return nil
	}
	if _, err := a.actions.Prompt(ctx, moderation.PromptRequest{
		ScopeID:          chat.ID,
		ThreadID:         msg.MessageThreadID,
		TargetID:         subject.From.ID,
		TargetName:       displayName(subject.From),
		SubjectMessageID: subject.MessageID,
		Kind:             db.PromptKindManual,
	}); err != nil {
		return errors.WithMessage(err, "prompt manual ban")
	}
	if err := a.platform.DeleteMessages(ctx, chat.ID, msg.MessageID); err != nil {
		a.getLogEntry().WithField("error", err.Error()).Debug("failed to delete ban command")
	}
	return nil
}

func (a *Admin) pending(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	accounts, err := a.escalator.PendingBans(ctx)
	if err != nil {
		return errors.Wrap(err, "list pending bans")
	}
	if len(accounts) == 0 {
		a.reply(ctx, msg, a.tr("No accounts await a ban decision"))
		return nil
	}

	for _, account := range lo.Slice(accounts, 0, maxPendingList) {
		name := account.FirstName
		if account.Username != "" {
			name = "@" + account.Username
		}
		if name == "" {
			name = "id" + strconv.FormatInt(account.ID, 10)
		}
		if _, err := a.actions.Prompt(ctx, moderation.PromptRequest{
			ScopeID:    chat.ID,
			ThreadID:   msg.MessageThreadID,
			TargetID:   account.ID,
			TargetName: name,
			Kind:       db.PromptKindPendingBan,
			Violations: account.ViolationCount,
		}); err != nil {
			return errors.WithMessage(err, "prompt pending ban")
		}
	}
	return nil
}

const statsReport = `Messages: {{ .total }}
Deleted: {{ .deleted }}
Users: {{ .users }}
Banned: {{ .banned }}`

func (a *Admin) stats(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	stats, err := a.store.GetStats(ctx, chat.ID)
	if err != nil {
		return errors.Wrap(err, "get stats")
	}
	if stats == nil {
		stats = &db.Statistics{ScopeID: chat.ID}
	}
	a.reply(ctx, msg, tool.ExecTemplate(statsReport, map[string]any{
		"total":   stats.TotalMessages,
		"deleted": stats.DeletedMessages,
		"users":   stats.TotalUsers,
		"banned":  stats.BannedUsers,
	}))
	return nil
}

func (a *Admin) search(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	words := strings.Fields(msg.CommandArguments())
	if len(words) == 0 {
		a.reply(ctx, msg, a.tr("Usage: /search <words>"))
		return nil
	}
	records, err := a.store.SearchMessages(ctx, chat.ID, words, searchLimit)
	if err != nil {
		return errors.Wrap(err, "search messages")
	}
	if len(records) == 0 {
		a.reply(ctx, msg, a.tr("Nothing found"))
		return nil
	}

	lines := lo.Map(records, func(record *db.MessageRecord, _ int) string {
		line := truncate(record.Text, 200)
		if record.Link != "" {
			line += " " + record.Link
		}
		return "• " + line
	})
	a.reply(ctx, msg, truncate(strings.Join(lines, "\n"), maxReplyLength))
	return nil
}

func (a *Admin) genRegex(ctx context.Context, msg *api.Message, chat *api.Chat, _ *api.User) error {
	terms, err := a.terms.ListTerms(ctx, termScope(chat))
	if err != nil {
		return errors.Wrap(err, "list terms")
	}
	if len(terms) == 0 {
		a.reply(ctx, msg, a.tr("No terms yet"))
		return nil
	}
	a.reply(ctx, msg, truncate(badwords.GeneratePattern(terms), maxReplyLength))
	return nil
}

func (a *Admin) invert(ctx context.Context, msg *api.Message, _ *api.Chat, _ *api.User) error {
	normalized := badwords.Normalize(msg.CommandArguments())
	if normalized == "" {
		a.reply(ctx, msg, a.tr("Usage: /invert <text>"))
		return nil
	}
	a.reply(ctx, msg, truncate(normalized, maxReplyLength))
	return nil
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "…"
}

func displayName(user *api.User) string {
	if user.UserName != "" {
		return "@" + user.UserName
	}
	if name := strings.TrimSpace(user.FirstName + " " + user.LastName); name != "" {
		return name
	}
	return "id" + strconv.FormatInt(user.ID, 10)
}
