package handlers

import (
	"context"
	"fmt"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

const defaultScopeTitle = "Unknown chat"

type Config struct {
	Language     string
	WordsPerPage int
}

type adminStore interface {
	EnsureScope(ctx context.Context, scope *db.Scope) (bool, error)
	SetScopeActive(ctx context.Context, id int64, active bool) error
	FindAccountByUsername(ctx context.Context, username string) (*db.Account, error)
	SearchMessages(ctx context.Context, scopeID int64, words []string, limit int) ([]*db.MessageRecord, error)
	GetStats(ctx context.Context, scopeID int64) (*db.Statistics, error)
	SetAutoClean(ctx context.Context, scopeID int64, enabled bool) (bool, error)
	ListAutoClean(ctx context.Context) ([]int64, error)
	SetKV(ctx context.Context, key string, value string) error
	SetAdmin(ctx context.Context, accountID int64, isAdmin bool) error
	ListAdminIDs(ctx context.Context) ([]int64, error)
}

type termStore interface {
	AddTerm(ctx context.Context, scope *int64, raw string, submittedBy int64) (badwords.Term, bool, error)
	RemoveTerm(ctx context.Context, scope *int64, source string) (bool, error)
	Page(ctx context.Context, scope *int64, page, perPage int) ([]badwords.Term, int, error)
	ListTerms(ctx context.Context, scope *int64) ([]badwords.Term, error)
}

type thresholdSettings interface {
	Current() config.Scoring
	SetThreshold(value float64) error
}

type accountVerifier interface {
	VerifyAccount(ctx context.Context, accountID int64) (*db.VerifiedAccount, bool)
}

// Admin serves operator commands and the term list keyboard.
type Admin struct {
	platform   telegram.Platform
	store      adminStore
	terms      termStore
	settings   thresholdSettings
	reputation accountVerifier
	escalator  *moderation.Escalator
	actions    *moderation.Actions
	config     Config
}

func NewAdmin(
	platform telegram.Platform,
	store adminStore,
	terms termStore,
	settings thresholdSettings,
	reputation accountVerifier,
	escalator *moderation.Escalator,
	actions *moderation.Actions,
	config Config,
) *Admin {
	if config.WordsPerPage <= 0 {
		config.WordsPerPage = 5
	}
	a := &Admin{
		platform:   platform,
		store:      store,
		terms:      terms,
		settings:   settings,
		reputation: reputation,
		escalator:  escalator,
		actions:    actions,
		config:     config,
	}
	a.getLogEntry().Debug("created new admin handler")
	return a
}

func (a *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	entry := a.getLogEntry().WithField("method", "Handle")

	if u == nil {
		return true, nil
	}

	if u.MyChatMember != nil {
		if err := a.handleMyChatMember(ctx, u.MyChatMember); err != nil {
			entry.WithField("error", err.Error()).Error("failed to handle my_chat_member update")
			return false, err
		}
		return false, nil
	}

	if u.CallbackQuery != nil {
		return a.handleCallbackQuery(ctx, u.CallbackQuery)
	}

	if u.Message == nil || user == nil || chat == nil || !u.Message.IsCommand() {
		return true, nil
	}

	command, ok := commands[u.Message.Command()]
	if !ok {
		entry.Debug("unknown command")
		return true, nil
	}
	entry = entry.WithFields(log.Fields{"command": u.Message.Command(), "chat_id": chat.ID, "user_id": user.ID})
	if !a.allowed(ctx, command, user.ID, chat.ID) {
		entry.Debug("rejected unprivileged command")
		a.reply(ctx, u.Message, a.tr("You are not allowed to do this"))
		// the text still goes through scoring
		return true, nil
	}

	if err := command.run(a, ctx, u.Message, chat, user); err != nil {
		entry.WithField("error", err.Error()).Error("command failed")
		a.reply(ctx, u.Message, a.tr("Something went wrong, try again later"))
		return false, err
	}
	return false, nil
}

func (a *Admin) allowed(ctx context.Context, command command, userID, chatID int64) bool {
	switch command.access {
	case accessOpen:
		return true
	case accessSuperAdmin:
		return a.actions.IsSuperAdmin(userID)
	default:
		return a.actions.IsPrivileged(ctx, userID, chatID)
	}
}

// handleMyChatMember tracks whether the bot is still present in the scope.
func (a *Admin) handleMyChatMember(ctx context.Context, update *api.ChatMemberUpdated) error {
	chat := update.Chat
	title := chat.Title
	if title == "" {
		title = defaultScopeTitle
	}
	if _, err := a.store.EnsureScope(ctx, &db.Scope{ID: chat.ID, Title: title}); err != nil {
		return errors.Wrap(err, "ensure scope")
	}

	var active bool
	switch update.NewChatMember.Status {
	case "member", "administrator", "creator", "restricted":
		active = true
	}
	a.getLogEntry().WithFields(log.Fields{
		"chat_id": chat.ID,
		"status":  update.NewChatMember.Status,
	}).Info("bot membership changed")
	return errors.Wrap(a.store.SetScopeActive(ctx, chat.ID, active), "set scope active")
}

func (a *Admin) reply(ctx context.Context, msg *api.Message, text string) {
	if _, err := a.platform.SendText(ctx, telegram.Outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		ReplyTo:  msg.MessageID,
		Text:     text,
	}); err != nil {
		a.getLogEntry().WithField("error", err.Error()).Warn("failed to reply")
	}
}

func (a *Admin) tr(key string) string {
	return i18n.Get(key, a.config.Language)
}

func (a *Admin) trf(key string, args ...any) string {
	return fmt.Sprintf(a.tr(key), args...)
}

// termScope is the term list a chat edits. Private chats edit the global list.
func termScope(chat *api.Chat) *int64 {
	if chat.IsPrivate() {
		return nil
	}
	id := chat.ID
	return &id
}

func (a *Admin) getLogEntry() *log.Entry {
	return log.WithField("object", "Admin")
}
