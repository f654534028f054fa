package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/db"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/scoring"
)

const defaultScopeTitle = "Unknown chat"

type MessageProcessingStage string

const (
	StageInit        MessageProcessingStage = "init"
	StagePendingBan  MessageProcessingStage = "pending_ban"
	StageDialog      MessageProcessingStage = "dialog"
	StageContent     MessageProcessingStage = "content_check"
	StageSpamCheck   MessageProcessingStage = "spam_check"
	StageModeration  MessageProcessingStage = "moderation"
	StageSizeGuarded MessageProcessingStage = "size_guarded"
)

// MessageProcessingResult describes how far a message went through the
// pipeline and what was done about it.
type MessageProcessingResult struct {
	Stage      MessageProcessingStage
	Skipped    bool
	SkipReason string
	Score      *scoring.Result
	Escalation *moderation.Escalation
	Shamed     bool
	Action     string
}

type Config struct {
	BotID           int64
	Language        string
	MaxPromptLength int
}

type reactorStore interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
	UpsertAccount(ctx context.Context, account *db.Account) (bool, error)
	EnsureScope(ctx context.Context, scope *db.Scope) (bool, error)
	IncrementStats(ctx context.Context, scopeID int64, delta db.StatsDelta) error
	AddMessage(ctx context.Context, msg *db.MessageRecord) error
	HasMessages(ctx context.Context, scopeID, accountID int64) (bool, error)
	IsAutoClean(ctx context.Context, scopeID int64) (bool, error)
	GetKV(ctx context.Context, key string) (string, error)
	DeleteKV(ctx context.Context, key string) error
}

type scorer interface {
	Score(ctx context.Context, content string, scope *int64) (scoring.Result, error)
	Highlight(ctx context.Context, content string, scope *int64) string
}

type termAdder interface {
	AddTerm(ctx context.Context, scope *int64, raw string, submittedBy int64) (badwords.Term, bool, error)
}

// Reactor is the per-message ingestion pipeline.
type Reactor struct {
	platform  telegram.Platform
	store     reactorStore
	scorer    scorer
	terms     termAdder
	escalator *moderation.Escalator
	actions   *moderation.Actions
	config    Config
}

func NewReactor(platform telegram.Platform, store reactorStore, scorer scorer, terms termAdder, escalator *moderation.Escalator, actions *moderation.Actions, config Config) *Reactor {
	r := &Reactor{
		platform:  platform,
		store:     store,
		scorer:    scorer,
		terms:     terms,
		escalator: escalator,
		actions:   actions,
		config:    config,
	}
	r.getLogEntry().Debug("created new reactor")
	return r
}

func (r *Reactor) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	entry := r.getLogEntry().WithField("method", "Handle")
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	if u == nil {
		return false, errors.New("nil update")
	}

	if u.CallbackQuery != nil {
		return r.handleCallbackQuery(ctx, u.CallbackQuery)
	}

	msg := u.Message
	if msg == nil || chat == nil || chat.IsPrivate() {
		return true, nil
	}

	if len(msg.NewChatMembers) > 0 {
		if err := r.handleNewMembers(ctx, msg, chat); err != nil {
			entry.WithField("error", err.Error()).Error("error handling new members")
			return true, err
		}
		return true, nil
	}

	if _, err := r.handleMessage(ctx, msg, chat, user); err != nil {
		entry.WithField("error", err.Error()).Error("error handling message")
		return true, err
	}
	return true, nil
}

func (r *Reactor) handleCallbackQuery(ctx context.Context, query *api.CallbackQuery) (bool, error) {
	if !moderation.IsCallbackData(query.Data) || query.Message == nil {
		return true, nil
	}
	data, err := moderation.ParseCallbackData(query.Data)
	if err == nil && !data.Verb.Moderation() {
		return true, nil
	}

	outcome, err := r.actions.HandleCallback(ctx, moderation.CallbackRequest{
		ID:          query.ID,
		ScopeID:     query.Message.Chat.ID,
		MessageID:   query.Message.MessageID,
		RequesterID: query.From.ID,
		Data:        query.Data,
	})
	entry := r.getLogEntry().WithFields(log.Fields{"method": "handleCallbackQuery", "outcome": outcome})
	if err != nil {
		entry.WithField("error", err.Error()).Debug("moderation action not executed")
	} else {
		entry.Debug("moderation action executed")
	}
	return false, nil
}

func (r *Reactor) handleNewMembers(ctx context.Context, msg *api.Message, chat *api.Chat) error {
	entry := r.getLogEntry().WithFields(log.Fields{"method": "handleNewMembers", "chat_id": chat.ID})

	for _, member := range msg.NewChatMembers {
		if member.ID == r.config.BotID {
			if err := r.ensureScope(ctx, chat); err != nil {
				return err
			}
			if _, err := r.platform.SendText(ctx, telegram.Outgoing{
				ChatID:   chat.ID,
				ThreadID: msg.MessageThreadID,
				Text:     r.tr("Hello! I will keep this chat clean from spam. Make me an administrator so I can delete messages and ban spammers."),
			}); err != nil {
				entry.WithField("error", err.Error()).Warn("failed to greet chat")
			}
			continue
		}
		if member.IsBot {
			continue
		}

		account, err := r.store.GetAccount(ctx, member.ID)
		if err != nil {
			return errors.Wrap(err, "get joining account")
		}
		if account == nil || !(account.Banned || account.BanPending) {
			continue
		}

		kind := db.PromptKindManual
		if account.BanPending {
			kind = db.PromptKindPendingBan
		}
		entry.WithField("user_id", member.ID).Info("known offender joined")
		if _, err := r.actions.Prompt(ctx, moderation.PromptRequest{
			ScopeID:          chat.ID,
			ThreadID:         msg.MessageThreadID,
			TargetID:         member.ID,
			TargetName:       displayName(&member),
			SubjectMessageID: msg.MessageID,
			Kind:             kind,
			Violations:       account.ViolationCount,
		}); err != nil {
			entry.WithField("error", err.Error()).Error("failed to prompt for joining offender")
		}
	}
	return nil
}

func (r *Reactor) ensureScope(ctx context.Context, chat *api.Chat) error {
	title := chat.Title
	if title == "" {
		title = defaultScopeTitle
	}
	if _, err := r.store.EnsureScope(ctx, &db.Scope{ID: chat.ID, Title: title}); err != nil {
		return errors.Wrap(err, "ensure scope")
	}
	return nil
}

func (r *Reactor) getLogEntry() *log.Entry {
	return log.WithField("object", "Reactor")
}
