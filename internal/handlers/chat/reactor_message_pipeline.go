package handlers

import (
	"context"
	"fmt"
	"unicode/utf8"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/badwords"
	"github.com/iamwavecut/ngguard/internal/bot"
	"github.com/iamwavecut/ngguard/internal/db"
	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/scoring"
)

func (r *Reactor) handleMessage(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User) (*MessageProcessingResult, error) {
	result := &MessageProcessingResult{Stage: StageInit}
	if reason := skipReason(msg, user); reason != "" {
		result.Skipped = true
		result.SkipReason = reason
		return result, nil
	}

	entry := r.getLogEntry().WithFields(log.Fields{
		"chat_id": chat.ID,
		"user_id": user.ID,
	})

	content := bot.ExtractContentFromMessage(msg)

	result.Stage = StagePendingBan
	account, err := r.store.GetAccount(ctx, user.ID)
	if err != nil {
		return result, errors.Wrap(err, "failed to get account")
	}
	if account != nil && account.BanPending {
		result.Skipped = true
		result.SkipReason = "Account awaits a ban decision"
		if _, err := r.actions.Prompt(ctx, moderation.PromptRequest{
			ScopeID:          chat.ID,
			ThreadID:         msg.MessageThreadID,
			TargetID:         user.ID,
			TargetName:       displayName(user),
			SubjectMessageID: msg.MessageID,
			Kind:             db.PromptKindPendingBan,
			Violations:       account.ViolationCount,
		}); err != nil {
			entry.WithField("error", err.Error()).Error("failed to send re-offense notice")
		}
		return result, nil
	}

	result.Stage = StageDialog
	consumed, err := r.consumeDialog(ctx, msg, chat, user, content)
	if err != nil {
		return result, err
	}
	if consumed {
		result.Skipped = true
		result.SkipReason = "Consumed by the add-term dialog"
		return result, nil
	}

	result.Stage = StageContent
	if err := r.ensureScope(ctx, chat); err != nil {
		return result, err
	}
	if content == "" {
		result.Skipped = true
		result.SkipReason = "Empty message content"
		return result, nil
	}

	result.Stage = StageSpamCheck
	scope := chat.ID
	score, err := r.scorer.Score(ctx, content, &scope)
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidText) {
			result.Skipped = true
			result.SkipReason = "Empty message content"
			return result, nil
		}
		entry.WithField("error", err.Error()).Error("failed to score message")
	}
	result.Score = &score
	isSpam := err == nil && score.IsSpam()

	if err := r.persist(ctx, msg, chat, user, content, isSpam); err != nil {
		return result, err
	}
	if !isSpam {
		return result, nil
	}

	result.Stage = StageModeration
	escalation, err := r.escalator.RecordOffense(ctx, chat.ID, user.ID, content)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to record offense")
	} else {
		result.Escalation = &escalation
	}

	if r.config.MaxPromptLength > 0 && utf8.RuneCountInString(content) > r.config.MaxPromptLength {
		result.Stage = StageSizeGuarded
		result.Skipped = true
		result.SkipReason = "Message is too long to review"
		return result, nil
	}

	// privileged authors are shamed and then moderated like anyone else
	if r.actions.IsPrivileged(ctx, user.ID, chat.ID) {
		result.Shamed = true
		if _, err := r.platform.SendText(ctx, telegram.Outgoing{
			ChatID:   chat.ID,
			ThreadID: msg.MessageThreadID,
			ReplyTo:  msg.MessageID,
			Text:     fmt.Sprintf(r.tr("Shame on you, %s! Administrators should not post spam."), displayName(user)),
		}); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to send shame notice")
		}
	}

	autoClean, err := r.store.IsAutoClean(ctx, chat.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to check autoclean")
	}
	if autoClean {
		result.Action = "autoclean"
		if err := r.actions.AutoClean(ctx, chat.ID, msg.MessageID); err != nil {
			entry.WithField("error", err.Error()).Error("failed to autoclean")
		}
		return result, nil
	}

	result.Action = "prompt"
	if _, err := r.actions.Prompt(ctx, moderation.PromptRequest{
		ScopeID:          chat.ID,
		ThreadID:         msg.MessageThreadID,
		TargetID:         user.ID,
		TargetName:       displayName(user),
		SubjectMessageID: msg.MessageID,
		Kind:             db.PromptKindSuspicious,
	}); err != nil {
		entry.WithField("error", err.Error()).Error("failed to prompt")
	}
	return result, nil
}

// consumeDialog takes the message as the term of an open add-term dialog.
func (r *Reactor) consumeDialog(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, content string) (bool, error) {
	key := moderation.TermDialogKey(chat.ID, user.ID)
	state, err := r.store.GetKV(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, "failed to get dialog state")
	}
	if state == "" {
		return false, nil
	}
	if err := r.store.DeleteKV(ctx, key); err != nil {
		return false, errors.Wrap(err, "failed to clear dialog state")
	}

	scope := chat.ID
	var reply string
	term, created, err := r.terms.AddTerm(ctx, &scope, content, user.ID)
	switch {
	case errors.Is(err, badwords.ErrEmptyTerm):
		reply = r.tr("The term is empty, nothing was added")
	case err != nil:
		r.getLogEntry().WithField("error", err.Error()).Error("failed to add term")
		reply = r.tr("Failed to add the term")
	case created:
		reply = fmt.Sprintf(r.tr("Added the term: %s"), term.Source)
	default:
		reply = fmt.Sprintf(r.tr("The term is already on the list: %s"), term.Source)
	}

	if _, err := r.platform.SendText(ctx, telegram.Outgoing{
		ChatID:   chat.ID,
		ThreadID: msg.MessageThreadID,
		ReplyTo:  msg.MessageID,
		Text:     reply,
	}); err != nil {
		r.getLogEntry().WithField("error", err.Error()).Warn("failed to report dialog result")
	}
	return true, nil
}

func (r *Reactor) persist(ctx context.Context, msg *api.Message, chat *api.Chat, user *api.User, content string, isSpam bool) error {
	seen, err := r.store.HasMessages(ctx, chat.ID, user.ID)
	if err != nil {
		return errors.Wrap(err, "failed to check message history")
	}
	if _, err := r.store.UpsertAccount(ctx, &db.Account{
		ID:        user.ID,
		FirstName: bot.GetFullName(user),
		Username:  user.UserName,
	}); err != nil {
		return errors.Wrap(err, "failed to upsert account")
	}

	delta := db.StatsDelta{TotalMessages: 1}
	if !seen {
		delta.TotalUsers = 1
	}
	if err := r.store.IncrementStats(ctx, chat.ID, delta); err != nil {
		return errors.Wrap(err, "failed to increment stats")
	}

	scope := chat.ID
	if err := r.store.AddMessage(ctx, &db.MessageRecord{
		ScopeID:   chat.ID,
		AccountID: user.ID,
		Text:      r.scorer.Highlight(ctx, content, &scope),
		IsSpam:    isSpam,
		Link:      permalink(chat, msg),
	}); err != nil {
		return errors.Wrap(err, "failed to add message")
	}
	return nil
}

func (r *Reactor) tr(key string) string {
	return i18n.Get(key, r.config.Language)
}

func skipReason(msg *api.Message, user *api.User) string {
	switch {
	case user == nil || msg.From == nil:
		return "No sender"
	case user.IsBot:
		return "Sender is a bot"
	case isLinkedChannelAutoForward(msg):
		return "Automatic forward from a linked channel"
	case msg.SenderChat != nil:
		return "Posted on behalf of a chat"
	}
	return ""
}

func isLinkedChannelAutoForward(msg *api.Message) bool {
	if msg == nil || !msg.IsAutomaticForward || msg.SenderChat == nil {
		return false
	}
	return msg.SenderChat.Type == "channel"
}

func permalink(chat *api.Chat, msg *api.Message) string {
	if chat.UserName == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", chat.UserName, msg.MessageID)
}

func displayName(user *api.User) string {
	if user.UserName != "" {
		return "@" + user.UserName
	}
	if name := bot.GetFullName(user); name != "" {
		return name
	}
	return fmt.Sprintf("id%d", user.ID)
}
