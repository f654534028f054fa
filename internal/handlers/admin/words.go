package handlers

import (
	"context"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	moderation "github.com/iamwavecut/ngguard/internal/handlers/moderation"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
)

// handleCallbackQuery serves the term list keyboard. Moderation verbs belong to
// the reactor and pass through.
func (a *Admin) handleCallbackQuery(ctx context.Context, query *api.CallbackQuery) (bool, error) {
	if !moderation.IsCallbackData(query.Data) || query.Message == nil || query.From == nil {
		return true, nil
	}
	data, err := moderation.ParseCallbackData(query.Data)
	if err != nil || data.Verb.Moderation() {
		return true, nil
	}

	chat := &query.Message.Chat
	entry := a.getLogEntry().WithFields(log.Fields{
		"method":  "handleCallbackQuery",
		"chat_id": chat.ID,
		"user_id": query.From.ID,
		"verb":    data.Verb,
	})
	if !a.actions.IsPrivileged(ctx, query.From.ID, chat.ID) {
		a.answer(ctx, entry, query.ID, a.tr("You are not allowed to do this"), true)
		return false, nil
	}

	scope := termScope(chat)
	page := int(data.Target)
	notice := ""
	if data.Verb == moderation.VerbRemoveTerm {
		notice, err = a.removeTerm(ctx, scope, page, int(data.Subject))
		if err != nil {
			entry.WithField("error", err.Error()).Error("failed to remove term")
			a.answer(ctx, entry, query.ID, a.tr("Something went wrong, try again later"), true)
			return false, err
		}
	}

	text, buttons, err := a.renderWords(ctx, scope, page)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to render terms")
		a.answer(ctx, entry, query.ID, a.tr("Something went wrong, try again later"), true)
		return false, err
	}
	if err := a.platform.EditText(ctx, chat.ID, query.Message.MessageID, text, buttons); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to update term list")
	}
	a.answer(ctx, entry, query.ID, notice, false)
	return false, nil
}

// removeTerm removes the term shown at index on page. The list may have changed
// since it was rendered, so a stale index is reported rather than guessed.
func (a *Admin) removeTerm(ctx context.Context, scope *int64, page, index int) (string, error) {
	terms, _, err := a.terms.Page(ctx, scope, page, a.config.WordsPerPage)
	if err != nil {
		return "", errors.Wrap(err, "get term page")
	}
	if index < 0 || index >= len(terms) {
		return a.tr("The list has changed, try again"), nil
	}
	source := terms[index].Source
	removed, err := a.terms.RemoveTerm(ctx, scope, source)
	if err != nil {
		return "", errors.Wrap(err, "remove term")
	}
	if !removed {
		return a.tr("The list has changed, try again"), nil
	}
	return a.trf("Removed the term: %s", source), nil
}

// renderWords draws one page of the list. A page past the end falls back to
// the last one, which happens after removing the only term of the last page.
func (a *Admin) renderWords(ctx context.Context, scope *int64, page int) (string, [][]telegram.Button, error) {
	terms, total, err := a.terms.Page(ctx, scope, page, a.config.WordsPerPage)
	if err != nil {
		return "", nil, errors.Wrap(err, "get term page")
	}
	if total == 0 {
		return a.tr("No terms yet"), nil, nil
	}
	if page >= total {
		page = total - 1
		if terms, _, err = a.terms.Page(ctx, scope, page, a.config.WordsPerPage); err != nil {
			return "", nil, errors.Wrap(err, "get term page")
		}
	}

	var sb strings.Builder
	sb.WriteString(a.trf("Terms, page %d of %d:", page+1, total))
	buttons := make([][]telegram.Button, 0, len(terms)+1)
	for i, term := range terms {
		fmt.Fprintf(&sb, "\n%d. %s", page*a.config.WordsPerPage+i+1, term.Source)
		buttons = append(buttons, []telegram.Button{{
			Text: "✖ " + truncate(term.Source, 32),
			Data: moderation.CallbackData{Verb: moderation.VerbRemoveTerm, Target: int64(page), Subject: int64(i)}.String(),
		}})
	}

	var nav []telegram.Button
	if page > 0 {
		nav = append(nav, telegram.Button{
			Text: "«",
			Data: moderation.CallbackData{Verb: moderation.VerbPage, Target: int64(page - 1)}.String(),
		})
	}
	if page < total-1 {
		nav = append(nav, telegram.Button{
			Text: "»",
			Data: moderation.CallbackData{Verb: moderation.VerbPage, Target: int64(page + 1)}.String(),
		})
	}
	buttons = append(buttons, nav)
	return sb.String(), buttons, nil
}

func replyWithButtons(msg *api.Message, text string, buttons [][]telegram.Button) telegram.Outgoing {
	return telegram.Outgoing{
		ChatID:   msg.Chat.ID,
		ThreadID: msg.MessageThreadID,
		ReplyTo:  msg.MessageID,
		Text:     text,
		Silent:   true,
		Buttons:  buttons,
	}
}

func (a *Admin) answer(ctx context.Context, entry *log.Entry, callbackID, text string, alert bool) {
	if err := a.platform.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to answer callback")
	}
}
