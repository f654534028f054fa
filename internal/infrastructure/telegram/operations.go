package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
)

var (
	ErrNotParticipant = errors.New("user is not a participant")
	ErrNoPrivileges   = errors.New("not enough rights")
)

type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// Privileged reports whether the role may moderate the chat.
func (r Role) Privileged() bool {
	return r == RoleCreator || r == RoleAdministrator
}

type Button struct {
	Text string
	Data string
}

// Outgoing is a text message with an optional reply target and inline keyboard.
type Outgoing struct {
	ChatID   int64
	ThreadID int
	ReplyTo  int
	Text     string
	HTML     bool
	Silent   bool
	Buttons  [][]Button
}

// Platform is the set of chat operations moderation relies on.
type Platform interface {
	SendText(ctx context.Context, out Outgoing) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error
	DeleteMessages(ctx context.Context, chatID int64, messageIDs ...int) error
	ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (int, error)
	MembershipRole(ctx context.Context, chatID, userID int64) (Role, error)
	RemoveMember(ctx context.Context, chatID, userID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Operations implements Platform over the Bot API
type Operations struct {
	bot *api.BotAPI
}

var _ Platform = (*Operations)(nil)

// NewOperations creates a new Operations instance
func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{bot: bot}
}

func (o *Operations) SendText(ctx context.Context, out Outgoing) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := api.NewMessage(out.ChatID, out.Text)
	msg.MessageThreadID = out.ThreadID
	msg.DisableNotification = out.Silent
	msg.LinkPreviewOptions.IsDisabled = true
	if out.HTML {
		msg.ParseMode = api.ModeHTML
	}
	if out.ReplyTo != 0 {
		msg.ReplyParameters.MessageID = out.ReplyTo
		msg.ReplyParameters.ChatID = out.ChatID
		msg.ReplyParameters.AllowSendingWithoutReply = true
	}
	if markup := keyboard(out.Buttons); markup != nil {
		msg.ReplyMarkup = markup
	}

	sent, err := o.bot.Send(msg)
	if err != nil {
		return 0, classify(err, "failed to send message")
	}
	return sent.MessageID, nil
}

func (o *Operations) EditText(ctx context.Context, chatID int64, messageID int, text string, buttons [][]Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = keyboard(buttons)
	if _, err := o.bot.Send(edit); err != nil {
		return classify(err, "failed to edit message")
	}
	return nil
}

// DeleteMessages deletes every message, continuing past failures. The first
// failure is returned.
func (o *Operations) DeleteMessages(ctx context.Context, chatID int64, messageIDs ...int) error {
	var firstErr error
	for _, id := range messageIDs {
		if id == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.bot.Request(api.NewDeleteMessage(chatID, id)); err != nil && firstErr == nil {
			firstErr = classify(err, "failed to delete message")
		}
	}
	return firstErr
}

func (o *Operations) ForwardMessage(ctx context.Context, toChatID, fromChatID int64, messageID int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := o.bot.Send(api.NewForward(toChatID, fromChatID, messageID))
	if err != nil {
		return 0, classify(err, "failed to forward message")
	}
	return sent.MessageID, nil
}

func (o *Operations) MembershipRole(ctx context.Context, chatID, userID int64) (Role, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := o.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
	})
	if err != nil {
		return "", classify(err, "failed to get chat member")
	}
	return Role(member.Status), nil
}

// RemoveMember bans the user from the chat and revokes their messages.
func (o *Operations) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
			UserID: userID,
		},
		RevokeMessages: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		return classify(err, "failed to ban user")
	}
	return nil
}

func (o *Operations) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	callback := api.NewCallback(callbackID, text)
	if alert {
		callback = api.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := o.bot.Request(callback); err != nil {
		return classify(err, "failed to answer callback")
	}
	return nil
}

func keyboard(buttons [][]Button) *api.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]api.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		if len(row) == 0 {
			continue
		}
		keys := make([]api.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			keys = append(keys, api.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, api.NewInlineKeyboardRow(keys...))
	}
	markup := api.NewInlineKeyboardMarkup(rows...)
	return &markup
}

var notParticipantMarkers = []string{
	"user not found",
	"participant_id_invalid",
	"user_not_participant",
	"member not found",
	"user is not a member",
}

func classify(err error, message string) error {
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "not enough rights"), strings.Contains(text, "chat_admin_required"):
		return fmt.Errorf("%s: %w: %w", message, ErrNoPrivileges, err)
	case containsAny(text, notParticipantMarkers):
		return fmt.Errorf("%s: %w: %w", message, ErrNotParticipant, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
