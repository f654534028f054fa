package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngguard/internal/config"
	"github.com/iamwavecut/ngguard/internal/db"
	ngerrors "github.com/iamwavecut/ngguard/internal/errors"
	"github.com/iamwavecut/ngguard/internal/i18n"
	"github.com/iamwavecut/ngguard/internal/infrastructure/telegram"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

type Outcome string

const (
	OutcomeBanned          Outcome = "banned"
	OutcomeDeleted         Outcome = "deleted"
	OutcomeDismissed       Outcome = "dismissed"
	OutcomeRejected        Outcome = "rejected"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeAlreadyResolved Outcome = "already_resolved"
	OutcomeExpired         Outcome = "expired"
	OutcomeRefused         Outcome = "refused"
	OutcomeFailed          Outcome = "failed"
)

type actionStore interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
	IncrementStats(ctx context.Context, scopeID int64, delta db.StatsDelta) error
	CreatePrompt(ctx context.Context, prompt *db.ActionPrompt) error
	GetPrompt(ctx context.Context, scopeID int64, messageID int) (*db.ActionPrompt, error)
	ClaimPrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64, at time.Time) (bool, error)
	ReleasePrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64) error
}

// Actions runs the interactive ban / delete / dismiss protocol.
type Actions struct {
	platform     telegram.Platform
	store        actionStore
	escalator    *Escalator
	identities   permissions.Identities
	language     string
	reportChatID int64
	now          func() time.Time
	logger       *log.Entry
}

// PromptRequest describes the subject of a new action prompt.
type PromptRequest struct {
	ScopeID          int64
	ThreadID         int
	TargetID         int64
	TargetName       string
	SubjectMessageID int
	Kind             db.PromptKind
	Violations       int
}

// CallbackRequest is a button press on an action prompt.
type CallbackRequest struct {
	ID          string
	ScopeID     int64
	MessageID   int
	RequesterID int64
	Data        string
}

func NewActions(platform telegram.Platform, store actionStore, escalator *Escalator, identities permissions.Identities, cfg config.Moderation, language string) *Actions {
	return &Actions{
		platform:     platform,
		store:        store,
		escalator:    escalator,
		identities:   identities,
		language:     language,
		reportChatID: cfg.ReportChatID,
		now:          time.Now,
		logger:       log.WithField("object", "Actions"),
	}
}

func (a *Actions) IsSuperAdmin(id int64) bool {
	return a.identities.IsSuperAdmin(id)
}

// IsPrivileged consults the super-admin allow-list, the stored admin flag and
// the member role in the scope, in that order.
func (a *Actions) IsPrivileged(ctx context.Context, requesterID, scopeID int64) bool {
	if a.identities.IsSuperAdmin(requesterID) {
		return true
	}
	entry := a.logger.WithFields(log.Fields{"method": "IsPrivileged", "requester_id": requesterID, "scope_id": scopeID})
	account, err := a.store.GetAccount(ctx, requesterID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("failed to get account")
	} else if account != nil && account.IsAdmin {
		return true
	}
	role, err := a.platform.MembershipRole(ctx, scopeID, requesterID)
	if err != nil {
		entry.WithField("error", err.Error()).Debug("failed to get membership role")
		return false
	}
	return role.Privileged()
}

// Prompt posts the action prompt as a reply to the subject and records it as
// open. It returns the prompt message id.
func (a *Actions) Prompt(ctx context.Context, req PromptRequest) (int, error) {
	entry := a.logger.WithFields(log.Fields{"method": "Prompt", "scope_id": req.ScopeID, "target_id": req.TargetID})

	text, buttons := a.render(req)
	promptID, err := a.platform.SendText(ctx, telegram.Outgoing{
		ChatID:   req.ScopeID,
		ThreadID: req.ThreadID,
		ReplyTo:  req.SubjectMessageID,
		Text:     text,
		Silent:   true,
		Buttons:  buttons,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to send prompt")
		return 0, errors.Wrap(err, "send prompt")
	}

	if err := a.store.CreatePrompt(ctx, &db.ActionPrompt{
		ScopeID:          req.ScopeID,
		MessageID:        promptID,
		TargetID:         req.TargetID,
		SubjectMessageID: req.SubjectMessageID,
		Kind:             req.Kind,
		CreatedAt:        a.now().UTC(),
	}); err != nil {
		entry.WithField("error", err.Error()).Error("failed to record prompt")
		if delErr := a.platform.DeleteMessages(ctx, req.ScopeID, promptID); delErr != nil {
			entry.WithField("error", delErr.Error()).Warn("failed to delete unrecorded prompt")
		}
		return 0, errors.Wrap(err, "record prompt")
	}
	observability.RecordModerationAction("prompt", string(req.Kind))
	return promptID, nil
}

func (a *Actions) render(req PromptRequest) (string, [][]telegram.Button) {
	lang := a.language
	button := func(label string, verb Verb) telegram.Button {
		return telegram.Button{
			Text: label,
			Data: CallbackData{Verb: verb, Target: req.TargetID, Subject: int64(req.SubjectMessageID)}.String(),
		}
	}

	switch req.Kind {
	case db.PromptKindPendingBan:
		text := fmt.Sprintf(i18n.Get("%s has %d spam warnings and awaits a ban decision", lang), req.TargetName, req.Violations)
		return text, [][]telegram.Button{{button(i18n.Get("Confirm ban", lang), VerbConfirm), button(i18n.Get("Reject", lang), VerbReject)}}
	case db.PromptKindManual:
		text := fmt.Sprintf(i18n.Get("Ban %s?", lang), req.TargetName)
		return text, [][]telegram.Button{{button(i18n.Get("Ban", lang), VerbBan), button(i18n.Get("Cancel", lang), VerbCancel)}}
	default:
		text := fmt.Sprintf(i18n.Get("Suspicious message from %s. What should be done?", lang), req.TargetName)
		return text, [][]telegram.Button{{button(i18n.Get("Ban", lang), VerbBan), button(i18n.Get("Delete", lang), VerbDelete), button(i18n.Get("Cancel", lang), VerbCancel)}}
	}
}

// HandleCallback resolves a prompt. The prompt row is claimed with a
// conditional update before anything destructive happens; a refusal or a
// platform failure releases the claim again.
func (a *Actions) HandleCallback(ctx context.Context, req CallbackRequest) (outcome Outcome, err error) {
	entry := a.logger.WithFields(log.Fields{
		"method":       "HandleCallback",
		"scope_id":     req.ScopeID,
		"prompt_id":    req.MessageID,
		"requester_id": req.RequesterID,
	})
	lang := a.language

	data, err := ParseCallbackData(req.Data)
	if err != nil || !data.Verb.Moderation() {
		a.answer(ctx, entry, req.ID, i18n.Get("Unknown action", lang), true)
		if err == nil {
			err = errors.Wrapf(ErrMalformedCallback, "verb %q", data.Verb)
		}
		return OutcomeFailed, err
	}
	defer func() {
		observability.RecordModerationAction(string(data.Verb), string(outcome))
	}()

	if !a.IsPrivileged(ctx, req.RequesterID, req.ScopeID) {
		a.answer(ctx, entry, req.ID, i18n.Get("You are not allowed to do this", lang), true)
		return OutcomeUnauthorized, ngerrors.ErrUnauthorized
	}

	prompt, err := a.store.GetPrompt(ctx, req.ScopeID, req.MessageID)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to get prompt")
		a.answer(ctx, entry, req.ID, i18n.Get("Something went wrong, try again later", lang), true)
		return OutcomeFailed, errors.Wrap(err, "get prompt")
	}
	if prompt == nil {
		a.answer(ctx, entry, req.ID, i18n.Get("This prompt has expired", lang), true)
		if delErr := a.platform.DeleteMessages(ctx, req.ScopeID, req.MessageID); delErr != nil {
			entry.WithField("error", delErr.Error()).Debug("failed to delete expired prompt")
		}
		return OutcomeExpired, ngerrors.ErrNotFound
	}
	if prompt.IsResolved() {
		a.answer(ctx, entry, req.ID, i18n.Get("This action was already taken", lang), true)
		return OutcomeAlreadyResolved, ngerrors.ErrAlreadyResolved
	}

	claimed, err := a.store.ClaimPrompt(ctx, req.ScopeID, req.MessageID, req.RequesterID, a.now())
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to claim prompt")
		a.answer(ctx, entry, req.ID, i18n.Get("Something went wrong, try again later", lang), true)
		return OutcomeFailed, errors.Wrap(err, "claim prompt")
	}
	if !claimed {
		a.answer(ctx, entry, req.ID, i18n.Get("This action was already taken", lang), true)
		return OutcomeAlreadyResolved, ngerrors.ErrAlreadyResolved
	}

	switch data.Verb {
	case VerbBan, VerbConfirm:
		outcome, err = a.ban(ctx, entry, req, prompt)
	case VerbDelete:
		outcome, err = a.deleteSubject(ctx, entry, req, prompt)
	case VerbReject:
		outcome, err = a.reject(ctx, entry, req, prompt)
	default:
		outcome, err = a.dismiss(ctx, entry, req)
	}

	if err != nil {
		if relErr := a.store.ReleasePrompt(ctx, req.ScopeID, req.MessageID, req.RequesterID); relErr != nil {
			entry.WithField("error", relErr.Error()).Error("failed to release prompt")
		}
		return outcome, err
	}

	observability.Audit().Info("moderation",
		zap.String("verb", string(data.Verb)),
		zap.String("outcome", string(outcome)),
		zap.Int64("scope_id", req.ScopeID),
		zap.Int64("target_id", prompt.TargetID),
		zap.Int64("requester_id", req.RequesterID),
	)
	return outcome, nil
}

func (a *Actions) ban(ctx context.Context, entry *log.Entry, req CallbackRequest, prompt *db.ActionPrompt) (Outcome, error) {
	lang := a.language
	target := prompt.TargetID

	if a.identities.IsProtected(target) {
		a.answer(ctx, entry, req.ID, i18n.Get("Are you sure you want to ban yourself?", lang), true)
		return OutcomeRefused, ngerrors.ErrProtectedTarget
	}

	privileged, err := a.targetPrivileged(ctx, req.ScopeID, target)
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to check target role")
		a.answer(ctx, entry, req.ID, i18n.Get("Failed to ban the user", lang), true)
		return OutcomeFailed, err
	}
	if privileged {
		a.answer(ctx, entry, req.ID, i18n.Get("Target is an administrator", lang), true)
		return OutcomeRefused, ngerrors.ErrPrivilegedTarget
	}

	if err := a.platform.RemoveMember(ctx, req.ScopeID, target); err != nil && !errors.Is(err, telegram.ErrNotParticipant) {
		entry.WithField("error", err.Error()).Error("failed to remove member")
		if errors.Is(err, telegram.ErrNoPrivileges) {
			a.answer(ctx, entry, req.ID, i18n.Get("I don't have enough rights to ban this user", lang), true)
		} else {
			a.answer(ctx, entry, req.ID, i18n.Get("Failed to ban the user", lang), true)
		}
		return OutcomeFailed, errors.Wrap(err, "remove member")
	}

	if err := a.escalator.ConfirmBan(ctx, target); err != nil {
		a.answer(ctx, entry, req.ID, i18n.Get("The user was removed, but the ban was not recorded", lang), true)
		return OutcomeFailed, err
	}
	if err := a.store.IncrementStats(ctx, req.ScopeID, db.StatsDelta{BannedUsers: 1}); err != nil {
		entry.WithField("error", err.Error()).Error("failed to increment banned users")
	}
	if err := a.platform.DeleteMessages(ctx, req.ScopeID, prompt.SubjectMessageID, req.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to clean up after ban")
	}

	a.answer(ctx, entry, req.ID, i18n.Get("Banned!", lang), false)
	return OutcomeBanned, nil
}

func (a *Actions) targetPrivileged(ctx context.Context, scopeID, targetID int64) (bool, error) {
	if a.identities.IsSuperAdmin(targetID) {
		return true, nil
	}
	account, err := a.store.GetAccount(ctx, targetID)
	if err != nil {
		return false, errors.Wrap(err, "get target account")
	}
	if account != nil && account.IsAdmin {
		return true, nil
	}
	role, err := a.platform.MembershipRole(ctx, scopeID, targetID)
	if err != nil {
		if errors.Is(err, telegram.ErrNotParticipant) {
			return false, nil
		}
		return false, errors.Wrap(err, "get target role")
	}
	return role.Privileged(), nil
}

func (a *Actions) deleteSubject(ctx context.Context, entry *log.Entry, req CallbackRequest, prompt *db.ActionPrompt) (Outcome, error) {
	lang := a.language
	if err := a.platform.DeleteMessages(ctx, req.ScopeID, prompt.SubjectMessageID, req.MessageID); err != nil {
		entry.WithField("error", err.Error()).Error("failed to delete subject")
		if errors.Is(err, telegram.ErrNoPrivileges) {
			a.answer(ctx, entry, req.ID, i18n.Get("I don't have enough rights to delete messages", lang), true)
		} else {
			a.answer(ctx, entry, req.ID, i18n.Get("Failed to delete the message", lang), true)
		}
		return OutcomeFailed, errors.Wrap(err, "delete subject")
	}
	if err := a.store.IncrementStats(ctx, req.ScopeID, db.StatsDelta{DeletedMessages: 1}); err != nil {
		entry.WithField("error", err.Error()).Error("failed to increment deleted messages")
	}
	a.answer(ctx, entry, req.ID, i18n.Get("Deleted", lang), false)
	return OutcomeDeleted, nil
}

func (a *Actions) reject(ctx context.Context, entry *log.Entry, req CallbackRequest, prompt *db.ActionPrompt) (Outcome, error) {
	lang := a.language
	if err := a.escalator.RejectBan(ctx, prompt.TargetID); err != nil {
		a.answer(ctx, entry, req.ID, i18n.Get("Something went wrong, try again later", lang), true)
		return OutcomeFailed, err
	}
	if err := a.platform.DeleteMessages(ctx, req.ScopeID, req.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to delete prompt")
	}
	a.answer(ctx, entry, req.ID, i18n.Get("Ban rejected", lang), false)
	return OutcomeRejected, nil
}

func (a *Actions) dismiss(ctx context.Context, entry *log.Entry, req CallbackRequest) (Outcome, error) {
	if err := a.platform.DeleteMessages(ctx, req.ScopeID, req.MessageID); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to delete prompt")
	}
	a.answer(ctx, entry, req.ID, i18n.Get("Dismissed", a.language), false)
	return OutcomeDismissed, nil
}

// AutoClean deletes the subject without a prompt. When a report chat is
// configured the subject is forwarded there first.
func (a *Actions) AutoClean(ctx context.Context, scopeID int64, messageID int) error {
	entry := a.logger.WithFields(log.Fields{"method": "AutoClean", "scope_id": scopeID, "message_id": messageID})

	if a.reportChatID != 0 {
		if _, err := a.platform.ForwardMessage(ctx, a.reportChatID, scopeID, messageID); err != nil {
			entry.WithField("error", err.Error()).Warn("failed to forward to report chat")
		}
	}
	if err := a.platform.DeleteMessages(ctx, scopeID, messageID); err != nil {
		observability.RecordModerationAction("autoclean", string(OutcomeFailed))
		return errors.Wrap(err, "autoclean")
	}
	if err := a.store.IncrementStats(ctx, scopeID, db.StatsDelta{DeletedMessages: 1}); err != nil {
		entry.WithField("error", err.Error()).Error("failed to increment deleted messages")
	}
	observability.RecordModerationAction("autoclean", string(OutcomeDeleted))
	observability.Audit().Info("autoclean", zap.Int64("scope_id", scopeID), zap.Int("message_id", messageID))
	return nil
}

func (a *Actions) answer(ctx context.Context, entry *log.Entry, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := a.platform.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		entry.WithField("error", err.Error()).Warn("failed to answer callback")
	}
}
