package handlers

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/iamwavecut/ngguard/internal/db"
	"github.com/iamwavecut/ngguard/internal/observability"
	"github.com/iamwavecut/ngguard/internal/policy/permissions"
)

type State string

const (
	StateClean      State = "clean"
	StateWarned     State = "warned"
	StateBanPending State = "ban_pending"
	StateBanned     State = "banned"
)

// Escalation is the account standing after a transition.
type Escalation struct {
	AccountID  int64
	State      State
	Violations int
}

type escalationStore interface {
	GetAccount(ctx context.Context, id int64) (*db.Account, error)
	AddSpamWarning(ctx context.Context, warning *db.SpamWarning, policy db.EscalationPolicy) (*db.Account, error)
	ConfirmBan(ctx context.Context, accountID int64) error
	RejectBan(ctx context.Context, accountID int64) error
	ListPendingBans(ctx context.Context) ([]*db.Account, error)
}

type verifier interface {
	IsVerified(ctx context.Context, accountID int64) bool
}

type Escalator struct {
	store           escalationStore
	verifier        verifier
	identities      permissions.Identities
	pendingBanAfter int
	logger          *log.Entry
}

func NewEscalator(store escalationStore, verifier verifier, identities permissions.Identities, pendingBanAfter int) *Escalator {
	if pendingBanAfter < 1 {
		pendingBanAfter = 1
	}
	return &Escalator{
		store:           store,
		verifier:        verifier,
		identities:      identities,
		pendingBanAfter: pendingBanAfter,
		logger:          log.WithField("object", "Escalator"),
	}
}

func StateOf(account *db.Account) Escalation {
	if account == nil {
		return Escalation{State: StateClean}
	}
	e := Escalation{AccountID: account.ID, Violations: account.ViolationCount}
	switch {
	case account.Banned:
		e.State = StateBanned
	case account.BanPending:
		e.State = StateBanPending
	case account.ViolationCount > 0:
		e.State = StateWarned
	default:
		e.State = StateClean
	}
	return e
}

// RecordOffense appends a spam warning and advances the account in the same
// transaction. Verified accounts keep counting but never become ban-pending,
// unless they are protected identities.
func (e *Escalator) RecordOffense(ctx context.Context, scopeID, accountID int64, text string) (Escalation, error) {
	entry := e.logger.WithFields(log.Fields{"method": "RecordOffense", "scope_id": scopeID, "account_id": accountID})

	verified := e.verifier != nil && e.verifier.IsVerified(ctx, accountID)
	account, err := e.store.AddSpamWarning(ctx, &db.SpamWarning{
		AccountID: accountID,
		ScopeID:   scopeID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}, db.EscalationPolicy{
		PendingBanAfter: e.pendingBanAfter,
		Exempt:          e.identities.EscalationExempt(accountID, verified),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Error("failed to record offense")
		return Escalation{AccountID: accountID}, errors.Wrap(err, "record offense")
	}

	state := StateOf(account)
	entry.WithFields(log.Fields{"state": state.State, "violations": state.Violations, "verified": verified}).Debug("offense recorded")
	observability.Audit().Info("offense",
		zap.Int64("scope_id", scopeID),
		zap.Int64("account_id", accountID),
		zap.Int("violations", state.Violations),
		zap.String("state", string(state.State)),
	)
	return state, nil
}

func (e *Escalator) ConfirmBan(ctx context.Context, accountID int64) error {
	if err := e.store.ConfirmBan(ctx, accountID); err != nil {
		e.logger.WithField("error", err.Error()).WithField("account_id", accountID).Error("failed to confirm ban")
		return errors.Wrap(err, "confirm ban")
	}
	return nil
}

func (e *Escalator) RejectBan(ctx context.Context, accountID int64) error {
	if err := e.store.RejectBan(ctx, accountID); err != nil {
		e.logger.WithField("error", err.Error()).WithField("account_id", accountID).Error("failed to reject ban")
		return errors.Wrap(err, "reject ban")
	}
	return nil
}

func (e *Escalator) State(ctx context.Context, accountID int64) (Escalation, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Escalation{AccountID: accountID}, errors.Wrap(err, "get account")
	}
	state := StateOf(account)
	state.AccountID = accountID
	return state, nil
}

func (e *Escalator) PendingBans(ctx context.Context) ([]*db.Account, error) {
	accounts, err := e.store.ListPendingBans(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending bans")
	}
	return accounts, nil
}
