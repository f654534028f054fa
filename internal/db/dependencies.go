package db

import (
	"context"
	"time"
)

type Client interface {
	Close() error

	UpsertAccount(ctx context.Context, account *Account) (created bool, err error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*Account, error)
	AddSpamWarning(ctx context.Context, warning *SpamWarning, policy EscalationPolicy) (*Account, error)
	ConfirmBan(ctx context.Context, accountID int64) error
	RejectBan(ctx context.Context, accountID int64) error
	ListPendingBans(ctx context.Context) ([]*Account, error)
	SetAdmin(ctx context.Context, accountID int64, isAdmin bool) error
	ListAdminIDs(ctx context.Context) ([]int64, error)

	EnsureScope(ctx context.Context, scope *Scope) (created bool, err error)
	GetScope(ctx context.Context, id int64) (*Scope, error)
	SetScopeActive(ctx context.Context, id int64, active bool) error

	AddMessage(ctx context.Context, msg *MessageRecord) error
	HasMessages(ctx context.Context, scopeID, accountID int64) (bool, error)
	SearchMessages(ctx context.Context, scopeID int64, words []string, limit int) ([]*MessageRecord, error)

	AddBadword(ctx context.Context, entry *BadwordEntry) (bool, error)
	RemoveBadword(ctx context.Context, scopeID int64, term string) (bool, error)
	ListBadwords(ctx context.Context, scopeID int64) ([]*BadwordEntry, error)

	GetVerifiedAccount(ctx context.Context, accountID int64) (*VerifiedAccount, error)
	UpsertVerifiedAccount(ctx context.Context, verified *VerifiedAccount) error

	IncrementStats(ctx context.Context, scopeID int64, delta StatsDelta) error
	GetStats(ctx context.Context, scopeID int64) (*Statistics, error)

	SetAutoClean(ctx context.Context, scopeID int64, enabled bool) (changed bool, err error)
	IsAutoClean(ctx context.Context, scopeID int64) (bool, error)
	ListAutoClean(ctx context.Context) ([]int64, error)

	CreatePrompt(ctx context.Context, prompt *ActionPrompt) error
	GetPrompt(ctx context.Context, scopeID int64, messageID int) (*ActionPrompt, error)
	ClaimPrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64, at time.Time) (bool, error)
	ReleasePrompt(ctx context.Context, scopeID int64, messageID int, requesterID int64) error

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
	DeleteKV(ctx context.Context, key string) error
}
