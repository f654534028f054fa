package db

import "time"

type SpamWarning struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	ScopeID     int64     `db:"scope_id"`
	Text        string    `db:"text"`
	CreatedAt   time.Time `db:"created_at"`
	IsConfirmed bool      `db:"is_confirmed"`
}

// EscalationPolicy parameterizes the conditional ban-pending update applied
// together with each warning insert.
type EscalationPolicy struct {
	PendingBanAfter int
	Exempt          bool
}
