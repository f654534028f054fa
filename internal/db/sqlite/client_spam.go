package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

// AddSpamWarning appends the warning and advances the account counter in one
// transaction. The ban-pending flag is decided by the same UPDATE statement, so
// concurrent offenses from different scopes cannot lose an increment.
func (s *sqliteClient) AddSpamWarning(ctx context.Context, warning *db.SpamWarning, policy db.EscalationPolicy) (*db.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	createdAt := warning.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, joined_at, updated_at) VALUES (?, ?, ?)
	`, warning.AccountID, createdAt, createdAt); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO spam_warnings (account_id, scope_id, text, created_at, is_confirmed)
		VALUES (?, ?, ?, ?, 0)
	`, warning.AccountID, warning.ScopeID, warning.Text, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert spam warning: %w", err)
	}
	if warning.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get spam warning id: %w", err)
	}
	warning.CreatedAt = createdAt

	var account db.Account
	err = tx.GetContext(ctx, &account, `
		UPDATE accounts
		SET violation_count = violation_count + 1,
			ban_pending = CASE
				WHEN banned = 0 AND ? = 0 AND violation_count + 1 >= ? THEN 1
				ELSE ban_pending
			END,
			updated_at = ?
		WHERE id = ?
		RETURNING `+accountColumns,
		boolToInt(policy.Exempt), policy.PendingBanAfter, createdAt, warning.AccountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to advance violation counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit spam warning: %w", err)
	}
	return &account, nil
}

func (s *sqliteClient) ConfirmBan(ctx context.Context, accountID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, joined_at, updated_at) VALUES (?, ?, ?)
	`, accountID, now, now); err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET banned = 1, ban_pending = 0, updated_at = ? WHERE id = ?
	`, now, accountID); err != nil {
		return fmt.Errorf("failed to confirm ban: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE spam_warnings SET is_confirmed = 1 WHERE account_id = ? AND is_confirmed = 0
	`, accountID); err != nil {
		return fmt.Errorf("failed to confirm spam warnings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ban confirmation: %w", err)
	}
	return nil
}

func (s *sqliteClient) RejectBan(ctx context.Context, accountID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET violation_count = 0, ban_pending = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to reject ban: %w", err)
	}
	return nil
}

func (s *sqliteClient) ListPendingBans(ctx context.Context) ([]*db.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var accounts []*db.Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT `+accountColumns+` FROM accounts
		WHERE ban_pending = 1 AND is_admin = 0
		ORDER BY updated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bans: %w", err)
	}
	return accounts, nil
}
