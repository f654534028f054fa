package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/ngguard/internal/db"
)

const accountColumns = `id, first_name, username, joined_at, violation_count, ban_pending, banned, is_admin, updated_at`

func (s *sqliteClient) UpsertAccount(ctx context.Context, account *db.Account) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()
	joinedAt := account.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts (id, first_name, username, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, account.ID, account.FirstName, account.Username, joinedAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert account: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if inserted == 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET first_name = ?, username = ?, updated_at = ? WHERE id = ?
		`, account.FirstName, account.Username, now, account.ID); err != nil {
			return false, fmt.Errorf("failed to update account: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit account upsert: %w", err)
	}
	return inserted == 1, nil
}

func (s *sqliteClient) GetAccount(ctx context.Context, id int64) (*db.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var account db.Account
	err := s.db.GetContext(ctx, &account, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *sqliteClient) FindAccountByUsername(ctx context.Context, username string) (*db.Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	var account db.Account
	err := s.db.GetContext(ctx, &account, `
		SELECT `+accountColumns+` FROM accounts WHERE username = ? COLLATE NOCASE
		ORDER BY updated_at DESC LIMIT 1
	`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}
	return &account, nil
}

func (s *sqliteClient) SetAdmin(ctx context.Context, accountID int64, isAdmin bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, joined_at, updated_at, is_admin) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_admin = excluded.is_admin, updated_at = excluded.updated_at
	`, accountID, now, now, boolToInt(isAdmin))
	if err != nil {
		return fmt.Errorf("failed to set admin flag: %w", err)
	}
	return nil
}

func (s *sqliteClient) ListAdminIDs(ctx context.Context) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM accounts WHERE is_admin = 1`); err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return ids, nil
}
